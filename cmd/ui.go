package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/docseek/internal/models"
	"github.com/xhad/docseek/pkg/engine"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// statusLine renders one index result for the terminal.
func statusLine(r engine.IndexResult) string {
	switch r.Status {
	case engine.StatusIndexed:
		return color.GreenString("✓ %s (%d chunks)", r.Path, r.Chunks)
	case engine.StatusDuplicate:
		return color.YellowString("= %s already indexed", r.Path)
	case engine.StatusEmpty:
		return color.CyanString("- %s has no extractable text", r.Path)
	default:
		return color.RedString("✗ %s: %v", r.Path, r.Err)
	}
}

type indexSummary map[engine.Status]int

func summarize(results []engine.IndexResult) indexSummary {
	s := indexSummary{}
	for _, r := range results {
		s[r.Status]++
	}
	return s
}

func (s indexSummary) String() string {
	return fmt.Sprintf("%d indexed, %d duplicate, %d empty, %d failed",
		s[engine.StatusIndexed], s[engine.StatusDuplicate], s[engine.StatusEmpty], s[engine.StatusFailed])
}

func printResultsJSON(w io.Writer, results []models.SearchResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printResults(w io.Writer, results []models.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	for i, r := range results {
		fmt.Fprintf(w, "%s %s %s\n",
			color.CyanString("[%d]", i+1),
			color.GreenString("%.4f", r.Score),
			color.New(color.Bold).Sprint(r.Metadata.FileName))
		fmt.Fprintf(w, "    %s\n\n", snippet(r.Content, 240))
	}
}

// snippet shortens s to at most n runes on a word boundary.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	cut := string(runes[:n])
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
