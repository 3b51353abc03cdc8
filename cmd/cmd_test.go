package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docseek/internal/models"
	"github.com/xhad/docseek/pkg/engine"
)

func init() {
	color.NoColor = true
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "hello world", 20, "hello world"},
		{"whitespace collapsed", "hello \n\t world", 20, "hello world"},
		{"cut on word", "alpha beta gamma delta", 13, "alpha beta…"},
		{"multibyte", "héllo wörld", 5, "héllo…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, snippet(tt.in, tt.n))
		})
	}
}

func TestSummarize(t *testing.T) {
	results := []engine.IndexResult{
		{Path: "a.pdf", Status: engine.StatusIndexed, Chunks: 4},
		{Path: "b.pdf", Status: engine.StatusIndexed, Chunks: 1},
		{Path: "a-copy.pdf", Status: engine.StatusDuplicate},
		{Path: "scan.pdf", Status: engine.StatusEmpty},
		{Path: "broken.pdf", Status: engine.StatusFailed, Err: errors.New("boom")},
	}

	assert.Equal(t, "2 indexed, 1 duplicate, 1 empty, 1 failed", summarize(results).String())
	assert.Equal(t, "0 indexed, 0 duplicate, 0 empty, 0 failed", summarize(nil).String())
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		result engine.IndexResult
		want   string
	}{
		{engine.IndexResult{Path: "a.pdf", Status: engine.StatusIndexed, Chunks: 3}, "✓ a.pdf (3 chunks)"},
		{engine.IndexResult{Path: "a.pdf", Status: engine.StatusDuplicate}, "= a.pdf already indexed"},
		{engine.IndexResult{Path: "a.pdf", Status: engine.StatusEmpty}, "- a.pdf has no extractable text"},
		{engine.IndexResult{Path: "a.pdf", Status: engine.StatusFailed, Err: errors.New("boom")}, "✗ a.pdf: boom"},
	}

	for _, tt := range tests {
		t.Run(string(tt.result.Status), func(t *testing.T) {
			assert.Equal(t, tt.want, statusLine(tt.result))
		})
	}
}

var results = []models.SearchResult{
	{
		Content: "Postgres stores the vectors",
		Score:   0.9,
		Metadata: models.Metadata{
			FileName:  "guide",
			FileHash:  "abc",
			Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	},
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, results)
	assert.Equal(t, "[1] 0.9000 guide\n    Postgres stores the vectors\n\n", buf.String())

	buf.Reset()
	printResults(&buf, nil)
	assert.Equal(t, "No results found.\n", buf.String())
}

func TestPrintResultsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResultsJSON(&buf, results))

	var got []models.SearchResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, results, got)
	assert.Contains(t, buf.String(), `"file_hash": "abc"`)
}

func TestRootCommand(t *testing.T) {
	root := newRootCMD()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"index", "search", "query", "chat", "stats", "serve"}, names)
}

func TestArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"index without input", []string{"index"}, "at least one path or --url"},
		{"search without query", []string{"search"}, "requires at least 1 arg"},
		{"query without prompt", []string{"query"}, "requires at least 1 arg"},
		{"stats with args", []string{"stats", "extra"}, "unknown command"},
		{"unknown command", []string{"reindex"}, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCMD()
			root.SetArgs(tt.args)
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)

			err := root.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
