package processor

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/xhad/docseek/internal/logger"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 0
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// Separators are tried in order when looking for a break point.
	Separators []string
	Logger     *zap.Logger
	// Splitter overrides the recursive character splitter built from the
	// fields above.
	Splitter textsplitter.TextSplitter
}

// SplitResult separates "nothing to index" (no chunks, nil Err) from a
// failure that was logged and suppressed (no chunks, non-nil Err).
type SplitResult struct {
	Chunks []string
	Err    error
}

func (r SplitResult) Empty() bool {
	return len(r.Chunks) == 0
}

type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.TextSplitter
	logger   *zap.Logger
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = DefaultChunkOverlap
	}
	if len(config.Separators) == 0 {
		config.Separators = []string{"\n\n", "\n", " ", ""}
	}

	splitter := config.Splitter
	if splitter == nil {
		splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
			textsplitter.WithSeparators(config.Separators),
		)
	}

	return Processor{
		config:   config,
		splitter: splitter,
		logger:   logger.OrNop(config.Logger),
	}
}

// Split chunks every page independently, so a chunk never spans two pages,
// and returns the chunks in page order. It never panics or returns an error
// directly: failures are logged and reported through SplitResult.Err.
func (p *Processor) Split(pages []string) (result SplitResult) {
	defer func() {
		if r := recover(); r != nil {
			result = p.fail(fmt.Errorf("splitter panic: %v", r))
		}
	}()

	var chunks []string
	for i, page := range pages {
		clean := sanitize(page)
		if strings.TrimSpace(clean) == "" {
			continue
		}

		parts, err := p.splitter.SplitText(clean)
		if err != nil {
			return p.fail(fmt.Errorf("failed to split page %d: %w", i+1, err))
		}

		for _, part := range parts {
			if chunk := collapseWhitespace(part); chunk != "" {
				chunks = append(chunks, chunk)
			}
		}
	}

	return SplitResult{Chunks: chunks}
}

func (p *Processor) fail(err error) SplitResult {
	p.logger.Error("error while splitting text", zap.Error(err))
	return SplitResult{Err: err}
}

// sanitize replaces NUL and other non-whitespace control characters with
// U+FFFD and drops invalid UTF-8. Postgres text columns reject both.
func sanitize(s string) string {
	s = sanitizeUTF8(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return utf8.RuneError
		}
		return r
	}, s)
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}

// Replace multiple spaces with single space
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
