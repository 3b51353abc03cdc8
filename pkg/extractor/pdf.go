// Package extractor turns PDF files into per-page text.
package extractor

import (
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/xhad/docseek/internal/logger"
	"github.com/xhad/docseek/internal/types"
)

// pageSource is the slice of a parsed PDF the extractor needs.
type pageSource interface {
	NumPage() int
	// PageText returns the text of page n (1-based). ok is false for null pages.
	PageText(n int) (text string, ok bool, err error)
}

type PDF struct {
	logger *zap.Logger
}

func New(l *zap.Logger) *PDF {
	return &PDF{logger: logger.OrNop(l)}
}

// Extract returns the text of every readable page of the PDF at path, in
// document order. Pages that fail to extract are logged and skipped. An error
// is returned only when the file cannot be read or is not a parsable PDF.
func (p *PDF) Extract(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", types.ErrIO, path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to stat %s: %v", types.ErrIO, path, err)
	}

	reader, err := openReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", types.ErrExtraction, path, err)
	}

	return p.extractPages(path, reader), nil
}

func (p *PDF) extractPages(path string, src pageSource) []string {
	total := src.NumPage()
	pages := make([]string, 0, total)

	for n := 1; n <= total; n++ {
		text, ok, err := readPage(src, n)
		if err != nil {
			p.logger.Warn("skipping unreadable page",
				zap.String("path", path),
				zap.Int("page", n),
				zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		pages = append(pages, text)
	}

	p.logger.Debug("extracted pages",
		zap.String("path", path),
		zap.Int("pages", len(pages)),
		zap.Int("total", total))
	return pages
}

// readPage isolates a single page so a panic inside the PDF decoder only
// costs that page.
func readPage(src pageSource, n int) (text string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: %v", n, r)
		}
	}()
	return src.PageText(n)
}

func openReader(r io.ReaderAt, size int64) (src pageSource, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("corrupt document: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	return pdfPages{reader: reader}, nil
}

type pdfPages struct {
	reader *pdf.Reader
}

func (p pdfPages) NumPage() int {
	return p.reader.NumPage()
}

func (p pdfPages) PageText(n int) (string, bool, error) {
	page := p.reader.Page(n)
	if page.V.IsNull() {
		return "", false, nil
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}
