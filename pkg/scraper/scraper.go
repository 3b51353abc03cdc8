// Package scraper discovers PDF documents on a website and downloads them
// for indexing.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/docseek/internal/logger"
	"github.com/xhad/docseek/internal/types"
	"github.com/xhad/docseek/pkg/fingerprint"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string // page extensions worth following
	Timeout           time.Duration
	DownloadDir       string
	OnProgress        func(url string)
	Logger            *zap.Logger
}

type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	pdfs     []string
	seenPDF  map[string]bool
	limiter  *rate.Limiter
	baseHost string
	logger   *zap.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm"}
	}
	if config.DownloadDir == "" {
		config.DownloadDir = os.TempDir()
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base URL: %v", types.ErrInvalidInput, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: base URL must be http or https: %s", types.ErrInvalidInput, config.BaseURL)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		logger:   logger.OrNop(config.Logger),
	}, nil
}

// Crawl walks same-host HTML pages from BaseURL up to MaxDepth links
// deep, downloads every linked PDF into DownloadDir and returns the local
// paths in discovery order. A BaseURL that itself names a PDF is
// downloaded directly. Only a failure to fetch BaseURL is returned as an
// error; failures further down are logged and skipped.
func (s *Scraper) Crawl(ctx context.Context) ([]string, error) {
	s.visited = make(map[string]bool)
	s.seenPDF = make(map[string]bool)
	s.pdfs = nil

	start := normalize(s.config.BaseURL)
	direct := isPDFURL(start)
	if direct {
		s.pdfs = append(s.pdfs, start)
	} else if err := s.scrapeRecursive(ctx, start, 0); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.config.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating download dir: %v", types.ErrIO, err)
	}

	var paths []string
	for _, pdfURL := range s.pdfs {
		local, err := s.download(ctx, pdfURL)
		if err != nil {
			if ctx.Err() != nil {
				return paths, ctx.Err()
			}
			if direct {
				return nil, err
			}
			s.logger.Warn("skipping document", zap.String("url", pdfURL), zap.Error(err))
			continue
		}
		paths = append(paths, local)
	}
	return paths, nil
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}

	// Check if URL is from the same host
	if parsedURL.Host != s.baseHost {
		return false
	}

	// Check extensions
	ext := strings.ToLower(path.Ext(parsedURL.Path))
	validExt := ext == ""
	for _, allowedExt := range s.config.AllowedExtensions {
		if ext == allowedExt {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	return !s.ignored(urlStr)
}

func (s *Scraper) ignored(urlStr string) bool {
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return true
		}
	}
	return false
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}

	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	resp, err := s.get(ctx, urlStr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %v", types.ErrExtraction, urlStr, err)
	}

	base := resp.Request.URL
	var pages []string

	// Find and follow links
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			s.logger.Debug("error parsing URL", zap.String("href", href), zap.Error(err))
			return
		}
		absolute := normalize(base.ResolveReference(ref).String())

		if isPDFURL(absolute) {
			if !s.seenPDF[absolute] && !s.ignored(absolute) {
				s.seenPDF[absolute] = true
				s.pdfs = append(s.pdfs, absolute)
			}
			return
		}
		pages = append(pages, absolute)
	})

	for _, page := range pages {
		if err := s.scrapeRecursive(ctx, page, depth+1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("error scraping URL", zap.String("url", page), zap.Error(err))
		}
	}

	return nil
}

// download stores pdfURL in DownloadDir. The file only appears under its
// final name once fully written.
func (s *Scraper) download(ctx context.Context, pdfURL string) (string, error) {
	if s.config.OnProgress != nil {
		s.config.OnProgress(pdfURL)
	}

	resp, err := s.get(ctx, pdfURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	dest := filepath.Join(s.config.DownloadDir, localName(pdfURL))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	tmp, err := os.CreateTemp(s.config.DownloadDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: downloading %s: %v", types.ErrIO, pdfURL, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrIO, err)
	}

	s.logger.Debug("downloaded document", zap.String("url", pdfURL), zap.String("path", dest))
	return dest, nil
}

func (s *Scraper) get(ctx context.Context, urlStr string) (*http.Response, error) {
	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", types.ErrIO, urlStr, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: received status code %d for URL: %s", types.ErrIO, resp.StatusCode, urlStr)
	}
	return resp, nil
}

func isPDFURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

// normalize drops the fragment so anchors on one page are visited once.
func normalize(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}
	u.Fragment = ""
	return u.String()
}

// localName keeps the URL's last path element as the file name and puts it
// in a directory named by a digest of the full URL, so equal names from
// different places do not collide.
func localName(pdfURL string) string {
	name := "document.pdf"
	if u, err := url.Parse(pdfURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != ".." && base != "/" {
			name = base
		}
	}
	digest, err := fingerprint.Reader(strings.NewReader(pdfURL))
	if err != nil {
		return name
	}
	return filepath.Join(digest[:12], name)
}
