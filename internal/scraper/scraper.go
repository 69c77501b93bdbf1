// Package scraper fetches a chapter from a URL and reduces it to clean text.
//
// Pages are fetched over plain HTTP first. PDFs are read directly. HTML is
// parsed, stripped of page chrome and searched with site-specific then
// generic selectors. When nothing usable is found a headless browser
// renders the page and extraction is retried.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const (
	// DefaultUserAgent mimics a desktop browser; several book sites refuse
	// obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// LatestScrapeFile is written under the output dir after each success.
	LatestScrapeFile = "latest_scrape.json"

	maxBodyBytes = 32 << 20
)

// Status values for Result.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Method values for Result.
const (
	MethodHTTP    = "http"
	MethodPDF     = "pdf"
	MethodBrowser = "browser"
)

// Format selects the shape of Result.Content.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

// Result is the outcome of a scrape. Errors are reported in-band.
type Result struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
	Status    string `json:"status"`
	Method    string `json:"method,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OK reports whether the scrape produced content.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Options configures a Scraper.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Format    Format
	// OutputDir receives latest_scrape.json; empty disables it.
	OutputDir string
	// Renderer is the browser fallback; nil disables it.
	Renderer Renderer
}

// Scraper fetches and extracts chapter text.
type Scraper struct {
	httpClient *http.Client
	opts       Options
	policy     *bluemonday.Policy
	md         *converter.Converter
	logger     *slog.Logger
}

// New creates a Scraper.
func New(opts Options) *Scraper {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Format == "" {
		opts.Format = FormatText
	}
	return &Scraper{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		policy:     bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: slog.Default(),
	}
}

// ValidateURL checks that raw is an absolute http(s) URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return u, nil
}

// Scrape fetches rawURL and extracts its main text. It never panics and
// never returns a Go error; failures come back with Status "error".
func (s *Scraper) Scrape(ctx context.Context, rawURL string) Result {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return errorResult(rawURL, err.Error())
	}

	res, err := s.scrapeHTTP(ctx, u)
	if err == nil {
		return s.finish(res)
	}
	if s.opts.Renderer == nil || ctx.Err() != nil {
		return errorResult(u.String(), err.Error())
	}

	s.logger.Info("falling back to browser rendering", "url", u.String(), "error", err)
	res, berr := s.scrapeBrowser(ctx, u)
	if berr != nil {
		return errorResult(u.String(), fmt.Sprintf("all scraping methods failed: %v; browser: %v", err, berr))
	}
	return s.finish(res)
}

func (s *Scraper) scrapeHTTP(ctx context.Context, u *url.URL) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("network error: HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if isPDF(contentType, u) {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return Result{}, fmt.Errorf("reading body: %w", err)
		}
		text, err := extractPDF(data)
		if err != nil {
			return Result{}, err
		}
		text = CleanText(text)
		if text == "" {
			return Result{}, errNoContent
		}
		return Result{URL: u.String(), Title: pdfTitle(u), Content: text, Method: MethodPDF}, nil
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), contentType)
	if err != nil {
		return Result{}, fmt.Errorf("decoding body: %w", err)
	}
	doc, err := html.Parse(body)
	if err != nil {
		return Result{}, fmt.Errorf("parsing html: %w", err)
	}
	return s.fromDocument(doc, u, MethodHTTP)
}

func (s *Scraper) scrapeBrowser(ctx context.Context, u *url.URL) (Result, error) {
	page, err := s.opts.Renderer.Render(ctx, u.String())
	if err != nil {
		return Result{}, err
	}
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return Result{}, fmt.Errorf("parsing rendered html: %w", err)
	}
	return s.fromDocument(doc, u, MethodBrowser)
}

func (s *Scraper) fromDocument(doc *html.Node, u *url.URL, method string) (Result, error) {
	ex, err := extractContent(doc, u.Host)
	if err != nil {
		return Result{}, err
	}

	content := ex.text
	if s.opts.Format == FormatMarkdown {
		md, err := s.toMarkdown(ex.node, u)
		if err != nil {
			s.logger.Warn("markdown conversion failed, keeping plain text", "url", u.String(), "error", err)
		} else {
			content = md
		}
	}
	return Result{URL: u.String(), Title: ex.title, Content: content, Method: method}, nil
}

func (s *Scraper) toMarkdown(n *html.Node, u *url.URL) (string, error) {
	clean := s.policy.Sanitize(renderNode(n))
	md, err := s.md.ConvertString(clean, converter.WithDomain(u.Scheme+"://"+u.Host))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

// finish stamps a successful result and records it as the latest scrape.
func (s *Scraper) finish(r Result) Result {
	r.Status = StatusSuccess
	r.WordCount = len(strings.Fields(r.Content))
	if s.opts.OutputDir != "" {
		if err := writeLatest(s.opts.OutputDir, r); err != nil {
			s.logger.Warn("could not write latest scrape", "dir", s.opts.OutputDir, "error", err)
		}
	}
	return r
}

func writeLatest(dir string, r Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, LatestScrapeFile), b, 0o644)
}

// LoadLatest reads the last successful scrape from dir.
func LoadLatest(dir string) (Result, error) {
	b, err := os.ReadFile(filepath.Join(dir, LatestScrapeFile))
	if err != nil {
		return Result{}, err
	}
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return Result{}, fmt.Errorf("decoding %s: %w", LatestScrapeFile, err)
	}
	return r, nil
}

func errorResult(rawURL, msg string) Result {
	return Result{
		URL:     rawURL,
		Title:   "Error",
		Content: "Error scraping content: " + msg,
		Status:  StatusError,
		Error:   msg,
	}
}

func pdfTitle(u *url.URL) string {
	name := filepath.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return u.Host
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
