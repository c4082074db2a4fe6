package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/xhad/ragline/internal/types"
	"github.com/xhad/ragline/pkg/processor"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	MaxPages          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	OnProgress        func(url string)
	Logger            *slog.Logger
}

// Page is the readable text of one crawled page.
type Page struct {
	URL   string
	Title string
	Text  string
	Depth int
}

type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	limiter  *rate.Limiter
	baseHost string
	logger   *slog.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.MaxPages == 0 {
		config.MaxPages = 200
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base url: %w", types.ErrInput, err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: base url %q has no host", types.ErrInput, config.BaseURL)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		logger:   config.Logger.With("component", "scraper", "host", parsedURL.Host),
	}, nil
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
	ext := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(ext, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

// mainContent narrows the page to its main content area when it has one.
func mainContent(doc *goquery.Document) *goquery.Selection {
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			return selected.First()
		}
	}
	return doc.Find("body")
}

type queued struct {
	url   string
	depth int
}

// Scrape crawls breadth-first from startURL, staying on the base host. A
// failure on the start page is returned; failures on linked pages are logged
// and skipped.
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]Page, error) {
	start, err := normalize(startURL)
	if err != nil || !s.shouldProcessURL(start) {
		return nil, fmt.Errorf("%w: cannot crawl %q", types.ErrInput, startURL)
	}

	var pages []Page
	visited := map[string]bool{start: true}
	queue := []queued{{url: start}}

	for len(queue) > 0 && len(pages) < s.config.MaxPages {
		next := queue[0]
		queue = queue[1:]

		page, links, err := s.fetch(ctx, next.url)
		if err != nil {
			if ctx.Err() != nil {
				return pages, ctx.Err()
			}
			if next.depth == 0 {
				return nil, fmt.Errorf("%w: failed to fetch %s: %w", types.ErrInput, next.url, err)
			}
			s.logger.WarnContext(ctx, "skipping page", "url", next.url, "error", err)
			continue
		}

		page.Depth = next.depth
		pages = append(pages, page)
		if s.config.OnProgress != nil {
			s.config.OnProgress(next.url)
		}

		if next.depth >= s.config.MaxDepth {
			continue
		}
		for _, link := range links {
			if visited[link] || !s.shouldProcessURL(link) {
				continue
			}
			visited[link] = true
			queue = append(queue, queued{url: link, depth: next.depth + 1})
		}
	}

	s.logger.DebugContext(ctx, "crawl finished", "pages", len(pages))
	return pages, nil
}

func (s *Scraper) fetch(ctx context.Context, urlStr string) (Page, []string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Page{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return Page{}, nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Page{}, nil, err
	}

	base := resp.Request.URL
	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		if abs, err := normalize(base.ResolveReference(ref).String()); err == nil {
			links = append(links, abs)
		}
	})

	title := strings.TrimSpace(doc.Find("title").First().Text())
	processor.StripBoilerplate(doc)

	return Page{
		URL:   urlStr,
		Title: title,
		Text:  processor.SelectionText(mainContent(doc)),
	}, links, nil
}

// normalize drops fragments so anchors on one page are crawled once.
func normalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	return u.String(), nil
}

// Corpus joins the page texts into a blank-line separated corpus.
func Corpus(pages []Page) string {
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, processor.ParagraphSeparator)
}
