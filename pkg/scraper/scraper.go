package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/xhad/assessor/internal/models"
)

type SearcherConfig struct {
	// Endpoint is a DuckDuckGo compatible HTML search endpoint.
	Endpoint       string
	MaxResults     int
	RateLimit      float64 // requests per second
	IgnorePatterns []string
	Timeout        time.Duration
	// FetchPages replaces each snippet with the main content of the page.
	FetchPages   bool
	MaxPageChars int
	UserAgent    string
}

// Searcher queries a web search engine through its HTML interface.
type Searcher struct {
	config  SearcherConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewWithConfig(config SearcherConfig, logger zerolog.Logger) (*Searcher, error) {
	if config.Endpoint == "" {
		config.Endpoint = "https://html.duckduckgo.com/html/"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxResults == 0 {
		config.MaxResults = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 1
	}
	if config.MaxPageChars == 0 {
		config.MaxPageChars = 1500
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (compatible; assessor/1.0)"
	}

	if _, err := url.Parse(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}

	return &Searcher{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:  logger,
	}, nil
}

// Search returns up to MaxResults organic results for query.
func (s *Searcher) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	endpoint, _ := url.Parse(s.config.Endpoint)
	params := endpoint.Query()
	params.Set("q", query)
	endpoint.RawQuery = params.Encode()

	doc, err := s.fetch(ctx, endpoint.String())
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	var results []models.SearchResult
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if sel.HasClass("result--ad") {
			return true
		}
		link := sel.Find(".result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		target := resolveResultURL(href)
		if !s.shouldProcessURL(target) {
			return true
		}

		results = append(results, models.SearchResult{
			Title:   cleanContent(link.Text()),
			URL:     target,
			Snippet: cleanContent(sel.Find(".result__snippet").Text()),
		})
		return len(results) < s.config.MaxResults
	})

	if s.config.FetchPages {
		for i := range results {
			content, err := s.FetchPage(ctx, results[i].URL)
			if err != nil {
				s.logger.Debug().Err(err).Str("url", results[i].URL).Msg("Keeping search snippet")
				continue
			}
			if len(content) > len(results[i].Snippet) {
				results[i].Snippet = content
			}
		}
	}

	s.logger.Debug().Str("query", query).Int("results", len(results)).Msg("Web search finished")
	return results, nil
}

// FetchPage downloads urlStr and returns its main text content.
func (s *Searcher) FetchPage(ctx context.Context, urlStr string) (string, error) {
	doc, err := s.fetch(ctx, urlStr)
	if err != nil {
		return "", err
	}
	content := extractMainContent(doc)
	if r := []rune(content); len(r) > s.config.MaxPageChars {
		content = string(r[:s.config.MaxPageChars])
	}
	return content, nil
}

func (s *Searcher) fetch(ctx context.Context, urlStr string) (*goquery.Document, error) {
	s.logger.Debug().Str("url", urlStr).Msg("Fetching")

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	return goquery.NewDocumentFromReader(resp.Body)
}

func (s *Searcher) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}
	return true
}

// resolveResultURL unwraps DuckDuckGo redirect links of the form
// //duckduckgo.com/l/?uddg=<target>.
func resolveResultURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")

	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

func extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header").Remove()

	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".mw-parser-output",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.First().Text()
			break
		}
	}

	if strings.TrimSpace(content) == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}
