package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultsPage(base string) string {
	return fmt.Sprintf(`<html><body>
<div class="result result--ad"><a class="result__a" href="https://ads.example.com/buy">Buy now</a><a class="result__snippet">Sponsored</a></div>
<div class="result"><a class="result__a" href="//duckduckgo.com/l/?uddg=%[1]s&amp;rut=abc">Photosynthesis   overview</a>
  <a class="result__snippet">Plants convert <b>light</b> into chemical energy.</a></div>
<div class="result"><a class="result__a" href="%[2]s/missing">Calvin cycle</a><a class="result__snippet">Carbon fixation.</a></div>
<div class="result"><a class="result__a" href="%[2]s/private/notes">Private notes</a><a class="result__snippet">Hidden.</a></div>
<div class="result"><a class="result__a" href="%[2]s/chlorophyll">Chlorophyll</a><a class="result__snippet">Pigments.</a></div>
</body></html>`, url.QueryEscape(base+"/page"), base)
}

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	var queries []string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	mux.HandleFunc("/html/", func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		fmt.Fprint(w, resultsPage(srv.URL))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><script>var x = 1;</script></head><body><nav>Home</nav>
<main><h1>Photosynthesis</h1><p>Light reactions happen in the thylakoid membranes and produce ATP and NADPH for the Calvin cycle.</p></main>
<footer>Privacy Policy</footer></body></html>`)
	})
	mux.HandleFunc("/broken/html/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	t.Cleanup(srv.Close)
	return srv, &queries
}

func newTestSearcher(t *testing.T, endpoint string, fetch bool) *Searcher {
	s, err := NewWithConfig(SearcherConfig{
		Endpoint:       endpoint,
		MaxResults:     3,
		RateLimit:      100,
		IgnorePatterns: []string{"/private/"},
		FetchPages:     fetch,
		Timeout:        5 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSearch(t *testing.T) {
	srv, queries := newTestServer(t)
	s := newTestSearcher(t, srv.URL+"/html/", false)

	results, err := s.Search(context.Background(), "photosynthesis light energy")
	require.NoError(t, err)

	assert.Equal(t, []string{"photosynthesis light energy"}, *queries)
	require.Len(t, results, 3)
	assert.Equal(t, "Photosynthesis overview", results[0].Title)
	assert.Equal(t, srv.URL+"/page", results[0].URL)
	assert.Equal(t, "Plants convert light into chemical energy.", results[0].Snippet)
	assert.Equal(t, srv.URL+"/missing", results[1].URL)
	// the ad and the ignored url are skipped
	assert.Equal(t, srv.URL+"/chlorophyll", results[2].URL)
}

func TestSearchFetchPages(t *testing.T) {
	srv, _ := newTestServer(t)
	s := newTestSearcher(t, srv.URL+"/html/", true)

	results, err := s.Search(context.Background(), "photosynthesis")
	require.NoError(t, err)

	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Snippet, "thylakoid membranes")
	assert.NotContains(t, results[0].Snippet, "var x")
	// unreachable pages keep their snippet
	assert.Equal(t, "Carbon fixation.", results[1].Snippet)
}

func TestSearchErrorStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	s := newTestSearcher(t, srv.URL+"/broken/html/", false)

	_, err := s.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSearchEmptyQuery(t *testing.T) {
	s := newTestSearcher(t, "http://127.0.0.1:1/html/", false)
	results, err := s.Search(context.Background(), "   ")
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchCancelled(t *testing.T) {
	srv, _ := newTestServer(t)
	s := newTestSearcher(t, srv.URL+"/html/", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Search(ctx, "photosynthesis")
	assert.Error(t, err)
}

func TestResolveResultURL(t *testing.T) {
	assert.Equal(t, "https://en.wikipedia.org/wiki/Entropy", resolveResultURL("//duckduckgo.com/l/?uddg=https%3A%2F%2Fen.wikipedia.org%2Fwiki%2FEntropy&rut=1"))
	assert.Equal(t, "https://example.com/a", resolveResultURL("https://example.com/a"))
}

func TestShouldProcessURL(t *testing.T) {
	s := newTestSearcher(t, "https://html.duckduckgo.com/html/", false)

	tests := []struct {
		url      string
		expected bool
	}{
		{"https://example.com/docs/", true},
		{"http://example.com/page.html", true},
		{"https://example.com/private/page.html", false},
		{"ftp://example.com/file", false},
		{"javascript:void(0)", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, s.shouldProcessURL(tt.url), tt.url)
	}
}

func TestExtractMainContent(t *testing.T) {
	html := `<html><body><header>Menu</header><article>Entropy   measures disorder. Accept Cookies</article></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	assert.Equal(t, "Entropy measures disorder.", extractMainContent(doc))
}
