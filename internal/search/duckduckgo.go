package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"
	defaultMaxResults    = 5
	maxResultsCap        = 20
	searchTimeout        = 15 * time.Second
	maxBodyBytes         = 1 << 20
	duckRedirectPrefix   = "//duckduckgo.com/l/?uddg="
)

// DuckDuckGo searches the DuckDuckGo HTML endpoint. No API key is needed.
type DuckDuckGo struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// NewDuckDuckGo creates a client. baseURL may be empty to use the public
// endpoint; maxResults <= 0 selects the default.
func NewDuckDuckGo(baseURL string, maxResults int) *DuckDuckGo {
	if baseURL == "" {
		baseURL = defaultDuckDuckGoURL
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxResultsCap {
		maxResults = maxResultsCap
	}
	return &DuckDuckGo{
		baseURL:    baseURL,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: searchTimeout},
	}
}

// Search returns up to maxResults results, or an empty slice on any failure.
func (d *DuckDuckGo) Search(ctx context.Context, query string) []Result {
	results, err := d.search(ctx, query)
	if err != nil {
		slog.Warn("search failed, continuing without results", "query", query, "error", err)
		return []Result{}
	}
	return results
}

func (d *DuckDuckGo) search(ctx context.Context, query string) ([]Result, error) {
	searchURL := d.baseURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.5")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}
	return parseResults(string(body), d.maxResults)
}

func parseResults(content string, maxResults int) ([]Result, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parsing search html: %w", err)
	}

	results := []Result{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if r := extractResult(n); r.URL != "" && r.Title != "" {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractResult(n *html.Node) Result {
	var r Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				r.URL = attr(n, "href")
				r.Title = text(n)
			case hasClass(n, "result__snippet"):
				r.Snippet = text(n)
			case hasClass(n, "result__url"):
				r.Source = text(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	r.URL = unwrapRedirect(r.URL)
	if r.Source == "" {
		if u, err := url.Parse(r.URL); err == nil {
			r.Source = u.Host
		}
	}
	return r
}

func unwrapRedirect(raw string) string {
	if !strings.HasPrefix(raw, duckRedirectPrefix) {
		return raw
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(raw, duckRedirectPrefix))
	if err != nil {
		return raw
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
