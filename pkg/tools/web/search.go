package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/toolbelt/pkg/tools"
)

// BraveSearchURL is the Brave web search endpoint.
const BraveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// SearchTool implements web_search against the Brave Search API.
type SearchTool struct {
	apiKey     string
	endpoint   string
	maxResults int
	userAgent  string
	client     *http.Client
}

// SearchOption configures a SearchTool.
type SearchOption func(*SearchTool)

// WithEndpoint overrides the search endpoint.
func WithEndpoint(endpoint string) SearchOption {
	return func(t *SearchTool) {
		if endpoint != "" {
			t.endpoint = endpoint
		}
	}
}

// WithMaxResults sets the default result count.
func WithMaxResults(n int) SearchOption {
	return func(t *SearchTool) {
		t.maxResults = clampCount(n)
	}
}

// WithSearchClient replaces the HTTP client.
func WithSearchClient(c *http.Client) SearchOption {
	return func(t *SearchTool) {
		t.client = c
	}
}

// NewSearchTool creates web_search. An empty apiKey is accepted; every
// invocation then fails with an external-dependency error.
func NewSearchTool(apiKey string, timeout time.Duration, opts ...SearchOption) *SearchTool {
	t := &SearchTool{
		apiKey:     apiKey,
		endpoint:   BraveSearchURL,
		maxResults: 5,
		userAgent:  DefaultUserAgent,
		client:     newHTTPClient(timeout),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *SearchTool) Name() string { return "web_search" }

func (t *SearchTool) Description() string {
	return "Search the web. Returns titles, URLs, and snippets."
}

func (t *SearchTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"query": tools.Prop("string", "Search query"),
			"count": tools.Prop("integer", "Results (1-10)"),
		},
		[]string{"query"},
	)
}

func (t *SearchTool) SideEffect() tools.SideEffect { return tools.SideEffectNetwork }

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	query, err := tools.RequiredString(args, "query")
	if err != nil {
		return "", nil, err
	}
	count, err := tools.Int(args, "count", t.maxResults)
	if err != nil {
		return "", nil, err
	}
	count = clampCount(count)

	if t.apiKey == "" {
		return "", nil, tools.External(errors.New("missing api key"), "BRAVE_API_KEY not configured")
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", nil, tools.External(err, "failed to build search request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", nil, tools.External(err, "search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", nil, tools.External(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), "search API error")
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil, tools.External(err, "failed to decode search response")
	}

	results := parsed.Web.Results
	if len(results) > count {
		results = results[:count]
	}
	metadata := map[string]interface{}{
		"query":   query,
		"results": len(results),
	}
	return formatResults(query, results), metadata, nil
}

func formatResults(query string, results []braveResult) string {
	if len(results) == 0 {
		return "No results for: " + query
	}
	lines := []string{"Results for: " + query + "\n"}
	for i, r := range results {
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, r.Title, r.URL))
		if r.Description != "" {
			lines = append(lines, "   "+r.Description)
		}
	}
	return strings.Join(lines, "\n")
}

func clampCount(n int) int {
	return min(max(n, 1), 10)
}
