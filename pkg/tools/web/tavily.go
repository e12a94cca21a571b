package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/entrhq/toolbelt/pkg/tools"
)

// TavilySearchURL is the Tavily search endpoint.
const TavilySearchURL = "https://api.tavily.com/search"

const (
	tavilySnippetChars = 200
	tavilyRawChars     = 300
	tavilyMaxImages    = 5
)

// TavilyTool implements tavily_search: search with an AI answer summary
// and scored results.
type TavilyTool struct {
	apiKey     string
	endpoint   string
	maxResults int
	client     *http.Client
}

// TavilyOption configures a TavilyTool.
type TavilyOption func(*TavilyTool)

// WithTavilyEndpoint overrides the search endpoint.
func WithTavilyEndpoint(endpoint string) TavilyOption {
	return func(t *TavilyTool) {
		if endpoint != "" {
			t.endpoint = endpoint
		}
	}
}

// WithTavilyClient replaces the HTTP client.
func WithTavilyClient(c *http.Client) TavilyOption {
	return func(t *TavilyTool) {
		t.client = c
	}
}

// NewTavilyTool creates tavily_search. Like web_search, an empty apiKey
// makes every invocation fail with an external-dependency error.
func NewTavilyTool(apiKey string, maxResults int, timeout time.Duration, opts ...TavilyOption) *TavilyTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	t := &TavilyTool{
		apiKey:     apiKey,
		endpoint:   TavilySearchURL,
		maxResults: clampCount(maxResults),
		client:     newHTTPClient(timeout),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TavilyTool) Name() string { return "tavily_search" }

func (t *TavilyTool) Description() string {
	return "AI-optimized web search. Returns an answer summary and scored results (title, URL, content). Use topic \"news\" for the last 7 days."
}

func (t *TavilyTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"query":               tools.Prop("string", "Search query"),
			"depth":               tools.EnumProp("Search depth (default: basic)", "basic", "advanced"),
			"topic":               tools.EnumProp("Topic (default: general)", "general", "news"),
			"max_results":         tools.Prop("integer", "Number of results (1-10)"),
			"include_domains":     tools.Prop("array", "Only search these domains"),
			"exclude_domains":     tools.Prop("array", "Never return these domains"),
			"include_images":      tools.Prop("boolean", "Include related image URLs"),
			"include_raw_content": tools.Prop("boolean", "Include the raw page content of each result"),
		},
		[]string{"query"},
	)
}

func (t *TavilyTool) SideEffect() tools.SideEffect { return tools.SideEffectNetwork }

type tavilyRequest struct {
	Query             string   `json:"query"`
	SearchDepth       string   `json:"search_depth"`
	Topic             string   `json:"topic"`
	MaxResults        int      `json:"max_results"`
	IncludeAnswer     bool     `json:"include_answer"`
	IncludeRawContent bool     `json:"include_raw_content"`
	IncludeImages     bool     `json:"include_images"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
	ExcludeDomains    []string `json:"exclude_domains,omitempty"`
}

type tavilyResponse struct {
	Answer  string         `json:"answer"`
	Results []tavilyResult `json:"results"`
	Images  []string       `json:"images"`
}

type tavilyResult struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content"`
	Score      float64 `json:"score"`
}

func (t *TavilyTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	query, err := tools.RequiredString(args, "query")
	if err != nil {
		return "", nil, err
	}
	req := tavilyRequest{
		Query:         query,
		SearchDepth:   tools.String(args, "depth"),
		Topic:         tools.String(args, "topic"),
		IncludeAnswer: true,
	}
	if req.SearchDepth == "" {
		req.SearchDepth = "basic"
	}
	if req.Topic == "" {
		req.Topic = "general"
	}
	if req.MaxResults, err = tools.Int(args, "max_results", t.maxResults); err != nil {
		return "", nil, err
	}
	req.MaxResults = clampCount(req.MaxResults)
	if req.IncludeImages, err = tools.Bool(args, "include_images", false); err != nil {
		return "", nil, err
	}
	if req.IncludeRawContent, err = tools.Bool(args, "include_raw_content", false); err != nil {
		return "", nil, err
	}
	if req.IncludeDomains, err = tools.Strings(args, "include_domains"); err != nil {
		return "", nil, err
	}
	if req.ExcludeDomains, err = tools.Strings(args, "exclude_domains"); err != nil {
		return "", nil, err
	}

	if t.apiKey == "" {
		return "", nil, tools.External(errors.New("missing api key"), "TAVILY_API_KEY not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", nil, tools.External(err, "failed to encode search request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", nil, tools.External(err, "failed to build search request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", nil, tools.External(err, "tavily request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", nil, tools.External(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "tavily API error")
	}

	var parsed tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil, tools.External(err, "failed to decode tavily response")
	}

	metadata := map[string]interface{}{
		"query":      query,
		"results":    len(parsed.Results),
		"has_answer": parsed.Answer != "",
	}
	return formatTavily(req, parsed), metadata, nil
}

func formatTavily(req tavilyRequest, resp tavilyResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tavily results for: %s\n", req.Query)
	fmt.Fprintf(&b, "Depth: %s, Topic: %s, Results: %d\n", req.SearchDepth, req.Topic, req.MaxResults)

	if resp.Answer != "" {
		fmt.Fprintf(&b, "\nAnswer:\n%s\n", resp.Answer)
	}

	if len(resp.Results) > 0 {
		b.WriteString("\nResults:\n")
		for i, r := range resp.Results {
			title := r.Title
			if title == "" {
				title = "No title"
			}
			fmt.Fprintf(&b, "%d. %s\n   %s\n   Score: %.3f\n", i+1, title, r.URL, r.Score)
			if r.Content != "" {
				fmt.Fprintf(&b, "   %s\n", clip(r.Content, tavilySnippetChars))
			}
			if req.IncludeRawContent && r.RawContent != "" {
				fmt.Fprintf(&b, "   Raw: %s\n", clip(r.RawContent, tavilyRawChars))
			}
		}
	} else if resp.Answer == "" {
		b.WriteString("\nNo results.\n")
	}

	if req.IncludeImages && len(resp.Images) > 0 {
		b.WriteString("\nImages:\n")
		for _, img := range resp.Images[:min(len(resp.Images), tavilyMaxImages)] {
			fmt.Fprintf(&b, "   %s\n", img)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
