package web

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/entrhq/toolbelt/pkg/tools"
)

const (
	// DefaultFetchMaxChars caps the text field of a web_fetch result.
	DefaultFetchMaxChars = 50000

	minFetchChars = 100
	maxBodyBytes  = 10 << 20
)

// FetchTool implements web_fetch.
type FetchTool struct {
	maxChars  int
	userAgent string
	client    *http.Client
}

// FetchOption configures a FetchTool.
type FetchOption func(*FetchTool)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) FetchOption {
	return func(t *FetchTool) {
		if ua != "" {
			t.userAgent = ua
		}
	}
}

// WithFetchClient replaces the HTTP client.
func WithFetchClient(c *http.Client) FetchOption {
	return func(t *FetchTool) {
		t.client = c
	}
}

// NewFetchTool creates web_fetch with the given default maximum text length.
func NewFetchTool(maxChars int, timeout time.Duration, opts ...FetchOption) *FetchTool {
	if maxChars <= 0 {
		maxChars = DefaultFetchMaxChars
	}
	t := &FetchTool{
		maxChars:  maxChars,
		userAgent: DefaultUserAgent,
		client:    newHTTPClient(timeout),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *FetchTool) Name() string { return "web_fetch" }

func (t *FetchTool) Description() string {
	return "Fetch URL and extract readable content (HTML → markdown/text)."
}

func (t *FetchTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"url":         tools.Prop("string", "URL to fetch"),
			"extractMode": tools.EnumProp("Output format for HTML pages (default: markdown)", string(ModeMarkdown), string(ModeText)),
			"maxChars":    tools.Prop("integer", fmt.Sprintf("Maximum characters of text to return (min %d, default %d)", minFetchChars, t.maxChars)),
		},
		[]string{"url"},
	)
}

func (t *FetchTool) SideEffect() tools.SideEffect { return tools.SideEffectNetwork }

// MaxOutputChars implements tools.Truncator. The text field is cut by
// Execute, so the JSON document itself is never truncated.
func (t *FetchTool) MaxOutputChars() int { return 0 }

// FetchResult is the JSON document returned by web_fetch.
type FetchResult struct {
	URL       string `json:"url"`
	FinalURL  string `json:"finalUrl"`
	Status    int    `json:"status"`
	Extractor string `json:"extractor"`
	Truncated bool   `json:"truncated"`
	Length    int    `json:"length"`
	Text      string `json:"text"`
}

func (t *FetchTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	rawURL, err := tools.RequiredString(args, "url")
	if err != nil {
		return "", nil, err
	}
	target, err := validateURL(rawURL)
	if err != nil {
		return "", nil, err
	}

	mode := ExtractMode(tools.String(args, "extractMode"))
	if mode == "" {
		mode = ModeMarkdown
	}
	maxChars, err := tools.Int(args, "maxChars", t.maxChars)
	if err != nil {
		return "", nil, err
	}
	maxChars = max(maxChars, minFetchChars)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", nil, tools.External(err, "failed to build request")
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", nil, tools.External(err, "fetch %s failed", rawURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", nil, tools.External(err, "failed to read response from %s", rawURL)
	}

	finalURL := resp.Request.URL
	text, extractor := render(body, resp.Header.Get("Content-Type"), mode, finalURL)

	runes := []rune(text)
	result := FetchResult{
		URL:       rawURL,
		FinalURL:  finalURL.String(),
		Status:    resp.StatusCode,
		Extractor: extractor,
		Truncated: len(runes) > maxChars,
		Length:    min(len(runes), maxChars),
		Text:      text,
	}
	if result.Truncated {
		result.Text = string(runes[:maxChars])
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", nil, tools.External(err, "failed to encode result")
	}

	metadata := map[string]interface{}{
		"url":       rawURL,
		"status":    resp.StatusCode,
		"extractor": extractor,
		"truncated": result.Truncated,
	}
	return string(out), metadata, nil
}

func validateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, tools.InvalidArguments("URL validation failed: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, tools.InvalidArguments("URL validation failed: only http/https allowed, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return nil, tools.InvalidArguments("URL validation failed: missing domain")
	}
	return u, nil
}

// render converts a response body to text and names the extractor used.
func render(body []byte, contentType string, mode ExtractMode, base *url.URL) (string, string) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var v interface{}
		if err := json.Unmarshal(body, &v); err == nil {
			if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
				return string(pretty), "json"
			}
		}
		return string(body), "raw"
	case mediaType == "text/html" || mediaType == "application/xhtml+xml" || looksLikeHTML(body):
		doc, err := Extract(string(body), mode, base)
		if err != nil {
			return string(body), "raw"
		}
		text := doc.Content
		if doc.Title != "" {
			text = "# " + doc.Title + "\n\n" + text
		}
		return text, "readability"
	default:
		return string(body), "raw"
	}
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 256)])))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}
