package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/toolbelt/pkg/tools"
)

func tavilyServer(t *testing.T, got *tavilyRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tvly-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"answer":"Go 1.25 is current.","results":[`+
			`{"title":"Go release notes","url":"https://go.dev/doc/go1.25","content":"%s","score":0.91234},`+
			`{"title":"","url":"https://example.com","content":"","score":0.5}],`+
			`"images":["https://img/1.png"]}`, strings.Repeat("x", 250))
	}))
}

func TestTavilyTool(t *testing.T) {
	var got tavilyRequest
	srv := tavilyServer(t, &got)
	defer srv.Close()

	tool := NewTavilyTool("tvly-key", 5, time.Second, WithTavilyEndpoint(srv.URL))
	out, meta, err := tool.Execute(context.Background(), map[string]interface{}{
		"query":           "latest go release",
		"depth":           "advanced",
		"max_results":     30,
		"include_domains": []string{"go.dev"},
	})
	require.NoError(t, err)

	assert.Equal(t, tavilyRequest{
		Query:          "latest go release",
		SearchDepth:    "advanced",
		Topic:          "general",
		MaxResults:     10,
		IncludeAnswer:  true,
		IncludeDomains: []string{"go.dev"},
	}, got)

	assert.True(t, strings.HasPrefix(out, "Tavily results for: latest go release\nDepth: advanced, Topic: general, Results: 10\n"))
	assert.Contains(t, out, "Answer:\nGo 1.25 is current.")
	assert.Contains(t, out, "1. Go release notes\n   https://go.dev/doc/go1.25\n   Score: 0.912\n   "+strings.Repeat("x", 200)+"...")
	assert.Contains(t, out, "2. No title\n   https://example.com")
	assert.NotContains(t, out, "Images:", "images only when asked for")
	assert.Equal(t, 2, meta["results"])
	assert.Equal(t, true, meta["has_answer"])
}

func TestTavilyTool_Images(t *testing.T) {
	var got tavilyRequest
	srv := tavilyServer(t, &got)
	defer srv.Close()

	tool := NewTavilyTool("tvly-key", 0, time.Second, WithTavilyEndpoint(srv.URL))
	out, _, err := tool.Execute(context.Background(), map[string]interface{}{"query": "gopher", "include_images": true, "topic": "news"})
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxResults)
	assert.Equal(t, "news", got.Topic)
	assert.Contains(t, out, "Images:\n   https://img/1.png")
}

func TestTavilyTool_Failures(t *testing.T) {
	_, _, err := NewTavilyTool("", 5, time.Second).Execute(context.Background(), map[string]interface{}{"query": "q"})
	assert.ErrorIs(t, err, tools.ErrExternalDependency)
	assert.Contains(t, err.Error(), "TAVILY_API_KEY")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	_, _, err = NewTavilyTool("bad", 5, time.Second, WithTavilyEndpoint(srv.URL)).Execute(context.Background(), map[string]interface{}{"query": "q"})
	assert.ErrorIs(t, err, tools.ErrExternalDependency)
	assert.Contains(t, err.Error(), "401")
}
