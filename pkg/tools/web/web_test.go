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

	"github.com/entrhq/toolbelt/pkg/dispatch"
	"github.com/entrhq/toolbelt/pkg/tools"
)

func braveServer(t *testing.T, wantCount string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		assert.Equal(t, wantCount, r.URL.Query().Get("count"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"web":{"results":[`+
			`{"title":"Go","url":"https://go.dev","description":"The Go language"},`+
			`{"title":"Tour","url":"https://go.dev/tour"}]}}`)
	}))
}

func TestSearchTool(t *testing.T) {
	srv := braveServer(t, "3")
	defer srv.Close()

	tool := NewSearchTool("secret", time.Second, WithEndpoint(srv.URL))
	out, meta, err := tool.Execute(context.Background(), map[string]interface{}{"query": "golang", "count": 3})
	require.NoError(t, err)

	assert.Equal(t, "Results for: golang\n\n1. Go\n   https://go.dev\n   The Go language\n2. Tour\n   https://go.dev/tour", out)
	assert.Equal(t, 2, meta["results"])
}

func TestSearchTool_CountClamped(t *testing.T) {
	srv := braveServer(t, "10")
	defer srv.Close()

	tool := NewSearchTool("secret", time.Second, WithEndpoint(srv.URL))
	_, _, err := tool.Execute(context.Background(), map[string]interface{}{"query": "golang", "count": 50})
	require.NoError(t, err)
}

func TestSearchTool_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"web":{"results":[]}}`)
	}))
	defer srv.Close()

	tool := NewSearchTool("k", time.Second, WithEndpoint(srv.URL))
	out, _, err := tool.Execute(context.Background(), map[string]interface{}{"query": "zzz"})
	require.NoError(t, err)
	assert.Equal(t, "No results for: zzz", out)
}

func TestSearchTool_Failures(t *testing.T) {
	tool := NewSearchTool("", time.Second)
	_, _, err := tool.Execute(context.Background(), map[string]interface{}{"query": "x"})
	assert.Equal(t, tools.KindExternalDependency, tools.KindOf(err))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tool = NewSearchTool("k", time.Second, WithEndpoint(srv.URL))
	_, _, err = tool.Execute(context.Background(), map[string]interface{}{"query": "x"})
	require.Error(t, err)
	assert.Equal(t, tools.KindExternalDependency, tools.KindOf(err))
	assert.Contains(t, err.Error(), "429")
}

func decodeFetch(t *testing.T, out string) FetchResult {
	t.Helper()
	var res FetchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	return res
}

func TestFetchTool_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articlePage)
	}))
	defer srv.Close()

	tool := NewFetchTool(0, time.Second)
	out, meta, err := tool.Execute(context.Background(), map[string]interface{}{"url": srv.URL + "/page"})
	require.NoError(t, err)

	res := decodeFetch(t, out)
	assert.Equal(t, srv.URL+"/page", res.URL)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "readability", res.Extractor)
	assert.False(t, res.Truncated)
	assert.True(t, strings.HasPrefix(res.Text, "# My Page\n\n# Hello"))
	assert.Contains(t, res.Text, "[a link]("+srv.URL+"/link)")
	assert.Equal(t, false, meta["truncated"])
}

func TestFetchTool_TruncatesToMaxChars(t *testing.T) {
	long := strings.Repeat("word ", 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, long)
	}))
	defer srv.Close()

	tool := NewFetchTool(500, time.Second)
	out, _, err := tool.Execute(context.Background(), map[string]interface{}{"url": srv.URL})
	require.NoError(t, err)
	res := decodeFetch(t, out)
	assert.Equal(t, "raw", res.Extractor)
	assert.True(t, res.Truncated)
	assert.Equal(t, 500, res.Length)
	assert.Len(t, []rune(res.Text), 500)

	out, _, err = tool.Execute(context.Background(), map[string]interface{}{"url": srv.URL, "maxChars": 150})
	require.NoError(t, err)
	assert.Len(t, []rune(decodeFetch(t, out).Text), 150)

	// below the floor
	out, _, err = tool.Execute(context.Background(), map[string]interface{}{"url": srv.URL, "maxChars": 5})
	require.NoError(t, err)
	assert.Len(t, []rune(decodeFetch(t, out).Text), minFetchChars)
}

func TestFetchTool_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"a":1}`)
	}))
	defer srv.Close()

	out, _, err := NewFetchTool(0, time.Second).Execute(context.Background(), map[string]interface{}{"url": srv.URL})
	require.NoError(t, err)
	res := decodeFetch(t, out)
	assert.Equal(t, "json", res.Extractor)
	assert.Equal(t, "{\n  \"a\": 1\n}", res.Text)
}

func TestFetchTool_Redirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "moved")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, _, err := NewFetchTool(0, time.Second).Execute(context.Background(), map[string]interface{}{"url": srv.URL + "/old"})
	require.NoError(t, err)
	res := decodeFetch(t, out)
	assert.Equal(t, srv.URL+"/new", res.FinalURL)
	assert.Equal(t, "moved", res.Text)
}

func TestFetchTool_RejectsNonHTTP(t *testing.T) {
	tool := NewFetchTool(0, time.Second)
	for _, u := range []string{"ftp://example.com/file", "file:///etc/passwd", "https://"} {
		_, _, err := tool.Execute(context.Background(), map[string]interface{}{"url": u})
		assert.Equal(t, tools.KindInvalidArguments, tools.KindOf(err), u)
	}
}

func TestFetchTool_DispatcherMarksTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 1000))
	}))
	defer srv.Close()

	reg := dispatch.NewRegistry()
	require.NoError(t, reg.Register(NewFetchTool(200, time.Second)))
	res := dispatch.New(reg).Dispatch(context.Background(), tools.Invocation{
		Tool: "web_fetch",
		Args: map[string]interface{}{"url": srv.URL, "extractMode": "text"},
	})
	require.False(t, res.Failed(), "%v", res.Err())
	assert.True(t, res.Truncated)

	bad := dispatch.New(reg).Dispatch(context.Background(), tools.Invocation{
		Tool: "web_fetch",
		Args: map[string]interface{}{"url": srv.URL, "extractMode": "pdf"},
	})
	assert.Equal(t, tools.KindInvalidArguments, bad.Error.Kind)
}
