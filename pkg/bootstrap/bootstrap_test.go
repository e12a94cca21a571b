package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/toolbelt/pkg/bus"
	"github.com/entrhq/toolbelt/pkg/config"
	"github.com/entrhq/toolbelt/pkg/cron"
	"github.com/entrhq/toolbelt/pkg/llm"
	"github.com/entrhq/toolbelt/pkg/llm/gemini"
	"github.com/entrhq/toolbelt/pkg/llm/ollama"
	"github.com/entrhq/toolbelt/pkg/llm/openai"
	"github.com/entrhq/toolbelt/pkg/tools"
	"github.com/entrhq/toolbelt/pkg/tools/web"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type replyProvider struct {
	reply string
	err   error
}

func (p *replyProvider) StreamCompletion(ctx context.Context, messages []*llm.Message) (<-chan *llm.StreamChunk, error) {
	ch := make(chan *llm.StreamChunk, 2)
	ch <- &llm.StreamChunk{Content: p.reply}
	ch <- &llm.StreamChunk{Finished: true}
	close(ch)
	return ch, nil
}

func (p *replyProvider) Complete(ctx context.Context, messages []*llm.Message) (*llm.Message, error) {
	if p.err != nil {
		return nil, p.err
	}
	return llm.NewAssistantMessage(p.reply), nil
}

func (p *replyProvider) GetModel() string   { return "fake" }
func (p *replyProvider) GetBaseURL() string { return "" }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workspace.Path = filepath.Join(t.TempDir(), "ws")
	cfg.Cron.Path = filepath.Join(t.TempDir(), "jobs.json")
	cfg.LLM.APIKey = ""
	cfg.ImageGen.APIKey = ""
	return cfg
}

func build(t *testing.T, cfg *config.Config, opts Options) *Runtime {
	t.Helper()
	rt, err := Build(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestBuildRegistersEveryTool(t *testing.T) {
	rt := build(t, testConfig(t), Options{})

	assert.Equal(t, []string{
		"browser", "cron", "edit_file", "exec", "generate_image", "image", "list_dir",
		"message", "read_file", "search_files", "spawn", "tavily_search", "web_fetch",
		"web_search", "write_file",
	}, rt.Registry.Names())
	assert.Nil(t, rt.Provider)
	assert.DirExists(t, rt.Guard.WorkspaceDir())
}

func TestImageGeneratorKey(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewImageGenerator(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, llm.ErrNoProvider)

	cfg.LLM.Provider = config.ProviderGemini
	cfg.LLM.APIKey = "llm-key"
	gen, err := NewImageGenerator(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, gen)

	rt := build(t, testConfig(t), Options{})
	res := rt.Dispatcher.Dispatch(context.Background(), tools.Invocation{
		Tool: "generate_image",
		Args: map[string]interface{}{"prompt": "a lighthouse"},
	})
	require.True(t, res.Failed())
	assert.Equal(t, tools.KindExternalDependency, res.Error.Kind)
}

func TestBuildWhitelistsScreenshotDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workspace.Restrict = true
	cfg.Browser.ScreenshotDir = t.TempDir()
	rt := build(t, cfg, Options{})

	require.Len(t, rt.Guard.Whitelisted(), 1)
	_, err := rt.Guard.Resolve(filepath.Join(cfg.Browser.ScreenshotDir, "page.png"))
	assert.NoError(t, err)
}

func TestBuildWithoutProvider(t *testing.T) {
	rt := build(t, testConfig(t), Options{})

	res := rt.Dispatcher.Dispatch(context.Background(), tools.Invocation{
		Tool: "spawn",
		Args: map[string]interface{}{"task": "summarise the logs"},
	})
	require.True(t, res.Failed())
	assert.Equal(t, tools.KindExternalDependency, res.Error.Kind)
	assert.ErrorIs(t, res.Err(), llm.ErrNoProvider)
}

func TestDispatchThroughRuntime(t *testing.T) {
	rt := build(t, testConfig(t), Options{})
	ctx := context.Background()

	res := rt.Dispatcher.Dispatch(ctx, tools.Invocation{
		Tool: "write_file",
		Args: map[string]interface{}{"path": "notes.txt", "content": "hello"},
	})
	require.False(t, res.Failed(), res.Text())

	res = rt.Dispatcher.Dispatch(ctx, tools.Invocation{
		Tool: "read_file",
		Args: map[string]interface{}{"path": "notes.txt"},
	})
	require.False(t, res.Failed(), res.Text())
	assert.Contains(t, res.Output, "hello")
}

func TestLargeFileRoundTripIsNotTruncated(t *testing.T) {
	rt := build(t, testConfig(t), Options{})
	ctx := context.Background()
	content := strings.Repeat("0123456789", 2000)

	res := rt.Dispatcher.Dispatch(ctx, tools.Invocation{
		Tool: "write_file",
		Args: map[string]interface{}{"path": "big.txt", "content": content},
	})
	require.False(t, res.Failed(), res.Text())

	res = rt.Dispatcher.Dispatch(ctx, tools.Invocation{
		Tool: "read_file",
		Args: map[string]interface{}{"path": "big.txt"},
	})
	require.False(t, res.Failed(), res.Text())
	assert.False(t, res.Truncated)
	assert.Equal(t, content, res.Output)
}

func TestWebFetchKeepsJSONIntact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("b", 60000)))
	}))
	defer srv.Close()

	rt := build(t, testConfig(t), Options{HTTPClient: srv.Client()})
	res := rt.Dispatcher.Dispatch(context.Background(), tools.Invocation{
		Tool: "web_fetch",
		Args: map[string]interface{}{"url": srv.URL},
	})
	require.False(t, res.Failed(), res.Text())
	assert.True(t, res.Truncated)

	var doc web.FetchResult
	require.NoError(t, json.Unmarshal([]byte(res.Output), &doc))
	assert.True(t, doc.Truncated)
	assert.Equal(t, web.DefaultFetchMaxChars, doc.Length)
	assert.Len(t, doc.Text, web.DefaultFetchMaxChars)
}

func TestExecOutputStillCapped(t *testing.T) {
	rt := build(t, testConfig(t), Options{})

	res := rt.Dispatcher.Dispatch(context.Background(), tools.Invocation{
		Tool: "exec",
		Args: map[string]interface{}{"command": "head -c 20000 /dev/zero | tr '\\0' x"},
	})
	require.False(t, res.Failed(), res.Text())
	assert.True(t, res.Truncated)
	assert.Len(t, res.Output, 10000)
}

func TestPlainJobIsDelivered(t *testing.T) {
	rt := build(t, testConfig(t), Options{})

	job := cron.Job{ID: "j1", Payload: cron.Payload{Message: "stand up", Channel: "telegram", To: "42"}}
	out, err := rt.runJob(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "stand up", out)

	select {
	case msg := <-rt.Bus.Outbound:
		assert.Equal(t, bus.OutboundMessage{Channel: "telegram", ChatID: "42", Content: "stand up"}, msg)
	case <-time.After(time.Second):
		t.Fatal("no outbound message")
	}
}

func TestPlainJobUsesDefaultChannel(t *testing.T) {
	rt := build(t, testConfig(t), Options{})

	_, err := rt.runJob(context.Background(), cron.Job{ID: "j1", Payload: cron.Payload{Message: "drink water"}})
	require.NoError(t, err)

	msg := <-rt.Bus.Outbound
	assert.Equal(t, "console", msg.Channel)
	assert.Equal(t, "direct", msg.ChatID)
}

func TestAgentJob(t *testing.T) {
	cfg := testConfig(t)
	rt := build(t, cfg, Options{Provider: &replyProvider{reply: "3 open issues"}})

	out, err := rt.runJob(context.Background(), cron.Job{
		ID:      "j2",
		Payload: cron.Payload{Message: "count issues", Agent: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "3 open issues", out)
	assert.Len(t, rt.Bus.Outbound, 0, "undelivered agent jobs publish nothing")

	out, err = rt.runJob(context.Background(), cron.Job{
		ID:      "j3",
		Payload: cron.Payload{Message: "count issues", Agent: true, Deliver: true, Channel: "console", To: "ops"},
	})
	require.NoError(t, err)
	msg := <-rt.Bus.Outbound
	assert.Equal(t, "ops", msg.ChatID)
	assert.Equal(t, out, msg.Content)
}

func TestAgentJobFailure(t *testing.T) {
	rt := build(t, testConfig(t), Options{Provider: &replyProvider{err: errors.New("rate limited")}})

	_, err := rt.runJob(context.Background(), cron.Job{ID: "j4", Payload: cron.Payload{Message: "x", Agent: true}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	_, err := NewProvider(ctx, config.LLMConfig{Provider: config.ProviderOpenAI}, nil)
	assert.ErrorIs(t, err, llm.ErrNoProvider)
	_, err = NewProvider(ctx, config.LLMConfig{Provider: config.ProviderGemini}, nil)
	assert.ErrorIs(t, err, llm.ErrNoProvider)

	p, err := NewProvider(ctx, config.LLMConfig{Provider: config.ProviderOpenAI, APIKey: "k", Model: "gpt-4o-mini"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &openai.Provider{}, p)
	assert.Equal(t, "gpt-4o-mini", p.GetModel())

	p, err = NewProvider(ctx, config.LLMConfig{Provider: config.ProviderGemini, APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &gemini.Provider{}, p)

	p, err = NewProvider(ctx, config.LLMConfig{Provider: config.ProviderOllama, BaseURL: "http://localhost:11434", Model: "qwen3"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ollama.Provider{}, p)
	assert.Equal(t, "qwen3", p.GetModel())
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewStore(ctx, config.CronConfig{Store: config.StoreFile, Path: filepath.Join(dir, "jobs.json")})
	require.NoError(t, err)
	assert.IsType(t, &cron.FileStore{}, s)

	s, err = NewStore(ctx, config.CronConfig{Store: config.StoreSQLite, Path: filepath.Join(dir, "jobs.db")})
	require.NoError(t, err)
	assert.IsType(t, &cron.SQLiteStore{}, s)
	require.NoError(t, s.Close())
}
