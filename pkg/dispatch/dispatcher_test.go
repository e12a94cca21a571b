package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/toolbelt/pkg/tools"
)

// fakeTool records calls and returns a canned result.
type fakeTool struct {
	name     string
	max      int
	output   string
	err      error
	panicMsg string
	calls    atomic.Int32
	lastArgs map[string]interface{}
	mu       sync.Mutex
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "fake " + f.name }
func (f *fakeTool) SideEffect() tools.SideEffect { return tools.SideEffectMutating }
func (f *fakeTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(map[string]interface{}{
		"path":  tools.Prop("string", "path"),
		"count": tools.Prop("integer", "count"),
	}, []string{"path"})
}

func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastArgs = args
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.output, map[string]interface{}{"seen": true}, f.err
}

type cappedTool struct{ *fakeTool }

func (c cappedTool) MaxOutputChars() int { return c.max }

func newDispatcher(t *testing.T, ts ...tools.Tool) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range ts {
		require.NoError(t, reg.Register(tool))
	}
	return New(reg)
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(&fakeTool{name: ""}))
	require.NoError(t, reg.Register(&fakeTool{name: "b"}))
	require.NoError(t, reg.Register(&fakeTool{name: "a"}))
	assert.Error(t, reg.Register(&fakeTool{name: "a"}), "duplicate names must be rejected")

	assert.Equal(t, []string{"a", "b"}, reg.Names())
	descs := reg.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "a", descs[0].Name)
	assert.Equal(t, []string{"path"}, descs[0].Required())
}

func TestRegistryWithout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{name: "spawn"}))
	require.NoError(t, reg.Register(&fakeTool{name: "read_file"}))

	restricted := reg.Without("spawn")
	assert.Equal(t, []string{"read_file"}, restricted.Names())
	assert.Equal(t, 2, reg.Len(), "original registry must be untouched")
}

func TestDispatchUnknownTool(t *testing.T) {
	tool := &fakeTool{name: "write_file"}
	d := newDispatcher(t, tool)

	res := d.Dispatch(context.Background(), tools.Invocation{Tool: "delete_everything", Args: map[string]interface{}{"path": "x"}})

	require.True(t, res.Failed())
	assert.Equal(t, tools.KindUnknownTool, res.Error.Kind)
	assert.ErrorIs(t, res.Err(), tools.ErrUnknownTool)
	assert.Equal(t, int32(0), tool.calls.Load(), "no tool may run for an unknown name")
}

func TestDispatchInvalidArguments(t *testing.T) {
	tool := &fakeTool{name: "write_file"}
	d := newDispatcher(t, tool)

	res := d.Dispatch(context.Background(), tools.Invocation{Tool: "write_file", Args: map[string]interface{}{"count": 2}})

	require.True(t, res.Failed())
	assert.Equal(t, tools.KindInvalidArguments, res.Error.Kind)
	assert.Equal(t, int32(0), tool.calls.Load())
}

func TestDispatchCoercesArguments(t *testing.T) {
	tool := &fakeTool{name: "write_file", output: "ok"}
	d := newDispatcher(t, tool)

	res := d.Dispatch(context.Background(), tools.Invocation{Tool: "write_file", Args: map[string]interface{}{"path": "a", "count": "12"}})

	require.False(t, res.Failed(), "unexpected error: %v", res.Err())
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, 12, tool.lastArgs["count"])
	assert.Equal(t, true, res.Metadata["seen"])
}

func TestDispatchClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want tools.ErrorKind
	}{
		{"blocked", tools.Blocked("rm -rf"), tools.KindBlockedCommand},
		{"outside", tools.OutsideWorkspace(nil, "/etc/passwd"), tools.KindPathOutsideWorkspace},
		{"deadline", context.DeadlineExceeded, tools.KindTimeout},
		{"collaborator", errors.New("dial tcp: refused"), tools.KindExternalDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDispatcher(t, &fakeTool{name: "x", err: tt.err})
			res := d.Dispatch(context.Background(), tools.Invocation{Tool: "x", Args: map[string]interface{}{"path": "p"}})
			require.True(t, res.Failed())
			assert.Equal(t, tt.want, res.Error.Kind)
			assert.Equal(t, "x", res.Error.Tool)
		})
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	d := newDispatcher(t, &fakeTool{name: "boom", panicMsg: "nil map"})

	res := d.Dispatch(context.Background(), tools.Invocation{Tool: "boom", Args: map[string]interface{}{"path": "p"}})

	require.True(t, res.Failed())
	assert.Equal(t, tools.KindExternalDependency, res.Error.Kind)
	assert.Contains(t, res.Error.Error(), "nil map")
}

func TestDispatchTruncatesToToolMaximum(t *testing.T) {
	long := strings.Repeat("x", 12000)
	d := newDispatcher(t, cappedTool{&fakeTool{name: "exec", output: long, max: 10000}})

	res := d.Dispatch(context.Background(), tools.Invocation{Tool: "exec", Args: map[string]interface{}{"path": "p"}})

	require.False(t, res.Failed())
	assert.Len(t, res.Output, 10000)
	assert.True(t, res.Truncated)
	assert.Equal(t, 12000, res.OriginalLength)
}

func TestDispatchDefaultMaximum(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeTool{name: "read_file", output: "abcdef"}))

	d := New(reg, WithDefaultMaxOutput(4))
	res := d.Dispatch(context.Background(), tools.Invocation{Tool: "read_file", Args: map[string]interface{}{"path": "p"}})
	assert.Equal(t, "abcd", res.Output)
	assert.True(t, res.Truncated)

	uncapped := New(reg)
	res = uncapped.Dispatch(context.Background(), tools.Invocation{Tool: "read_file", Args: map[string]interface{}{"path": "p"}})
	assert.Equal(t, "abcdef", res.Output)
	assert.False(t, res.Truncated)
}

func TestDispatchConcurrent(t *testing.T) {
	tool := &fakeTool{name: "read_file", output: "ok"}
	d := newDispatcher(t, tool)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := d.Dispatch(context.Background(), tools.Invocation{Tool: "read_file", Args: map[string]interface{}{"path": "p"}})
			assert.False(t, res.Failed())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(50), tool.calls.Load())
}

func TestRestricted(t *testing.T) {
	d := newDispatcher(t, &fakeTool{name: "spawn"}, &fakeTool{name: "read_file", output: "ok"})
	sub := d.Restricted("spawn")

	res := sub.Dispatch(context.Background(), tools.Invocation{Tool: "spawn", Args: map[string]interface{}{"path": "p"}})
	assert.Equal(t, tools.KindUnknownTool, res.Error.Kind)
	assert.Len(t, d.Descriptors(), 2)
}
