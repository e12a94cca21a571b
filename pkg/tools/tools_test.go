package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor() Descriptor {
	return Descriptor{
		Name: "sample",
		Parameters: BaseToolSchema(map[string]interface{}{
			"path":    Prop("string", "file path"),
			"count":   Prop("integer", "how many"),
			"verbose": Prop("boolean", "chatty"),
			"mode":    EnumProp("output mode", "text", "markdown"),
		}, []string{"path"}),
	}
}

func TestDescriptorValidate(t *testing.T) {
	d := testDescriptor()

	t.Run("missing required", func(t *testing.T) {
		_, err := d.Validate(map[string]interface{}{"count": 1})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArguments)
		assert.Contains(t, err.Error(), "path")
	})

	t.Run("nil required counts as missing", func(t *testing.T) {
		_, err := d.Validate(map[string]interface{}{"path": nil})
		assert.ErrorIs(t, err, ErrInvalidArguments)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := d.Validate(map[string]interface{}{"path": 42})
		assert.ErrorIs(t, err, ErrInvalidArguments)
	})

	t.Run("coerces xml strings", func(t *testing.T) {
		got, err := d.Validate(map[string]interface{}{"path": "a.txt", "count": "3", "verbose": "true"})
		require.NoError(t, err)
		assert.Equal(t, 3, got["count"])
		assert.Equal(t, true, got["verbose"])
	})

	t.Run("json numbers", func(t *testing.T) {
		got, err := d.Validate(map[string]interface{}{"path": "a.txt", "count": float64(7)})
		require.NoError(t, err)
		assert.Equal(t, 7, got["count"])

		_, err = d.Validate(map[string]interface{}{"path": "a.txt", "count": 1.5})
		assert.ErrorIs(t, err, ErrInvalidArguments)
	})

	t.Run("enum", func(t *testing.T) {
		_, err := d.Validate(map[string]interface{}{"path": "a.txt", "mode": "html"})
		assert.ErrorIs(t, err, ErrInvalidArguments)

		_, err = d.Validate(map[string]interface{}{"path": "a.txt", "mode": "text"})
		assert.NoError(t, err)
	})

	t.Run("extra args pass through", func(t *testing.T) {
		got, err := d.Validate(map[string]interface{}{"path": "a.txt", "other": "x"})
		require.NoError(t, err)
		assert.Equal(t, "x", got["other"])
	})

	t.Run("does not mutate input", func(t *testing.T) {
		in := map[string]interface{}{"path": "a.txt", "count": "2"}
		_, err := d.Validate(in)
		require.NoError(t, err)
		assert.Equal(t, "2", in["count"])
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		max       int
		want      string
		truncated bool
	}{
		{"under limit", "hello", 10, "hello", false},
		{"exact limit", "hello", 5, "hello", false},
		{"over limit", "hello world", 5, "hello", true},
		{"disabled", "hello", 0, "hello", false},
		{"multibyte counts runes", "héllo wörld", 7, "héllo w", true},
		{"multibyte under limit", "日本語", 3, "日本語", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := Truncate(tt.in, tt.max)
			if got != tt.want || truncated != tt.truncated {
				t.Errorf("Truncate(%q, %d) = (%q, %v), want (%q, %v)", tt.in, tt.max, got, truncated, tt.want, tt.truncated)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"typed error keeps kind", Blocked("nope"), KindBlockedCommand},
		{"wrapped typed error", fmt.Errorf("ctx: %w", OutsideWorkspace(nil, "escape")), KindPathOutsideWorkspace},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped sentinel", fmt.Errorf("bad: %w", ErrInvalidArguments), KindInvalidArguments},
		{"plain error", errors.New("connection refused"), KindExternalDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("x", tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, "x", got.Tool)
			assert.True(t, errors.Is(got, tt.want.sentinel()))
		})
	}
	assert.Nil(t, Classify("x", nil))
}

func TestErrorMessage(t *testing.T) {
	err := External(errors.New("503"), "brave search failed")
	assert.Equal(t, "brave search failed: 503", err.Error())
	assert.ErrorIs(t, err, ErrExternalDependency)

	res := &Result{Tool: "web_search", Error: err}
	assert.True(t, res.Failed())
	assert.True(t, strings.HasPrefix(res.Text(), "Error (external_dependency)"))
}

func TestParseToolCall(t *testing.T) {
	text := `I'll save the file.
<tool>
<tool_name>write_file</tool_name>
<arguments>
  <path>notes/a.md</path>
  <content><![CDATA[a & b <c>]]></content>
</arguments>
</tool>`

	call, remaining, err := ParseToolCall(text)
	require.NoError(t, err)
	assert.Equal(t, "write_file", call.ToolName)
	assert.Equal(t, "I'll save the file.", remaining)

	inv, err := call.Invocation()
	require.NoError(t, err)
	assert.Equal(t, "write_file", inv.Tool)
	assert.Equal(t, "notes/a.md", inv.Args["path"])
	assert.Equal(t, "a & b <c>", inv.Args["content"])
}

func TestParseToolCallBareAmpersand(t *testing.T) {
	text := `<tool><tool_name>web_fetch</tool_name><arguments><url>https://x.test/?a=1&b=2</url></arguments></tool>`
	call, _, err := ParseToolCall(text)
	require.NoError(t, err)

	inv, err := call.Invocation()
	require.NoError(t, err)
	assert.Equal(t, "https://x.test/?a=1&b=2", inv.Args["url"])
}

func TestParseToolCallErrors(t *testing.T) {
	_, _, err := ParseToolCall("no tools here")
	assert.Error(t, err)

	_, _, err = ParseToolCall("<tool><arguments></arguments></tool>")
	assert.Error(t, err)
}

func TestExtractThinkingAndToolCall(t *testing.T) {
	thinking, call, remaining, err := ExtractThinkingAndToolCall("plan first <tool><tool_name>list_dir</tool_name><arguments><path>.</path></arguments></tool> after")
	require.NoError(t, err)
	assert.Equal(t, "plan first", thinking)
	assert.Equal(t, "after", remaining)
	require.NotNil(t, call)
	assert.Equal(t, "list_dir", call.ToolName)

	thinking, call, _, err = ExtractThinkingAndToolCall("just an answer")
	require.NoError(t, err)
	assert.Nil(t, call)
	assert.Equal(t, "just an answer", thinking)
	assert.False(t, HasToolCall("just an answer"))
}

func TestArgHelpers(t *testing.T) {
	args := map[string]interface{}{"name": "x", "n": "4", "flag": true, "blank": "  "}

	s, err := RequiredString(args, "name")
	require.NoError(t, err)
	assert.Equal(t, "x", s)

	_, err = RequiredString(args, "blank")
	assert.ErrorIs(t, err, ErrInvalidArguments)

	n, err := Int(args, "n", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = Int(args, "missing", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	b, err := Bool(args, "flag", false)
	require.NoError(t, err)
	assert.True(t, b)
}

func TestStringsArg(t *testing.T) {
	d := Descriptor{Name: "t", Parameters: BaseToolSchema(map[string]interface{}{
		"domains": Prop("array", "domains"),
	}, nil)}

	args, err := d.Validate(map[string]interface{}{"domains": "go.dev, pkg.go.dev,"})
	require.NoError(t, err)
	list, err := Strings(args, "domains")
	require.NoError(t, err)
	assert.Equal(t, []string{"go.dev", "pkg.go.dev"}, list)

	list, err = Strings(map[string]interface{}{"domains": []interface{}{"a.io"}}, "domains")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.io"}, list)

	_, err = Strings(map[string]interface{}{"domains": []interface{}{1}}, "domains")
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestOrigin(t *testing.T) {
	_, ok := OriginFrom(context.Background())
	assert.False(t, ok)

	ctx := WithOrigin(context.Background(), Origin{Channel: "telegram", ChatID: "42"})
	o, ok := OriginFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "42", o.ChatID)
}
