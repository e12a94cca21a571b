package heartbeat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsActionable(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "", false},
		{"headings only", "# Heartbeat\n\n## Tasks\n", false},
		{"empty checkboxes", "# Tasks\n- [ ]\n* [ ]\n- [x]\n", false},
		{"comment", "<!-- add tasks below -->\n", false},
		{"multi-line comment", "<!--\nCheck the build\nevery morning\n-->\n# Tasks", false},
		{"task", "# Tasks\n- [ ] Check the build\n", true},
		{"plain text", "Summarise unread mail", true},
		{"text after comment", "<!-- note --> water the plants", true},
		{"text after multi-line comment", "<!--\nx\n--> feed the cat", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsActionable(tt.content))
		})
	}
}

func TestIsOK(t *testing.T) {
	assert.True(t, IsOK("HEARTBEAT_OK"))
	assert.True(t, IsOK("All quiet. heartbeat_ok"))
	assert.True(t, IsOK("HEARTBEATOK"))
	assert.False(t, IsOK("I updated the report."))
}

func writeHeartbeat(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
}

func TestTickSkipsWithoutTasks(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	s := New(dir, func(ctx context.Context, prompt string) (string, error) {
		calls.Add(1)
		return OKToken, nil
	}, 0, nil)
	assert.Equal(t, DefaultInterval, s.Interval())

	ran, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "missing file means nothing to do")

	writeHeartbeat(t, dir, "# Heartbeat\n- [ ]\n")
	ran, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int32(0), calls.Load())
}

func TestTickRunsAgent(t *testing.T) {
	dir := t.TempDir()
	writeHeartbeat(t, dir, "- [ ] Post the weekly summary\n")

	var prompts []string
	var delivered []string
	s := New(dir, func(ctx context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return "Posted the summary.", nil
	}, time.Hour, nil)
	s.OnResult = func(reply string) { delivered = append(delivered, reply) }

	ran, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	require.Len(t, prompts, 1)
	assert.Equal(t, Prompt, prompts[0])
	assert.Equal(t, []string{"Posted the summary."}, delivered)
}

func TestOKReplyIsNotDelivered(t *testing.T) {
	dir := t.TempDir()
	writeHeartbeat(t, dir, "check things")

	delivered := 0
	s := New(dir, func(ctx context.Context, prompt string) (string, error) {
		return "HEARTBEAT_OK", nil
	}, 0, nil)
	s.OnResult = func(string) { delivered++ }

	ran, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, delivered)
}

func TestTriggerNow(t *testing.T) {
	s := New(t.TempDir(), func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("llm down")
	}, 0, nil)

	_, err := s.TriggerNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm down")

	none := New(t.TempDir(), nil, 0, nil)
	_, err = none.TriggerNow(context.Background())
	assert.Error(t, err)
	assert.Error(t, none.Start(context.Background()))
}

func TestStartTicks(t *testing.T) {
	dir := t.TempDir()
	writeHeartbeat(t, dir, "do the thing")

	var calls atomic.Int32
	s := New(dir, func(ctx context.Context, prompt string) (string, error) {
		calls.Add(1)
		return OKToken, nil
	}, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
