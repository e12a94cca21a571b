package bus

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/toolbelt/pkg/logging"
)

func TestDispatchRoutesByChannel(t *testing.T) {
	var logs bytes.Buffer
	b := New(4, logging.NewWriterLogger("bus", &logs))

	var mu sync.Mutex
	got := map[string][]string{}
	for _, name := range []string{"console", "telegram"} {
		name := name
		b.SubscribeOutbound(name, func(m OutboundMessage) {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], m.ChatID+":"+m.Content)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.DispatchOutbound(ctx)
		close(done)
	}()

	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"}))
	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "nowhere", ChatID: "1", Content: "lost"}))
	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "console", ChatID: "direct", Content: "hello"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["console"]) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, []string{"42:hi"}, got["telegram"])
	assert.Equal(t, []string{"direct:hello"}, got["console"])
	assert.Contains(t, logs.String(), `no channel "nowhere"`)
	assert.ElementsMatch(t, []string{"console", "telegram"}, b.Channels())
}

func TestPublishRespectsContextAndClose(t *testing.T) {
	b := New(1, nil)
	ctx := context.Background()

	require.NoError(t, b.PublishInbound(ctx, InboundMessage{Channel: "telegram", ChatID: "7", Content: "a"}))

	full, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := b.PublishInbound(full, InboundMessage{Content: "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	msg := <-b.Inbound
	assert.Equal(t, "telegram:7", msg.SessionKey())
	assert.False(t, msg.Timestamp.IsZero())

	b.Close()
	b.Close()
	assert.ErrorIs(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "console"}), ErrClosed)
	assert.ErrorIs(t, b.PublishInbound(ctx, InboundMessage{}), ErrClosed)
}
