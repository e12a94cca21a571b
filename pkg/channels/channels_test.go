package channels

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/toolbelt/pkg/bus"
	"github.com/entrhq/toolbelt/pkg/config"
)

type fakeBot struct {
	mu         sync.Mutex
	updates    chan tgbotapi.Update
	stopped    bool
	sent       []tgbotapi.MessageConfig
	rejectHTML bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 10)}
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	f.sent = append(f.sent, msg)
	if f.rejectHTML && msg.ParseMode == tgbotapi.ModeHTML {
		return tgbotapi.Message{}, errors.New("Bad Request: can't parse entities")
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeBot) GetSelf() tgbotapi.User { return tgbotapi.User{UserName: "toolbelt_bot"} }

func factoryFor(bot *fakeBot) BotFactory {
	return func(token string, client *http.Client) (TelegramBot, error) {
		return bot, nil
	}
}

func TestTelegramInboundAndAllowList(t *testing.T) {
	b := bus.New(10, nil)
	bot := newFakeBot()
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "t", AllowFrom: []string{"123"}}, b, factoryFor(bot), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ch.Start(ctx))

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 999}, Chat: &tgbotapi.Chat{ID: 1}, Text: "intruder",
	}}
	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 123, UserName: "ada"}, Chat: &tgbotapi.Chat{ID: 456}, Text: "list my jobs",
	}}

	select {
	case in := <-b.Inbound:
		assert.Equal(t, "list my jobs", in.Content)
		assert.Equal(t, "telegram:456", in.SessionKey())
		assert.Equal(t, "123", in.SenderID)
	case <-time.After(time.Second):
		t.Fatal("expected inbound message")
	}
	select {
	case in := <-b.Inbound:
		t.Fatalf("unexpected inbound message %q", in.Content)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, ch.Stop())
	bot.mu.Lock()
	defer bot.mu.Unlock()
	assert.True(t, bot.stopped)
}

func TestTelegramSend(t *testing.T) {
	b := bus.New(10, nil)
	bot := newFakeBot()
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "t"}, b, factoryFor(bot), nil)
	require.NoError(t, err)

	assert.Error(t, ch.Send(bus.OutboundMessage{ChatID: "1", Content: "x"}), "not started")

	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()

	require.NoError(t, ch.Send(bus.OutboundMessage{ChatID: "42", Content: "**done** with `x<y`"}))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, "<b>done</b> with <code>x&lt;y</code>", bot.sent[0].Text)
	assert.Equal(t, tgbotapi.ModeHTML, bot.sent[0].ParseMode)

	assert.Error(t, ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "x"}))
}

func TestTelegramSendFallsBackToPlainText(t *testing.T) {
	bot := newFakeBot()
	bot.rejectHTML = true
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "t"}, bus.New(1, nil), factoryFor(bot), nil)
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()

	require.NoError(t, ch.Send(bus.OutboundMessage{ChatID: "7", Content: "*odd <markup>"}))
	require.Len(t, bot.sent, 2)
	assert.Equal(t, "", bot.sent[1].ParseMode)
	assert.Equal(t, "*odd <markup>", bot.sent[1].Text)
}

func TestTelegramRequiresToken(t *testing.T) {
	_, err := NewTelegramChannel(config.TelegramConfig{}, bus.New(1, nil), nil, nil)
	assert.Error(t, err)
}

func TestTelegramFactoryError(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "t"}, bus.New(1, nil),
		func(string, *http.Client) (TelegramBot, error) { return nil, errors.New("unauthorized") }, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, ch.Start(context.Background()), "unauthorized")
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"line one", "line two"}, splitMessage("line one\nline two", 10))
	assert.Equal(t, []string{"abcde", "fghij", "k"}, splitMessage("abcdefghijk", 5))
	// never split inside a multi-byte rune
	for _, part := range splitMessage(strings.Repeat("é", 5), 3) {
		assert.True(t, len(part) <= 3)
		assert.Equal(t, "é", part)
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct{ in, want string }{
		{"a & b", "a &amp; b"},
		{"```go\nfmt.Println(1)\n```", "<pre>fmt.Println(1)\n</pre>"},
		{"*em* and **strong**", "<i>em</i> and <b>strong</b>"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toTelegramHTML(tt.in))
	}
}

func TestConsoleChannel(t *testing.T) {
	b := bus.New(10, nil)
	var out bytes.Buffer
	ch := NewConsoleChannel(b, &out, strings.NewReader("hello\n\n  status please  \n"), "", nil)

	require.NoError(t, ch.Send(bus.OutboundMessage{Channel: ConsoleName, ChatID: "direct", Content: "Job ran"}))
	assert.Contains(t, out.String(), "[direct]")
	assert.Contains(t, out.String(), "Job ran")

	require.NoError(t, ch.Start(context.Background()))
	var got []string
	for i := 0; i < 2; i++ {
		select {
		case in := <-b.Inbound:
			got = append(got, in.Content)
			assert.Equal(t, "console:direct", in.SessionKey())
		case <-time.After(time.Second):
			t.Fatal("expected inbound line")
		}
	}
	assert.Equal(t, []string{"hello", "status please"}, got)
}

func TestManagerRoutesToChannels(t *testing.T) {
	b := bus.New(10, nil)
	bot := newFakeBot()
	var out bytes.Buffer

	m, err := NewManager(config.ChannelsConfig{
		DefaultChannel: ConsoleName,
		DefaultChatID:  "me",
		Telegram:       config.TelegramConfig{Enabled: true, Token: "t"},
	}, b, ManagerOptions{ConsoleOut: &out, BotFactory: factoryFor(bot)})
	require.NoError(t, err)
	assert.Equal(t, []string{"console", "telegram"}, m.Names())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.StartAll(ctx))
	defer m.StopAll()
	go b.DispatchOutbound(ctx)

	require.NoError(t, b.PublishOutbound(ctx, bus.OutboundMessage{Channel: TelegramName, ChatID: "9", Content: "ping"}))
	assert.Eventually(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return len(bot.sent) == 1
	}, time.Second, 5*time.Millisecond)
}
