package channels

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/entrhq/toolbelt/pkg/bus"
	"github.com/entrhq/toolbelt/pkg/config"
	"github.com/entrhq/toolbelt/pkg/logging"
)

// TelegramName is the channel name of the Telegram bot.
const TelegramName = "telegram"

// maxTelegramChunk keeps each message under Telegram's 4096 character limit.
const maxTelegramChunk = 4000

// TelegramBot is the part of the bot API the channel uses.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type botAPI struct {
	*tgbotapi.BotAPI
}

func (b botAPI) GetSelf() tgbotapi.User { return b.Self }

// BotFactory creates bots; tests substitute a fake.
type BotFactory func(token string, client *http.Client) (TelegramBot, error)

// NewBotAPI is the BotFactory backed by the real Telegram API.
func NewBotAPI(token string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	return botAPI{bot}, nil
}

// TelegramChannel long-polls a bot for inbound messages and sends
// outbound ones as HTML.
type TelegramChannel struct {
	BaseChannel
	token   string
	proxy   string
	factory BotFactory
	bot     TelegramBot
	cancel  context.CancelFunc
	logger  *logging.Logger
}

// NewTelegramChannel creates the channel. factory may be nil to use the
// real API.
func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory, logger *logging.Logger) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if factory == nil {
		factory = NewBotAPI
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel(TelegramName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		factory:     factory,
		logger:      logger,
	}, nil
}

func (t *TelegramChannel) httpClient() (*http.Client, error) {
	if t.proxy == "" {
		return http.DefaultClient, nil
	}
	proxyURL, err := url.Parse(t.proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}, nil
}

// Start authorizes the bot and begins polling.
func (t *TelegramChannel) Start(ctx context.Context) error {
	client, err := t.httpClient()
	if err != nil {
		return err
	}
	bot, err := t.factory(t.token, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	t.logger.Infof("telegram authorized as @%s", bot.GetSelf().UserName)

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					t.handleMessage(ctx, update.Message)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		t.logger.Warnf("telegram rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	err := t.bus.PublishInbound(ctx, bus.InboundMessage{
		Channel:   TelegramName,
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]interface{}{
			"username":   msg.From.UserName,
			"message_id": msg.MessageID,
		},
	})
	if err != nil {
		t.logger.Warnf("telegram inbound dropped: %v", err)
	}
}

// Stop ends polling.
func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	return nil
}

// Send delivers msg, split into chunks that fit Telegram's limit. A chunk
// rejected as HTML is resent as plain text.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	for _, chunk := range splitMessage(msg.Content, maxTelegramChunk) {
		out := tgbotapi.NewMessage(chatID, toTelegramHTML(chunk))
		out.ParseMode = tgbotapi.ModeHTML
		if _, err := t.bot.Send(out); err == nil {
			continue
		}
		out.Text = chunk
		out.ParseMode = ""
		if _, err := t.bot.Send(out); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// splitMessage cuts s into pieces of at most limit bytes, preferring
// newline boundaries.
func splitMessage(s string, limit int) []string {
	var parts []string
	for len(s) > limit {
		cut := strings.LastIndex(s[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !isRuneStart(s[cut]) {
				cut--
			}
		}
		parts = append(parts, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

var (
	fencePattern  = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n?(.*?)```")
	codePattern   = regexp.MustCompile("`([^`\\n]+)`")
	boldPattern   = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	italicPattern = regexp.MustCompile(`\*([^*\n]+)\*`)
	htmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// toTelegramHTML converts the common markdown subset to Telegram HTML.
func toTelegramHTML(s string) string {
	s = htmlEscaper.Replace(s)
	s = fencePattern.ReplaceAllString(s, "<pre>$1</pre>")
	s = codePattern.ReplaceAllString(s, "<code>$1</code>")
	s = boldPattern.ReplaceAllString(s, "<b>$1</b>")
	s = italicPattern.ReplaceAllString(s, "<i>$1</i>")
	return s
}
