package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/toolbelt/pkg/bus"
	"github.com/entrhq/toolbelt/pkg/logging"
)

// ConsoleName is the channel name of the console.
const ConsoleName = "console"

var (
	chatStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	contentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// ConsoleChannel prints outbound messages to a writer and, when given a
// reader, publishes each input line as an inbound message.
type ConsoleChannel struct {
	BaseChannel
	mu     sync.Mutex
	out    io.Writer
	in     io.Reader
	chatID string
	logger *logging.Logger
}

// NewConsoleChannel creates the console channel. in may be nil.
func NewConsoleChannel(b *bus.MessageBus, out io.Writer, in io.Reader, chatID string, logger *logging.Logger) *ConsoleChannel {
	if chatID == "" {
		chatID = "direct"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &ConsoleChannel{
		BaseChannel: NewBaseChannel(ConsoleName, b, nil),
		out:         out,
		in:          in,
		chatID:      chatID,
		logger:      logger,
	}
}

// Start begins reading input lines, if a reader was given.
func (c *ConsoleChannel) Start(ctx context.Context) error {
	if c.in == nil {
		return nil
	}
	go c.readLoop(ctx)
	return nil
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		err := c.bus.PublishInbound(ctx, bus.InboundMessage{
			Channel:  ConsoleName,
			SenderID: "user",
			ChatID:   c.chatID,
			Content:  line,
		})
		if err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warnf("console input stopped: %v", err)
	}
}

func (c *ConsoleChannel) Stop() error { return nil }

// Send prints msg as "[chat] content".
func (c *ConsoleChannel) Send(msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s %s\n", chatStyle.Render("["+msg.ChatID+"]"), contentStyle.Render(msg.Content))
	return err
}
