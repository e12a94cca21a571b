// Package bus carries messages between channels and the tools that talk
// to them. Inbound messages come from users; outbound messages are routed
// to the channel named in the message.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/entrhq/toolbelt/pkg/logging"
)

// DefaultBufferSize is the capacity of each direction's queue.
const DefaultBufferSize = 100

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("message bus closed")

// InboundMessage is a message received from a user on a channel.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// SessionKey identifies the conversation the message belongs to.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a message to deliver on a channel.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]interface{}
}

// Handler receives routed outbound messages.
type Handler func(OutboundMessage)

// MessageBus is a pair of buffered queues plus per-channel subscribers for
// outbound delivery.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string][]Handler
	closed      bool
	done        chan struct{}
	logger      *logging.Logger
}

// New creates a bus with the given queue capacity.
func New(bufferSize int, logger *logging.Logger) *MessageBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufferSize),
		Outbound:    make(chan OutboundMessage, bufferSize),
		subscribers: make(map[string][]Handler),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// PublishInbound queues msg for the inbound consumer. It blocks while the
// queue is full.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.Inbound <- msg:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishOutbound queues msg for delivery. It blocks while the queue is full.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.Outbound <- msg:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeOutbound registers fn for messages addressed to channel.
func (b *MessageBus) SubscribeOutbound(channel string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], fn)
}

// Channels lists the channel names with at least one subscriber.
func (b *MessageBus) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subscribers))
	for name := range b.subscribers {
		names = append(names, name)
	}
	return names
}

// DispatchOutbound delivers outbound messages to subscribers until ctx is
// done or the bus is closed. Messages for a channel nobody subscribed to
// are logged and dropped.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.deliver(msg)
		case <-ctx.Done():
			return
		case <-b.done:
			return
		}
	}
}

func (b *MessageBus) deliver(msg OutboundMessage) {
	b.mu.RLock()
	handlers := b.subscribers[msg.Channel]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Warnf("no channel %q; dropping message for chat %s", msg.Channel, msg.ChatID)
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

// Close stops dispatch and makes further publishes fail.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
}
