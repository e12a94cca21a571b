// Package channels delivers bus messages to users. Each channel receives
// outbound messages addressed to its name and may publish inbound
// messages from its users.
package channels

import (
	"context"

	"github.com/entrhq/toolbelt/pkg/bus"
)

// Channel is one delivery surface.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel holds what every channel shares: its name, the bus and the
// sender allow-list.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
}

// NewBaseChannel creates a BaseChannel. An empty allowFrom admits everyone.
func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allow := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allow[id] = true
	}
	return BaseChannel{name: name, bus: b, allowFrom: allow}
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed reports whether senderID may talk to the channel.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[senderID]
}
