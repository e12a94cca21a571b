// Package gateway runs the long-lived toolbelt: channels, outbound
// delivery, the cron scheduler, the heartbeat and the inbound loop that
// answers channel messages with a tool-using agent.
package gateway

import (
	"context"
	"fmt"

	"github.com/entrhq/toolbelt/pkg/bootstrap"
	"github.com/entrhq/toolbelt/pkg/bus"
	"github.com/entrhq/toolbelt/pkg/channels"
	"github.com/entrhq/toolbelt/pkg/tools"
)

const errorReply = "Sorry, I encountered an error processing your message."

// Gateway ties a runtime to its channels.
type Gateway struct {
	rt       *bootstrap.Runtime
	channels *channels.Manager
}

// New creates a gateway.
func New(rt *bootstrap.Runtime, chs *channels.Manager) *Gateway {
	return &Gateway{rt: rt, channels: chs}
}

// Run starts every service and blocks until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := g.rt.Logger
	go g.rt.Bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	defer g.channels.StopAll()
	logger.Infof("[gateway] channels started: %v", g.channels.Names())

	if err := g.rt.Cron.Start(ctx); err != nil {
		logger.Warnf("[gateway] cron start warning: %v", err)
	}

	if g.rt.Config.Heartbeat.Enabled {
		go func() {
			if err := g.rt.Heartbeat.Start(ctx); err != nil {
				logger.Warnf("[gateway] heartbeat error: %v", err)
			}
		}()
	}

	g.processLoop(ctx)
	logger.Infof("[gateway] shutting down")
	return nil
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.rt.Bus.Inbound:
			g.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// handle answers one inbound message on the channel it came from. Tools
// such as message and spawn see that channel as their origin.
func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	g.rt.Logger.Infof("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

	ctx = tools.WithOrigin(ctx, tools.Origin{Channel: msg.Channel, ChatID: msg.ChatID})
	result, err := g.rt.Subagents.Run(ctx, msg.Content)
	if err != nil {
		g.rt.Logger.Errorf("[gateway] agent error: %v", err)
		result = errorReply
	}
	if result == "" {
		return
	}

	err = g.rt.Bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: result,
	})
	if err != nil {
		g.rt.Logger.Warnf("[gateway] reply dropped: %v", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
