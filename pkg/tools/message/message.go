// Package message provides the message tool, which sends text to a user
// on a chat channel through the message bus.
package message

import (
	"context"
	"fmt"

	"github.com/entrhq/toolbelt/pkg/bus"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// Tool implements message.
type Tool struct {
	bus            *bus.MessageBus
	defaultChannel string
	defaultChatID  string
}

// New creates the message tool. The defaults apply when neither the
// arguments nor the invocation origin name a destination.
func New(b *bus.MessageBus, defaultChannel, defaultChatID string) *Tool {
	return &Tool{bus: b, defaultChannel: defaultChannel, defaultChatID: defaultChatID}
}

func (t *Tool) Name() string { return "message" }

func (t *Tool) Description() string {
	return "Send a message to the user. Use this when you want to communicate something."
}

func (t *Tool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"content": tools.Prop("string", "The message content to send"),
			"channel": tools.Prop("string", "Optional: target channel (telegram, console, etc.)"),
			"chat_id": tools.Prop("string", "Optional: target chat/user ID"),
		},
		[]string{"content"},
	)
}

func (t *Tool) SideEffect() tools.SideEffect { return tools.SideEffectNetwork }

func (t *Tool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	content, err := tools.RequiredString(args, "content")
	if err != nil {
		return "", nil, err
	}

	channel, chatID := t.destination(ctx, args)
	if channel == "" || chatID == "" {
		return "", nil, tools.InvalidArguments("no target channel/chat specified")
	}

	err = t.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	})
	if err != nil {
		return "", nil, tools.External(err, "failed to queue message")
	}

	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), map[string]interface{}{
		"channel": channel,
		"chat_id": chatID,
	}, nil
}

// destination resolves channel and chat id: explicit arguments first, then
// the invocation origin, then the configured defaults.
func (t *Tool) destination(ctx context.Context, args map[string]interface{}) (string, string) {
	channel := tools.String(args, "channel")
	chatID := tools.String(args, "chat_id")

	if origin, ok := tools.OriginFrom(ctx); ok {
		if channel == "" {
			channel = origin.Channel
		}
		if chatID == "" && channel == origin.Channel {
			chatID = origin.ChatID
		}
	}
	if channel == "" {
		channel = t.defaultChannel
	}
	if chatID == "" && channel == t.defaultChannel {
		chatID = t.defaultChatID
	}
	return channel, chatID
}
