// Package llm defines the chat-completion provider used by the image tool
// and by spawned subagents.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message. Images are data: or https: URLs attached to
// a user message.
type Message struct {
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// NewImageMessage creates a user message carrying question and the images.
func NewImageMessage(question string, images ...string) *Message {
	return &Message{Role: RoleUser, Content: question, Images: images}
}

// ContentType separates thinking from the visible reply in a stream.
type ContentType string

const (
	ContentTypeMessage  ContentType = "message"
	ContentTypeThinking ContentType = "thinking"
)

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Role     string
	Content  string
	Type     ContentType
	Finished bool
	Error    error
}

// IsError reports whether the chunk carries a stream error.
func (c *StreamChunk) IsError() bool {
	return c != nil && c.Error != nil
}

// IsThinking reports whether the chunk is thinking content.
func (c *StreamChunk) IsThinking() bool {
	return c != nil && c.Type == ContentTypeThinking
}

// Provider talks to a chat-completion API.
type Provider interface {
	// StreamCompletion streams the reply to messages. The channel is closed
	// when the stream ends; stream-time failures arrive as error chunks.
	StreamCompletion(ctx context.Context, messages []*Message) (<-chan *StreamChunk, error)

	// Complete returns the whole visible reply. Thinking content is dropped.
	Complete(ctx context.Context, messages []*Message) (*Message, error)

	// GetModel returns the model name being used.
	GetModel() string

	// GetBaseURL returns the base URL being used for API requests.
	GetBaseURL() string
}

// ModelCloner is implemented by providers that can switch model cheaply,
// sharing credentials and transport with the original.
type ModelCloner interface {
	CloneWithModel(model string) Provider
}

// WithModel returns p switched to model when p supports it, and p otherwise.
func WithModel(p Provider, model string) Provider {
	if model == "" || model == p.GetModel() {
		return p
	}
	if c, ok := p.(ModelCloner); ok {
		return c.CloneWithModel(model)
	}
	return p
}

// Collect drains a stream into the visible reply.
func Collect(stream <-chan *StreamChunk) (*Message, error) {
	var content strings.Builder
	role := string(RoleAssistant)
	for chunk := range stream {
		if chunk.IsError() {
			return nil, chunk.Error
		}
		if chunk.Role != "" {
			role = chunk.Role
		}
		if chunk.IsThinking() {
			continue
		}
		content.WriteString(chunk.Content)
	}
	return &Message{Role: Role(role), Content: content.String()}, nil
}

// ErrNoProvider is returned by features that need an LLM when none is configured.
var ErrNoProvider = errors.New("no LLM provider configured (set llm.api_key, OPENAI_API_KEY or GEMINI_API_KEY)")
