// Package ollama provides a provider for a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/entrhq/toolbelt/pkg/llm"
	"github.com/entrhq/toolbelt/pkg/llm/parser"
)

const (
	// DefaultHost is used when no host is configured.
	DefaultHost = "http://127.0.0.1:11434"
	// DefaultModel is used when no model is configured.
	DefaultModel = "llama3.2-vision"
)

// Provider implements llm.Provider for Ollama.
type Provider struct {
	client  *api.Client
	host    string
	model   string
	options map[string]any
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOptions sets model options such as temperature or num_ctx.
func WithOptions(options map[string]any) ProviderOption {
	return func(p *Provider) {
		p.options = options
	}
}

// NewProvider creates a provider for the server at host. The HTTP client
// has no overall timeout; requests are bounded by their context.
func NewProvider(host string, httpClient *http.Client, opts ...ProviderOption) (*Provider, error) {
	if host == "" {
		host = DefaultHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	p := &Provider{
		client: api.NewClient(u, httpClient),
		host:   host,
		model:  DefaultModel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CloneWithModel returns a copy of p using model. It implements
// llm.ModelCloner.
func (p *Provider) CloneWithModel(model string) llm.Provider {
	clone := *p
	clone.model = model
	return &clone
}

// StreamCompletion streams the reply. Thinking reported by the server and
// text inside <thinking> tags arrive as thinking chunks.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*llm.Message) (<-chan *llm.StreamChunk, error) {
	msgs, err := convertMessages(messages)
	if err != nil {
		return nil, err
	}

	stream := true
	req := &api.ChatRequest{
		Model:    p.model,
		Messages: msgs,
		Options:  p.options,
		Stream:   &stream,
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go func() {
		defer close(chunks)

		send := func(c *llm.StreamChunk) error {
			if c == nil {
				return nil
			}
			if c.Role == "" {
				c.Role = string(llm.RoleAssistant)
			}
			select {
			case chunks <- c:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		thinking := parser.NewThinkingParser()
		err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Thinking != "" {
				if err := send(&llm.StreamChunk{Type: llm.ContentTypeThinking, Content: resp.Message.Thinking}); err != nil {
					return err
				}
			}
			if resp.Message.Content != "" {
				th, msg := thinking.Parse(resp.Message.Content)
				if err := send(th); err != nil {
					return err
				}
				if err := send(msg); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			send(&llm.StreamChunk{Error: fmt.Errorf("ollama chat: %w", err)})
			return
		}
		th, msg := thinking.Flush()
		send(th)
		send(msg)
		send(&llm.StreamChunk{Finished: true})
	}()
	return chunks, nil
}

// Complete returns the visible reply.
func (p *Provider) Complete(ctx context.Context, messages []*llm.Message) (*llm.Message, error) {
	stream, err := p.StreamCompletion(ctx, messages)
	if err != nil {
		return nil, err
	}
	return llm.Collect(stream)
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string { return p.model }

// GetBaseURL returns the server address.
func (p *Provider) GetBaseURL() string { return p.host }

// convertMessages maps messages onto the Ollama chat format. Images must be
// data URLs; Ollama takes the raw bytes.
func convertMessages(messages []*llm.Message) ([]api.Message, error) {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msg := api.Message{Role: string(m.Role), Content: m.Content}
		for _, img := range m.Images {
			_, data, err := llm.DecodeDataURL(img)
			if err != nil {
				return nil, fmt.Errorf("ollama image: %w", err)
			}
			msg.Images = append(msg.Images, api.ImageData(data))
		}
		out = append(out, msg)
	}
	return out, nil
}
