// Package gemini provides a Google Gemini provider built on the genai SDK.
package gemini

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/entrhq/toolbelt/pkg/llm"
	"github.com/entrhq/toolbelt/pkg/llm/parser"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Provider implements llm.Provider for the Gemini API.
type Provider struct {
	client     *genai.Client
	apiKey     string
	baseURL    string
	httpClient *http.Client
	model      string
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

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// NewProvider creates a Gemini provider. The API key is required.
func NewProvider(ctx context.Context, apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		return nil, llm.ErrNoProvider
	}
	p := &Provider{apiKey: apiKey, model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	p.client = client
	return p, nil
}

// CloneWithModel returns a copy of p using model. It implements
// llm.ModelCloner.
func (p *Provider) CloneWithModel(model string) llm.Provider {
	clone := *p
	clone.model = model
	return &clone
}

// StreamCompletion streams the reply. Parts the model marks as thoughts and
// text inside <thinking> tags arrive as thinking chunks.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*llm.Message) (<-chan *llm.StreamChunk, error) {
	contents, system, err := convertMessages(messages)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go func() {
		defer close(chunks)

		send := func(c *llm.StreamChunk) bool {
			if c == nil {
				return true
			}
			if c.Role == "" {
				c.Role = string(llm.RoleAssistant)
			}
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		thinking := parser.NewThinkingParser()
		stream := p.client.Models.GenerateContentStream(ctx, p.model, contents, &genai.GenerateContentConfig{
			SystemInstruction: system,
		})
		for resp, err := range stream {
			if err != nil {
				send(&llm.StreamChunk{Error: fmt.Errorf("gemini stream: %w", err)})
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					if part.Thought {
						if !send(&llm.StreamChunk{Type: llm.ContentTypeThinking, Content: part.Text}) {
							return
						}
						continue
					}
					th, msg := thinking.Parse(part.Text)
					if !send(th) || !send(msg) {
						return
					}
				}
			}
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

// GetBaseURL returns the configured endpoint, empty for the default.
func (p *Provider) GetBaseURL() string { return p.baseURL }

// convertMessages maps messages onto genai contents. System messages
// become the system instruction; images must be data URLs.
func convertMessages(messages []*llm.Message) ([]*genai.Content, *genai.Content, error) {
	var contents []*genai.Content
	var system *genai.Content

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: msg.Content})
			continue
		}

		role := string(genai.RoleUser)
		if msg.Role == llm.RoleAssistant {
			role = string(genai.RoleModel)
		}

		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}
		for _, img := range msg.Images {
			mime, data, err := llm.DecodeDataURL(img)
			if err != nil {
				return nil, nil, fmt.Errorf("gemini image: %w", err)
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: data}})
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}
	return contents, system, nil
}
