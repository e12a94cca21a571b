package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/entrhq/toolbelt/pkg/llm"
)

// DefaultImageModel generates and edits images.
const DefaultImageModel = "gemini-2.5-flash-image"

// ErrNoImage is returned when the model answers without an image.
var ErrNoImage = errors.New("model returned no image")

// GenerateImage implements llm.ImageGenerator with the provider's model,
// which must be an image-capable model such as DefaultImageModel.
func (p *Provider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	prompt := req.Prompt
	if req.Size != "" && !strings.EqualFold(req.Size, "1k") {
		prompt += fmt.Sprintf("\n\nOutput resolution: %s.", strings.ToUpper(req.Size))
	}

	var parts []*genai.Part
	if req.Input != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.Input.MIMEType, Data: req.Input.Data}})
	}
	parts = append(parts, &genai.Part{Text: prompt})
	contents := []*genai.Content{{Role: string(genai.RoleUser), Parts: parts}}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini image generation: %w", err)
	}

	out := &llm.ImageResponse{}
	var text []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part.InlineData != nil && len(part.InlineData.Data) > 0:
				out.Images = append(out.Images, llm.InlineImage{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data})
			case part.Text != "" && !part.Thought:
				text = append(text, part.Text)
			}
		}
	}
	out.Text = strings.TrimSpace(strings.Join(text, "\n"))
	if len(out.Images) == 0 {
		if out.Text != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoImage, out.Text)
		}
		return nil, ErrNoImage
	}
	return out, nil
}
