package llm

import "context"

// InlineImage is raw image data with its MIME type.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

// ImageRequest asks for a new image, or an edit of Input when set.
type ImageRequest struct {
	Prompt string
	Input  *InlineImage
	// Size is a resolution hint such as "1K", "2K" or "4K".
	Size string
}

// ImageResponse holds the generated images and any text the model added.
type ImageResponse struct {
	Images []InlineImage
	Text   string
}

// ImageGenerator creates or edits images from a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error)
}
