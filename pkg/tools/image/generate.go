package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	goimage "image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/toolbelt/pkg/llm"
	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// ImagesDir is the workspace directory generated images are saved to.
const ImagesDir = "images"

// GenerateTool implements generate_image.
type GenerateTool struct {
	guard     *workspace.Guard
	generator llm.ImageGenerator
	now       func() time.Time
}

// NewGenerate creates generate_image. generator may be nil, in which case
// every call fails with an external-dependency error.
func NewGenerate(guard *workspace.Guard, generator llm.ImageGenerator) *GenerateTool {
	return &GenerateTool{guard: guard, generator: generator, now: time.Now}
}

func (t *GenerateTool) Name() string { return "generate_image" }

func (t *GenerateTool) Description() string {
	return "Generate an image from a text prompt, or edit a local image when input_image is given. " +
		"Always call this tool when asked to create an image; never describe one instead. The image is saved under the workspace images/ directory."
}

func (t *GenerateTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"prompt":      tools.Prop("string", "What to generate, or how to change input_image"),
			"input_image": tools.Prop("string", "Path to a local image to edit"),
			"resolution":  tools.EnumProp("Resolution (default: 1k)", "1k", "2k", "4k"),
		},
		[]string{"prompt"},
	)
}

func (t *GenerateTool) SideEffect() tools.SideEffect { return tools.SideEffectMutating }

func (t *GenerateTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	prompt, err := tools.RequiredString(args, "prompt")
	if err != nil {
		return "", nil, err
	}
	resolution := tools.String(args, "resolution")
	if resolution == "" {
		resolution = "1k"
	}
	req := llm.ImageRequest{Prompt: prompt, Size: resolution}

	inputPath := tools.String(args, "input_image")
	if inputPath != "" {
		abs, err := t.resolve(inputPath)
		if err != nil {
			return "", nil, err
		}
		data, mime, err := readImage(abs)
		if err != nil {
			return "", nil, err
		}
		req.Input = &llm.InlineImage{MIMEType: mime, Data: data}
	}

	if t.generator == nil {
		return "", nil, tools.External(errors.New("missing api key"), "GEMINI_API_KEY or GOOGLE_API_KEY not configured")
	}
	resp, err := t.generator.GenerateImage(ctx, req)
	if err != nil {
		return "", nil, tools.External(err, "image generation failed")
	}

	dir := filepath.Join(t.guard.WorkspaceDir(), ImagesDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, tools.External(err, "failed to create %s", dir)
	}

	lines := []string{"[Image generated: " + prompt + "]"}
	if inputPath != "" {
		lines = append(lines, "[Edit mode: "+inputPath+"]")
	}
	lines = append(lines, "[Resolution: "+resolution+"]")
	if resp.Text != "" {
		lines = append(lines, "", resp.Text)
	}

	stamp := t.now().UnixMilli()
	saved := make([]string, 0, len(resp.Images))
	for i, img := range resp.Images {
		name := fmt.Sprintf("generated_%d.png", stamp)
		if i > 0 {
			name = fmt.Sprintf("generated_%d_%d.png", stamp, i+1)
		}
		path := filepath.Join(dir, name)
		if err := savePNG(path, img); err != nil {
			return "", nil, tools.External(err, "failed to save generated image")
		}
		display := t.guard.DisplayPath(path)
		saved = append(saved, display)
		lines = append(lines, "Saved to: "+display)
	}

	return strings.Join(lines, "\n"), map[string]interface{}{
		"files":      saved,
		"resolution": resolution,
	}, nil
}

func (t *GenerateTool) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return "", tools.InvalidArguments("URLs are not supported; download the image and pass a local path")
	}
	abs, err := t.guard.Resolve(path)
	if err != nil {
		if errors.Is(err, workspace.ErrOutsideWorkspace) {
			return "", tools.OutsideWorkspace(err, "path %s is outside allowed directory %s", path, t.guard.WorkspaceDir())
		}
		return "", tools.InvalidArguments("invalid path %q: %v", path, err)
	}
	return abs, nil
}

// savePNG stores img as an opaque PNG. Transparent pixels are laid on a
// white background. Data that cannot be decoded is written as is.
func savePNG(path string, img llm.InlineImage) error {
	data := img.Data
	if decoded, _, err := goimage.Decode(bytes.NewReader(img.Data)); err == nil {
		bounds := decoded.Bounds()
		flat := goimage.NewRGBA(bounds)
		draw.Draw(flat, bounds, &goimage.Uniform{C: color.White}, goimage.Point{}, draw.Src)
		draw.Draw(flat, bounds, decoded, bounds.Min, draw.Over)

		var buf bytes.Buffer
		if err := png.Encode(&buf, flat); err != nil {
			return err
		}
		data = buf.Bytes()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".generated-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
