// Package image provides the image tool, which asks the configured vision
// model about a local image file, and generate_image, which creates or
// edits images and saves them to the workspace.
package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/entrhq/toolbelt/pkg/llm"
	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/tools"
)

const (
	// DefaultQuestion is asked when the caller gives none.
	DefaultQuestion = "Describe this image in detail."

	maxImageBytes = 20 << 20
	systemPrompt  = "You are a precise visual analyst. Answer the question about the attached image. Mention any visible text verbatim."
)

// Tool implements image.
type Tool struct {
	guard    *workspace.Guard
	provider llm.Provider
}

// New creates the image tool. provider may be nil, in which case every
// call fails with an external-dependency error.
func New(guard *workspace.Guard, provider llm.Provider) *Tool {
	return &Tool{guard: guard, provider: provider}
}

func (t *Tool) Name() string { return "image" }

func (t *Tool) Description() string {
	return "Analyze a local image file with the vision model. Provide the image path and optionally a question."
}

func (t *Tool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"path":     tools.Prop("string", "Path to a local image file"),
			"question": tools.Prop("string", "Question about the image (default: "+DefaultQuestion+")"),
		},
		[]string{"path"},
	)
}

func (t *Tool) SideEffect() tools.SideEffect { return tools.SideEffectNetwork }

func (t *Tool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	path, err := tools.RequiredString(args, "path")
	if err != nil {
		return "", nil, err
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return "", nil, tools.InvalidArguments("URLs are not supported; download the image and pass a local path")
	}
	question := strings.TrimSpace(tools.String(args, "question"))
	if question == "" {
		question = DefaultQuestion
	}

	abs, err := t.guard.Resolve(path)
	if err != nil {
		if errors.Is(err, workspace.ErrOutsideWorkspace) {
			return "", nil, tools.OutsideWorkspace(err, "path %s is outside allowed directory %s", path, t.guard.WorkspaceDir())
		}
		return "", nil, tools.InvalidArguments("invalid path %q: %v", path, err)
	}

	dataURL, mime, err := encodeImage(abs)
	if err != nil {
		return "", nil, err
	}

	if t.provider == nil {
		return "", nil, tools.External(llm.ErrNoProvider, "vision model unavailable")
	}
	reply, err := t.provider.Complete(ctx, []*llm.Message{
		llm.NewSystemMessage(systemPrompt),
		llm.NewImageMessage(question, dataURL),
	})
	if err != nil {
		return "", nil, err
	}
	desc := strings.TrimSpace(reply.Content)
	if desc == "" {
		return "", nil, tools.External(nil, "vision model returned an empty description")
	}

	return "[Image Description]\n" + desc, map[string]interface{}{
		"path":      t.guard.DisplayPath(abs),
		"mime_type": mime,
		"model":     t.provider.GetModel(),
	}, nil
}

// encodeImage reads path and returns it as a base64 data URL.
func encodeImage(path string) (string, string, error) {
	data, mime, err := readImage(path)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), mime, nil
}

// readImage reads an image file. The content type is sniffed from the
// bytes, not the extension.
func readImage(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", tools.InvalidArguments("file not found: %s", path)
		}
		return nil, "", tools.InvalidArguments("cannot access %s: %v", path, err)
	}
	if info.IsDir() {
		return nil, "", tools.InvalidArguments("%s is a directory", path)
	}
	if info.Size() > maxImageBytes {
		return nil, "", tools.InvalidArguments("image is too large (%d bytes, max %d)", info.Size(), maxImageBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", tools.InvalidArguments("failed to read %s: %v", path, err)
	}
	mime := http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", tools.InvalidArguments("%s is not an image (detected %s)", path, mime)
	}
	return data, mime, nil
}
