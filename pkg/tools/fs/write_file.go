package fs

import (
	"context"
	"fmt"
	"os"

	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// WriteFileTool creates or overwrites files.
type WriteFileTool struct {
	guard *workspace.Guard
}

// NewWriteFileTool creates a WriteFileTool.
func NewWriteFileTool(guard *workspace.Guard) *WriteFileTool {
	return &WriteFileTool{guard: guard}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file at the given path. Creates parent directories if needed."
}

func (t *WriteFileTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"path":    tools.Prop("string", "The file path to write to"),
			"content": tools.Prop("string", "The content to write"),
		},
		[]string{"path", "content"},
	)
}

func (t *WriteFileTool) SideEffect() tools.SideEffect { return tools.SideEffectMutating }

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	path, err := tools.RequiredString(args, "path")
	if err != nil {
		return "", nil, err
	}
	content := tools.String(args, "content")

	absPath, err := resolve(t.guard, path)
	if err != nil {
		return "", nil, err
	}

	existed := false
	if info, statErr := os.Stat(absPath); statErr == nil {
		if info.IsDir() {
			return "", nil, tools.InvalidArguments("%s is a directory", path)
		}
		existed = true
	}

	if err := writeAtomic(absPath, []byte(content)); err != nil {
		return "", nil, tools.External(err, "failed to write %s", path)
	}

	metadata := map[string]interface{}{
		"path":        path,
		"file_exists": existed,
		"size_bytes":  len(content),
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), metadata, nil
}
