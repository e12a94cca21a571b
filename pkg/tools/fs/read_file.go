package fs

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// ReadFileTool returns file contents verbatim, optionally limited to a
// line range.
type ReadFileTool struct {
	guard *workspace.Guard
}

// NewReadFileTool creates a ReadFileTool.
func NewReadFileTool(guard *workspace.Guard) *ReadFileTool {
	return &ReadFileTool{guard: guard}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the given path."
}

func (t *ReadFileTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"path":       tools.Prop("string", "The file path to read"),
			"start_line": tools.Prop("integer", "Optional first line to return (1-based, inclusive)"),
			"end_line":   tools.Prop("integer", "Optional last line to return (1-based, inclusive)"),
		},
		[]string{"path"},
	)
}

func (t *ReadFileTool) SideEffect() tools.SideEffect { return tools.SideEffectReadOnly }

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	path, err := tools.RequiredString(args, "path")
	if err != nil {
		return "", nil, err
	}
	startLine, err := tools.Int(args, "start_line", 0)
	if err != nil {
		return "", nil, err
	}
	endLine, err := tools.Int(args, "end_line", 0)
	if err != nil {
		return "", nil, err
	}

	absPath, err := resolve(t.guard, path)
	if err != nil {
		return "", nil, err
	}

	info, err := os.Stat(absPath)
	switch {
	case os.IsNotExist(err):
		return "", nil, tools.InvalidArguments("file not found: %s", path)
	case err != nil:
		return "", nil, tools.External(err, "failed to stat %s", path)
	case info.IsDir():
		return "", nil, tools.InvalidArguments("not a file: %s", path)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", nil, tools.External(err, "failed to read %s", path)
	}

	content := string(data)
	if startLine > 0 || endLine > 0 {
		content, err = sliceLines(content, startLine, endLine)
		if err != nil {
			return "", nil, err
		}
	}

	metadata := map[string]interface{}{
		"path":       path,
		"size_bytes": info.Size(),
		"modified":   info.ModTime().Format(time.RFC3339),
	}
	return content, metadata, nil
}

func sliceLines(content string, startLine, endLine int) (string, error) {
	if startLine == 0 {
		startLine = 1
	}
	if startLine < 1 {
		return "", tools.InvalidArguments("start_line must be >= 1, got %d", startLine)
	}
	if endLine != 0 && endLine < startLine {
		return "", tools.InvalidArguments("end_line (%d) must be >= start_line (%d)", endLine, startLine)
	}

	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if startLine > len(lines) {
		return "", tools.InvalidArguments("start_line %d is past the end of the file (%d lines)", startLine, len(lines))
	}
	if endLine == 0 || endLine > len(lines) {
		endLine = len(lines)
	}
	return strings.Join(lines[startLine-1:endLine], ""), nil
}
