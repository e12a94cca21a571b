package fs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// EditFileTool replaces one exact occurrence of old_text with new_text.
// The file is left untouched when old_text is missing or ambiguous.
type EditFileTool struct {
	guard *workspace.Guard
}

// NewEditFileTool creates an EditFileTool.
func NewEditFileTool(guard *workspace.Guard) *EditFileTool {
	return &EditFileTool{guard: guard}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing old_text with new_text. The old_text must exist exactly once in the file."
}

func (t *EditFileTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"path":     tools.Prop("string", "The file path to edit"),
			"old_text": tools.Prop("string", "The exact text to find and replace"),
			"new_text": tools.Prop("string", "The text to replace with"),
		},
		[]string{"path", "old_text", "new_text"},
	)
}

func (t *EditFileTool) SideEffect() tools.SideEffect { return tools.SideEffectMutating }

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	path, err := tools.RequiredString(args, "path")
	if err != nil {
		return "", nil, err
	}
	oldText := tools.String(args, "old_text")
	newText := tools.String(args, "new_text")
	if oldText == "" {
		return "", nil, tools.InvalidArguments("old_text cannot be empty")
	}

	absPath, err := resolve(t.guard, path)
	if err != nil {
		return "", nil, err
	}

	data, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		return "", nil, tools.InvalidArguments("file not found: %s", path)
	}
	if err != nil {
		return "", nil, tools.External(err, "failed to read %s", path)
	}
	content := string(data)

	switch count := strings.Count(content, oldText); {
	case count == 0:
		return "", nil, tools.InvalidArguments("old_text not found in file. Make sure it matches exactly")
	case count > 1:
		return "", nil, tools.InvalidArguments("old_text appears %d times. Please provide more context to make it unique", count)
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := writeAtomic(absPath, []byte(updated)); err != nil {
		return "", nil, tools.External(err, "failed to write %s", path)
	}

	metadata := map[string]interface{}{
		"path":          path,
		"lines_added":   countLines(newText),
		"lines_removed": countLines(oldText),
	}
	return fmt.Sprintf("Successfully edited %s", path), metadata, nil
}

// countLines counts lines in s; a trailing newline does not start a new line.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}
