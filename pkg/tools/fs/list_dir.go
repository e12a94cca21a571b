package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// ListDirTool lists directory entries, directories first.
type ListDirTool struct {
	guard *workspace.Guard
}

// NewListDirTool creates a ListDirTool.
func NewListDirTool(guard *workspace.Guard) *ListDirTool {
	return &ListDirTool{guard: guard}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory. Optionally filter entry names with a glob pattern or list recursively."
}

func (t *ListDirTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"path":      tools.Prop("string", "The directory path to list"),
			"pattern":   tools.Prop("string", "Optional glob pattern for entry names (e.g. '*.go', '{a,b}*')"),
			"recursive": tools.Prop("boolean", "List subdirectories recursively (default: false)"),
		},
		[]string{"path"},
	)
}

func (t *ListDirTool) SideEffect() tools.SideEffect { return tools.SideEffectReadOnly }

type dirEntry struct {
	name  string
	isDir bool
	size  int64
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	path, err := tools.RequiredString(args, "path")
	if err != nil {
		return "", nil, err
	}
	recursive, err := tools.Bool(args, "recursive", false)
	if err != nil {
		return "", nil, err
	}

	var matcher glob.Glob
	if pattern := tools.String(args, "pattern"); pattern != "" {
		matcher, err = glob.Compile(pattern)
		if err != nil {
			return "", nil, tools.InvalidArguments("invalid pattern %q: %v", pattern, err)
		}
	}

	absPath, err := resolve(t.guard, path)
	if err != nil {
		return "", nil, err
	}

	info, err := os.Stat(absPath)
	switch {
	case os.IsNotExist(err):
		return "", nil, tools.InvalidArguments("directory not found: %s", path)
	case err != nil:
		return "", nil, tools.External(err, "failed to stat %s", path)
	case !info.IsDir():
		return "", nil, tools.InvalidArguments("not a directory: %s", path)
	}

	var entries []dirEntry
	if recursive {
		entries, err = t.walk(ctx, absPath, matcher)
	} else {
		entries, err = t.list(absPath, matcher)
	}
	if err != nil {
		return "", nil, tools.External(err, "failed to list %s", path)
	}

	metadata := map[string]interface{}{
		"path":  path,
		"count": len(entries),
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory %s is empty", path), metadata, nil
	}
	return formatEntries(entries), metadata, nil
}

func (t *ListDirTool) list(dir string, matcher glob.Glob) ([]dirEntry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []dirEntry
	for _, item := range items {
		if t.guard.ShouldIgnore(filepath.Join(dir, item.Name())) {
			continue
		}
		if matcher != nil && !matcher.Match(item.Name()) {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		out = append(out, dirEntry{name: item.Name(), isDir: item.IsDir(), size: info.Size()})
	}
	return out, nil
}

func (t *ListDirTool) walk(ctx context.Context, root string, matcher glob.Glob) ([]dirEntry, error) {
	var out []dirEntry
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return nil
		}
		if t.guard.ShouldIgnore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher != nil && !d.IsDir() && !matcher.Match(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		out = append(out, dirEntry{name: filepath.ToSlash(rel), isDir: d.IsDir(), size: info.Size()})
		return nil
	})
	return out, err
}

func formatEntries(entries []dirEntry) string {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].isDir != entries[j].isDir {
			return entries[i].isDir
		}
		return entries[i].name < entries[j].name
	})

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.isDir {
			lines = append(lines, fmt.Sprintf("📁 %s/", e.name))
		} else {
			lines = append(lines, fmt.Sprintf("📄 %s (%s)", e.name, formatFileSize(e.size)))
		}
	}
	return strings.Join(lines, "\n")
}
