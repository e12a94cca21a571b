// Package fs provides the filesystem tools: read_file, write_file,
// edit_file, list_dir and search_files. Every path goes through the
// workspace guard.
package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// Tools returns every filesystem tool bound to guard.
func Tools(guard *workspace.Guard) []tools.Tool {
	return []tools.Tool{
		NewReadFileTool(guard),
		NewWriteFileTool(guard),
		NewEditFileTool(guard),
		NewListDirTool(guard),
		NewSearchFilesTool(guard),
	}
}

// resolve maps guard failures onto the tool error taxonomy.
func resolve(guard *workspace.Guard, path string) (string, error) {
	abs, err := guard.Resolve(path)
	if err != nil {
		if errors.Is(err, workspace.ErrOutsideWorkspace) {
			return "", tools.OutsideWorkspace(err, "path %s is outside allowed directory %s", path, guard.WorkspaceDir())
		}
		return "", tools.InvalidArguments("invalid path %q: %v", path, err)
	}
	return abs, nil
}

// writeAtomic writes data to a temp file next to path and renames it
// into place, creating parent directories first.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	perm := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// formatFileSize formats a size in bytes for humans.
func formatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
