// Package workspace enforces the workspace root for filesystem-affecting
// tools. Paths are resolved against the root, symlinks are evaluated, and
// in restricted mode anything outside the root (or a whitelisted
// directory) is rejected.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is wrapped by every boundary violation.
var ErrOutsideWorkspace = errors.New("path outside workspace")

// Guard resolves and checks paths against a workspace root.
type Guard struct {
	workspaceDir    string
	restrict        bool
	ignoreMatcher   *IgnoreMatcher
	extraIgnores    []string
	whitelistedDirs []string
}

// Option configures a Guard.
type Option func(*Guard)

// WithRestrict turns workspace confinement on or off.
func WithRestrict(restrict bool) Option {
	return func(g *Guard) {
		g.restrict = restrict
	}
}

// WithIgnorePatterns adds ignore patterns on top of the defaults and the
// workspace .toolbeltignore file.
func WithIgnorePatterns(patterns []string) Option {
	return func(g *Guard) {
		g.extraIgnores = append(g.extraIgnores, patterns...)
	}
}

// NewGuard creates a guard for workspaceDir, which must exist.
func NewGuard(workspaceDir string, opts ...Option) (*Guard, error) {
	if workspaceDir == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}

	absPath, err := filepath.Abs(expandHome(workspaceDir))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate workspace directory symlinks: %w", err)
	}

	g := &Guard{
		workspaceDir:    evalPath,
		whitelistedDirs: make([]string, 0),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.ignoreMatcher, err = NewIgnoreMatcher(evalPath, g.extraIgnores...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ignore matcher: %w", err)
	}
	return g, nil
}

// Restricted reports whether confinement is on.
func (g *Guard) Restricted() bool {
	return g.restrict
}

// Resolve turns path into an absolute, symlink-evaluated path. In
// restricted mode it fails with ErrOutsideWorkspace for paths outside the
// workspace.
func (g *Guard) Resolve(path string) (string, error) {
	resolved, err := g.ResolvePath(path)
	if err != nil {
		return "", err
	}
	if g.restrict && !g.IsWithinWorkspace(resolved) {
		return "", fmt.Errorf("%w: '%s' resolves outside %s", ErrOutsideWorkspace, path, g.workspaceDir)
	}
	return resolved, nil
}

// ValidatePath checks that path is inside the workspace regardless of the
// confinement setting.
func (g *Guard) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	resolvedPath, err := g.ResolvePath(path)
	if err != nil {
		return err
	}

	if !g.IsWithinWorkspace(resolvedPath) {
		return fmt.Errorf("%w: '%s' is outside workspace boundaries", ErrOutsideWorkspace, path)
	}
	return nil
}

// ResolvePath converts a relative or absolute path to an absolute path.
// Relative paths are joined to the workspace root; ~ expands to the home
// directory. Paths that do not exist yet are resolved through their
// nearest existing ancestor.
func (g *Guard) ResolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(expandHome(path))

	absPath := cleanPath
	if !filepath.IsAbs(cleanPath) {
		absPath = filepath.Join(g.workspaceDir, cleanPath)
	}

	return resolveSymlinks(filepath.Clean(absPath)), nil
}

// IsWithinWorkspace reports whether absPath is the workspace, a child of
// it, or inside a whitelisted directory.
func (g *Guard) IsWithinWorkspace(absPath string) bool {
	evalPath := resolveSymlinks(absPath)

	if isWithin(evalPath, g.workspaceDir) {
		return true
	}
	for _, whitelisted := range g.whitelistedDirs {
		if isWithin(evalPath, whitelisted) {
			return true
		}
	}
	return false
}

func isWithin(path, root string) bool {
	return path == root || strings.HasPrefix(path+string(filepath.Separator), root+string(filepath.Separator))
}

// WorkspaceDir returns the absolute path of the workspace directory.
func (g *Guard) WorkspaceDir() string {
	return g.workspaceDir
}

// MakeRelative converts an absolute path to a path relative to the workspace.
func (g *Guard) MakeRelative(absPath string) (string, error) {
	if !isWithin(resolveSymlinks(absPath), g.workspaceDir) {
		return "", fmt.Errorf("%w: '%s' is not within workspace", ErrOutsideWorkspace, absPath)
	}

	relPath, err := filepath.Rel(g.workspaceDir, resolveSymlinks(absPath))
	if err != nil {
		return "", fmt.Errorf("failed to make path relative: %w", err)
	}
	return relPath, nil
}

// DisplayPath returns path relative to the workspace when it lies inside
// it, otherwise the absolute path.
func (g *Guard) DisplayPath(absPath string) string {
	if rel, err := g.MakeRelative(absPath); err == nil {
		return rel
	}
	return absPath
}

// ShouldIgnore reports whether path matches the ignore rules. Paths
// outside the workspace and whitelisted paths are never ignored.
func (g *Guard) ShouldIgnore(path string) bool {
	absPath := path
	if !filepath.IsAbs(path) {
		absPath = filepath.Join(g.workspaceDir, path)
	}
	evalPath := resolveSymlinks(absPath)

	for _, whitelisted := range g.whitelistedDirs {
		if isWithin(evalPath, whitelisted) {
			return false
		}
	}

	relPath, err := g.MakeRelative(evalPath)
	if err != nil || relPath == "." {
		return false
	}

	isDir := false
	if info, err := os.Lstat(absPath); err == nil {
		isDir = info.IsDir()
	}
	return g.ignoreMatcher.ShouldIgnore(relPath, isDir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return homeDir
	}
	return filepath.Join(homeDir, path[2:])
}

// resolveSymlinks evaluates symlinks in path. For paths that do not exist
// it resolves the nearest existing ancestor and re-appends the rest.
func resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	var components []string
	currentPath := path

	for {
		if resolved, err := filepath.EvalSymlinks(currentPath); err == nil {
			result := resolved
			for i := len(components) - 1; i >= 0; i-- {
				result = filepath.Join(result, components[i])
			}
			return result
		}

		dir := filepath.Dir(currentPath)
		if dir == currentPath || dir == "." {
			return filepath.Clean(path)
		}

		components = append(components, filepath.Base(currentPath))
		currentPath = dir
	}
}
