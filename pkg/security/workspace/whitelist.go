package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
)

// AddWhitelist lets tools reach dir even when it lies outside the
// workspace. Bootstrap uses it for a screenshot directory configured
// elsewhere, so image can read what browser saved.
func (g *Guard) AddWhitelist(dir string) error {
	if dir == "" {
		return errors.New("whitelist directory cannot be empty")
	}
	abs, err := filepath.Abs(expandHome(dir))
	if err != nil {
		return fmt.Errorf("failed to resolve whitelist directory: %w", err)
	}
	abs = resolveSymlinks(abs)
	if !slices.Contains(g.whitelistedDirs, abs) {
		g.whitelistedDirs = append(g.whitelistedDirs, abs)
	}
	return nil
}

// Whitelisted returns a copy of the whitelisted directories.
func (g *Guard) Whitelisted() []string {
	return slices.Clone(g.whitelistedDirs)
}
