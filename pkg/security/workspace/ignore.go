package workspace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// IgnoreFileName is the per-workspace ignore file, read after .gitignore.
const IgnoreFileName = ".toolbeltignore"

// DefaultIgnorePatterns hide VCS metadata, dependency trees and secrets.
var DefaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	"__pycache__/",
	".DS_Store",
	".env",
}

type ignoreRule struct {
	raw      string
	matcher  glob.Glob
	negate   bool
	dirOnly  bool
	fullPath bool
}

func (r ignoreRule) matches(relPath, base string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	if r.fullPath {
		return r.matcher.Match(relPath)
	}
	return r.matcher.Match(base)
}

// IgnoreMatcher evaluates gitignore-style patterns. The last matching rule
// wins, "!" negates, a trailing "/" matches directories only, and a
// pattern containing "/" is matched against the whole relative path.
// Children of an ignored directory stay ignored.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher builds a matcher from the defaults, root/.gitignore,
// root/.toolbeltignore and extra, in that order.
func NewIgnoreMatcher(root string, extra ...string) (*IgnoreMatcher, error) {
	patterns := append([]string{}, DefaultIgnorePatterns...)

	for _, name := range []string{".gitignore", IgnoreFileName} {
		lines, err := readPatternFile(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, lines...)
	}
	patterns = append(patterns, extra...)

	return ParseIgnorePatterns(patterns)
}

// ParseIgnorePatterns compiles patterns into a matcher. Blank lines and
// lines starting with # are skipped.
func ParseIgnorePatterns(patterns []string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{}
	for _, line := range patterns {
		p := strings.TrimSpace(line)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}

		rule := ignoreRule{raw: p}
		if strings.HasPrefix(p, "!") {
			rule.negate = true
			p = p[1:]
		}
		if strings.HasSuffix(p, "/") {
			rule.dirOnly = true
			p = strings.TrimSuffix(p, "/")
		}
		if strings.Contains(p, "/") {
			rule.fullPath = true
			p = strings.TrimPrefix(p, "/")
		}
		if p == "" {
			continue
		}

		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", line, err)
		}
		rule.matcher = g
		m.rules = append(m.rules, rule)
	}
	return m, nil
}

// ShouldIgnore reports whether relPath (relative to the workspace) is ignored.
func (m *IgnoreMatcher) ShouldIgnore(relPath string, isDir bool) bool {
	if m == nil || len(m.rules) == 0 {
		return false
	}

	parts := strings.Split(filepath.ToSlash(filepath.Clean(relPath)), "/")
	for i := range parts {
		candidate := strings.Join(parts[:i+1], "/")
		last := i == len(parts)-1
		candidateIsDir := !last || isDir

		ignored := false
		for _, r := range m.rules {
			if r.matches(candidate, parts[i], candidateIsDir) {
				ignored = !r.negate
			}
		}
		if ignored || last {
			return ignored
		}
	}
	return false
}

func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
