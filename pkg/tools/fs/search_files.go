package fs

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/tools"
)

const maxSearchMatches = 200

// SearchFilesTool greps the workspace with a regular expression.
type SearchFilesTool struct {
	guard *workspace.Guard
}

// NewSearchFilesTool creates a SearchFilesTool.
func NewSearchFilesTool(guard *workspace.Guard) *SearchFilesTool {
	return &SearchFilesTool{guard: guard}
}

func (t *SearchFilesTool) Name() string { return "search_files" }

func (t *SearchFilesTool) Description() string {
	return "Search file contents with a regular expression. Returns matching lines with surrounding context."
}

func (t *SearchFilesTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"pattern":       tools.Prop("string", "Regular expression to search for"),
			"path":          tools.Prop("string", "Directory to search (default: workspace root)"),
			"file_pattern":  tools.Prop("string", "Optional glob for file names (e.g. '*.go')"),
			"context_lines": tools.Prop("integer", "Context lines before and after each match (default: 2)"),
		},
		[]string{"pattern"},
	)
}

func (t *SearchFilesTool) SideEffect() tools.SideEffect { return tools.SideEffectReadOnly }

type searchMatch struct {
	file   string
	line   int
	text   string
	before []string
	after  []string
}

func (t *SearchFilesTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	pattern, err := tools.RequiredString(args, "pattern")
	if err != nil {
		return "", nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", nil, tools.InvalidArguments("invalid regex pattern: %v", err)
	}
	contextLines, err := tools.Int(args, "context_lines", 2)
	if err != nil {
		return "", nil, err
	}
	if contextLines < 0 {
		contextLines = 0
	}

	var fileGlob glob.Glob
	if fp := tools.String(args, "file_pattern"); fp != "" {
		if fileGlob, err = glob.Compile(fp); err != nil {
			return "", nil, tools.InvalidArguments("invalid file_pattern %q: %v", fp, err)
		}
	}

	path := tools.String(args, "path")
	if path == "" {
		path = "."
	}
	root, err := resolve(t.guard, path)
	if err != nil {
		return "", nil, err
	}

	var matches []searchMatch
	truncated := false
	walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p != root && t.guard.ShouldIgnore(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if fileGlob != nil && !fileGlob.Match(d.Name()) {
			return nil
		}
		if isBinaryFile(p) {
			return nil
		}
		found, err := searchFile(p, re, contextLines)
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		if len(matches) >= maxSearchMatches {
			matches = matches[:maxSearchMatches]
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return "", nil, tools.Classify(t.Name(), walkErr)
	}

	files := make(map[string]bool)
	for _, m := range matches {
		files[m.file] = true
	}
	metadata := map[string]interface{}{
		"pattern":            pattern,
		"match_count":        len(matches),
		"files_with_matches": len(files),
	}
	if truncated {
		metadata["match_limit_reached"] = true
	}
	return t.format(matches, truncated), metadata, nil
}

func searchFile(path string, re *regexp.Regexp, contextLines int) ([]searchMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var out []searchMatch
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		from := max(0, i-contextLines)
		to := min(len(lines), i+contextLines+1)
		out = append(out, searchMatch{
			file:   path,
			line:   i + 1,
			text:   line,
			before: lines[from:i],
			after:  lines[i+1 : to],
		})
	}
	return out, nil
}

func (t *SearchFilesTool) format(matches []searchMatch, truncated bool) string {
	if len(matches) == 0 {
		return "No matches found"
	}

	var b strings.Builder
	current := ""
	for _, m := range matches {
		if m.file != current {
			if current != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "📄 %s\n", t.guard.DisplayPath(m.file))
			current = m.file
		}
		start := m.line - len(m.before)
		for i, l := range m.before {
			fmt.Fprintf(&b, "  %d | %s\n", start+i, l)
		}
		fmt.Fprintf(&b, "▶ %d | %s\n", m.line, m.text)
		for i, l := range m.after {
			fmt.Fprintf(&b, "  %d | %s\n", m.line+1+i, l)
		}
	}
	fmt.Fprintf(&b, "\nFound %d matches", len(matches))
	if truncated {
		fmt.Fprintf(&b, " (stopped at %d)", maxSearchMatches)
	}
	return b.String()
}

var binaryExts = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".bin": true, ".db": true, ".sqlite": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true,
	".mp3": true, ".mp4": true, ".o": true, ".a": true, ".pyc": true,
}

// isBinaryFile checks the extension, then looks for NUL bytes in the
// first 512 bytes.
func isBinaryFile(path string) bool {
	if binaryExts[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	for _, c := range buf[:n] {
		if c == 0 {
			return true
		}
	}
	return false
}
