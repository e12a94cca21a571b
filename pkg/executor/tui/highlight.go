package tui

import (
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// highlight colors code for a 256-color terminal using the lexer matching
// path. Unknown file types and lexer failures return code unchanged.
func highlight(path, code string) string {
	lexer := lexers.Match(filepath.Base(path))
	if lexer == nil {
		return code
	}
	it, err := chroma.Coalesce(lexer).Tokenise(nil, code)
	if err != nil {
		return code
	}
	var sb strings.Builder
	if err := formatters.TTY256.Format(&sb, styles.Get(highlightStyle), it); err != nil {
		return code
	}
	return sb.String()
}
