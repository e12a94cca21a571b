package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func feed(p *ThinkingParser, chunks ...string) (thinking, message string) {
	for _, c := range chunks {
		th, msg := p.Parse(c)
		if th != nil {
			thinking += th.Content
		}
		if msg != nil {
			message += msg.Content
		}
	}
	th, msg := p.Flush()
	if th != nil {
		thinking += th.Content
	}
	if msg != nil {
		message += msg.Content
	}
	return thinking, message
}

func TestThinkingParserSplitsAcrossChunks(t *testing.T) {
	p := NewThinkingParser()
	thinking, message := feed(p, "<think", "ing>plan the ", "call</thin", "king>Done.")

	assert.Equal(t, "plan the call", thinking)
	assert.Equal(t, "Done.", message)
	assert.False(t, p.IsInThinking())
}

func TestThinkingParserComparisonOperators(t *testing.T) {
	p := NewThinkingParser()
	thinking, message := feed(p,
		"<thinking>",
		"if x>3 and i<10 then",
		"</thinking>",
		"\n<tool><tool_name>exec</tool_name></tool>",
	)

	assert.Equal(t, "if x>3 and i<10 then", thinking)
	assert.Equal(t, "\n<tool><tool_name>exec</tool_name></tool>", message)
	assert.False(t, p.IsInThinking())
}

func TestThinkingParserUnterminatedTag(t *testing.T) {
	p := NewThinkingParser()
	_, message := feed(p, "a < b")
	assert.Equal(t, "a < b", message)
}

func TestThinkingParserReset(t *testing.T) {
	p := NewThinkingParser()
	p.Parse("<thinking>half")
	assert.True(t, p.IsInThinking())
	p.Reset()
	assert.False(t, p.IsInThinking())
}

func TestStripThinking(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<thinking>scan files</thinking>\nAll 3 files updated.", "All 3 files updated."},
		{"no tags here", "no tags here"},
		{"<thinking>only thoughts</thinking>", ""},
		{"before <thinking>x</thinking> after", "before  after"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripThinking(tt.in), tt.in)
	}
}
