// Package parser separates <thinking> sections from model output, both for
// streamed chunks and for complete replies.
package parser

import (
	"strings"

	"github.com/entrhq/toolbelt/pkg/llm"
)

const (
	openTag  = "<thinking>"
	closeTag = "</thinking>"
)

// ThinkingParser splits a stream into thinking and message content. Tags
// may be split across chunks: text that could still grow into the next tag
// is held back until a later chunk or Flush decides it.
type ThinkingParser struct {
	pending    string
	inThinking bool
}

// NewThinkingParser creates a parser positioned outside any thinking
// section.
func NewThinkingParser() *ThinkingParser {
	return &ThinkingParser{}
}

// Parse consumes one chunk. Either result is nil when the chunk produced no
// content of that kind.
func (p *ThinkingParser) Parse(content string) (thinkingChunk, messageChunk *llm.StreamChunk) {
	p.pending += content
	var thinking, message strings.Builder

	for p.pending != "" {
		tag := p.nextTag()
		if i := strings.Index(p.pending, tag); i >= 0 {
			p.emit(&thinking, &message, p.pending[:i])
			p.pending = p.pending[i+len(tag):]
			p.inThinking = !p.inThinking
			continue
		}

		keep := partialSuffix(p.pending, tag)
		p.emit(&thinking, &message, p.pending[:len(p.pending)-keep])
		p.pending = p.pending[len(p.pending)-keep:]
		break
	}
	return chunks(&thinking, &message)
}

// Flush emits text held back at the end of the stream.
func (p *ThinkingParser) Flush() (thinkingChunk, messageChunk *llm.StreamChunk) {
	var thinking, message strings.Builder
	p.emit(&thinking, &message, p.pending)
	p.pending = ""
	return chunks(&thinking, &message)
}

// IsInThinking reports whether the parser is inside a thinking section.
func (p *ThinkingParser) IsInThinking() bool {
	return p.inThinking
}

// Reset prepares the parser for a new stream.
func (p *ThinkingParser) Reset() {
	p.pending = ""
	p.inThinking = false
}

func (p *ThinkingParser) nextTag() string {
	if p.inThinking {
		return closeTag
	}
	return openTag
}

func (p *ThinkingParser) emit(thinking, message *strings.Builder, text string) {
	if p.inThinking {
		thinking.WriteString(text)
	} else {
		message.WriteString(text)
	}
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	for n := min(len(s), len(tag)-1); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}

func chunks(thinking, message *strings.Builder) (thinkingChunk, messageChunk *llm.StreamChunk) {
	if thinking.Len() > 0 {
		thinkingChunk = &llm.StreamChunk{Content: thinking.String(), Type: llm.ContentTypeThinking}
	}
	if message.Len() > 0 {
		messageChunk = &llm.StreamChunk{Content: message.String(), Type: llm.ContentTypeMessage}
	}
	return thinkingChunk, messageChunk
}

// StripThinking removes <thinking> sections from a complete reply and trims
// the rest.
func StripThinking(content string) string {
	p := NewThinkingParser()
	var out strings.Builder
	if _, msg := p.Parse(content); msg != nil {
		out.WriteString(msg.Content)
	}
	if _, msg := p.Flush(); msg != nil {
		out.WriteString(msg.Content)
	}
	return strings.TrimSpace(out.String())
}
