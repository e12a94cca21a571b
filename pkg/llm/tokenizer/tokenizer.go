// Package tokenizer counts tokens on the client side so that conversations
// can be kept inside a model's context window.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/entrhq/toolbelt/pkg/llm"
)

// perMessageOverhead approximates the role and separator tokens every chat
// message costs on top of its content.
const perMessageOverhead = 4

// Tokenizer counts tokens with the cl100k_base encoding. A nil *Tokenizer
// is usable and falls back to Estimate.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the cl100k_base encoding. The encoding may have to be fetched
// on first use, so callers should be ready to carry on with a nil
// tokenizer when this fails.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding: %w", err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t == nil || t.enc == nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessagesTokens returns the tokens of every message including the
// per-message overhead.
func (t *Tokenizer) CountMessagesTokens(messages []*llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += perMessageOverhead + t.CountTokens(msg.Content)
	}
	return total
}

// Estimate approximates the token count at four bytes per token.
func Estimate(text string) int {
	return (len(text) + 3) / 4
}
