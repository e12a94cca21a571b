package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/toolbelt/pkg/llm"
)

func TestNilTokenizerEstimates(t *testing.T) {
	var tok *Tokenizer
	assert.Equal(t, 0, tok.CountTokens(""))
	assert.Equal(t, 1, tok.CountTokens("abc"))
	assert.Equal(t, 3, tok.CountTokens("hello world!"))

	msgs := []*llm.Message{llm.NewSystemMessage("abcd"), llm.NewUserMessage("")}
	assert.Equal(t, 2*perMessageOverhead+1, tok.CountMessagesTokens(msgs))
}

func TestCountTokens(t *testing.T) {
	tok, err := New()
	if err != nil {
		t.Skip("Tokenizer initialization failed, skipping test")
	}

	n := tok.CountTokens("This is test repository context that should be counted")
	assert.True(t, n >= 5 && n <= 30, "got %d tokens", n)
	assert.Equal(t, 0, tok.CountTokens(""))
}
