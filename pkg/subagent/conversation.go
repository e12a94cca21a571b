package subagent

import (
	"fmt"

	"github.com/entrhq/toolbelt/pkg/llm"
	"github.com/entrhq/toolbelt/pkg/llm/tokenizer"
)

// conversation is the message history of one task. The system prompt and
// the task are always sent; older exchanges are dropped once the history
// outgrows the token budget.
type conversation struct {
	system  *llm.Message
	task    string
	history []*llm.Message
	dropped int
}

func (c *conversation) add(msgs ...*llm.Message) {
	c.history = append(c.history, msgs...)
}

func (c *conversation) messages() []*llm.Message {
	task := c.task
	if c.dropped > 0 {
		task += fmt.Sprintf("\n\n[%d earlier messages were removed to fit the context window]", c.dropped)
	}
	out := make([]*llm.Message, 0, len(c.history)+2)
	out = append(out, c.system, llm.NewUserMessage(task))
	return append(out, c.history...)
}

// fit drops the oldest history until the conversation fits budget tokens
// and returns how many messages it dropped. The newest message is always
// kept, and the remaining history opens with an assistant turn.
func (c *conversation) fit(tok *tokenizer.Tokenizer, budget int) int {
	if budget <= 0 {
		return 0
	}
	n := 0
	for len(c.history) > 1 && tok.CountMessagesTokens(c.messages()) > budget {
		c.history = c.history[1:]
		n++
		for len(c.history) > 1 && c.history[0].Role != llm.RoleAssistant {
			c.history = c.history[1:]
			n++
		}
	}
	c.dropped += n
	return n
}
