package subagent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/toolbelt/pkg/llm"
)

func TestConversationFitKeepsSystemTaskAndNewest(t *testing.T) {
	conv := &conversation{system: llm.NewSystemMessage("sys"), task: "do it"}
	for i := 0; i < 5; i++ {
		conv.add(llm.NewAssistantMessage(strings.Repeat("a", 400)), llm.NewUserMessage(strings.Repeat("r", 400)))
	}

	dropped := conv.fit(nil, 300)
	assert.Equal(t, 8, dropped)

	msgs := conv.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "do it")
	assert.Contains(t, msgs[1].Content, "[8 earlier messages were removed")
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, llm.RoleUser, msgs[3].Role)
}

func TestConversationFitNoop(t *testing.T) {
	conv := &conversation{system: llm.NewSystemMessage("sys"), task: "do it"}
	conv.add(llm.NewAssistantMessage("short"))

	assert.Equal(t, 0, conv.fit(nil, 0))
	assert.Equal(t, 0, conv.fit(nil, 1000))
	assert.Equal(t, "do it", conv.messages()[1].Content)

	// the newest message survives even when it alone is over budget
	conv.add(llm.NewUserMessage(strings.Repeat("x", 4000)))
	conv.fit(nil, 10)
	require.Len(t, conv.messages(), 3)
}

func TestRunTrimsLongHistory(t *testing.T) {
	call := "<tool><tool_name>echo</tool_name><arguments><text>" + strings.Repeat("z", 2000) + "</text></arguments></tool>"
	p := &scriptedProvider{replies: []string{call, call, call, call, "done"}}
	m, _ := newTestManager(t, p, Options{MaxContextTokens: 1500})

	out, err := m.Run(context.Background(), "loop a bit")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	calls := p.history()
	last := calls[len(calls)-1]
	assert.Contains(t, last[1].Content, "earlier messages were removed")
	assert.Less(t, len(last), 2+8)
}
