package tui

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/toolbelt/pkg/dispatch"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// writeClipboard is replaced in tests.
var writeClipboard = clipboard.WriteAll

// model is the state of the TUI.
type model struct {
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	ctx        context.Context
	dispatcher *dispatch.Dispatcher
	ask        AskFunc
	workspace  string

	content    *strings.Builder
	lastResult string
	status     string

	busy      bool
	busyLabel string

	width  int
	height int
	ready  bool
}

// resultMsg carries a finished tool invocation.
type resultMsg struct {
	inv tools.Invocation
	res *tools.Result
}

// answerMsg carries the agent's answer to an /ask question.
type answerMsg struct {
	answer string
	err    error
}

func newModel(ctx context.Context, d *dispatch.Dispatcher, ask AskFunc) *model {
	ta := textarea.New()
	ta.Placeholder = `read_file {"path": "README.md"}`
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(salmonPink)

	return &model{
		viewport:   viewport.New(0, 0),
		textarea:   ta,
		spinner:    sp,
		ctx:        ctx,
		dispatcher: d,
		ask:        ask,
		content:    &strings.Builder{},
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}
