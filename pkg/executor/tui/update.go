package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/toolbelt/pkg/executor/console"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// Update handles Bubble Tea messages.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.handleWindowResize(msg)
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyCtrlY:
			m.copyLastResult()
			return m, nil
		case tea.KeyEnter:
			if msg.Alt {
				m.textarea.InsertString("\n")
				return m, nil
			}
			return m, m.handleEnter()
		}
	case resultMsg:
		m.handleResult(msg)
		return m, nil
	case answerMsg:
		m.handleAnswer(msg)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var tiCmd, vpCmd tea.Cmd
	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *model) handleWindowResize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height
	m.viewport.Width = m.width - 4
	m.viewport.Height = m.calculateViewportHeight()
	m.textarea.SetWidth(m.width - 8)
	m.ready = true
	m.refresh()
}

func (m *model) calculateViewportHeight() int {
	headerHeight := 2                      // title + tips
	inputHeight := m.textarea.Height() + 2 // border
	statusBarHeight := 1
	loadingHeight := 1

	h := m.height - headerHeight - inputHeight - statusBarHeight - loadingHeight
	if h < 5 {
		h = 5
	}
	return h
}

// handleEnter interprets the input box and returns the command that
// carries out the request, if any.
func (m *model) handleEnter() tea.Cmd {
	input := strings.TrimSpace(m.textarea.Value())
	if input == "" || m.busy {
		return nil
	}
	m.textarea.Reset()
	m.status = ""
	m.appendBlock(userStyle.Render("> ") + input)

	if strings.HasPrefix(input, "/") {
		return m.handleSlashCommand(input)
	}

	var inv tools.Invocation
	if cmd, ok := strings.CutPrefix(input, "!"); ok {
		inv = tools.Invocation{Tool: "exec", Args: map[string]interface{}{"command": strings.TrimSpace(cmd)}}
	} else {
		var err error
		if inv, err = console.ParseInput(input); err != nil {
			m.appendBlock(errorStyle.Render("✗ " + err.Error()))
			return nil
		}
	}

	m.busy = true
	m.busyLabel = "Running " + inv.Tool + "..."
	ctx, d := m.ctx, m.dispatcher
	return func() tea.Msg {
		return resultMsg{inv: inv, res: d.Dispatch(ctx, inv)}
	}
}

func (m *model) handleSlashCommand(input string) tea.Cmd {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return tea.Quit
	case "/tools":
		m.appendTools()
	case "/clear":
		m.content.Reset()
		m.refresh()
	case "/copy":
		m.copyLastResult()
	case "/ask":
		if m.ask == nil {
			m.appendBlock(errorStyle.Render("✗ no agent is configured"))
			return nil
		}
		if arg == "" {
			m.appendBlock(errorStyle.Render("✗ usage: /ask <question>"))
			return nil
		}
		m.busy = true
		m.busyLabel = "Thinking..."
		ctx, ask := m.ctx, m.ask
		return func() tea.Msg {
			answer, err := ask(ctx, arg)
			return answerMsg{answer: answer, err: err}
		}
	default:
		m.appendBlock(errorStyle.Render("✗ unknown command " + name))
	}
	return nil
}

func (m *model) handleResult(msg resultMsg) {
	m.busy = false
	res := msg.res
	if res.Failed() {
		m.appendBlock(errorStyle.Render("✗ " + res.Text()))
		return
	}

	m.lastResult = res.Text()
	body := resultStyle.Render(m.lastResult)
	if msg.inv.Tool == "read_file" {
		body = highlight(tools.String(msg.inv.Args, "path"), m.lastResult)
	}
	m.appendBlock(body + "\n" + toolStyle.Render(fmt.Sprintf("✓ %s in %s", res.Tool, res.Duration.Round(time.Millisecond))))
}

func (m *model) handleAnswer(msg answerMsg) {
	m.busy = false
	if msg.err != nil {
		m.appendBlock(errorStyle.Render("✗ " + msg.err.Error()))
		return
	}
	m.lastResult = msg.answer
	m.appendBlock(resultStyle.Render(msg.answer))
}

func (m *model) appendTools() {
	var sb strings.Builder
	for _, d := range m.dispatcher.Descriptors() {
		fmt.Fprintf(&sb, "%s %s\n  %s\n", toolStyle.Render(d.Name), tipsStyle.Render("("+string(d.SideEffect)+")"), d.Description)
	}
	m.appendBlock(strings.TrimRight(sb.String(), "\n"))
}

func (m *model) copyLastResult() {
	if m.lastResult == "" {
		m.status = "nothing to copy"
		return
	}
	if err := writeClipboard(m.lastResult); err != nil {
		m.status = "copy failed: " + err.Error()
		return
	}
	m.status = "copied last result"
}

func (m *model) appendBlock(s string) {
	if m.width > 4 {
		s = lipgloss.NewStyle().Width(m.width - 4).Render(s)
	}
	m.content.WriteString(s)
	m.content.WriteString("\n\n")
	m.refresh()
}

func (m *model) refresh() {
	m.viewport.SetContent(m.content.String())
	m.viewport.GotoBottom()
}
