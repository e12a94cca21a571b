package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the TUI.
func (m *model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("toolbelt"),
		m.buildTips(),
		m.viewport.View(),
		m.buildLoadingIndicator(),
		inputBoxStyle.Width(m.width-4).Render(m.textarea.View()),
		m.buildBottomBar(),
	)
}

func (m *model) buildTips() string {
	tips := `  name {json} or <tool> block • !cmd runs exec • /tools • /clear • /copy`
	if m.ask != nil {
		tips += " • /ask <question>"
	}
	return tipsStyle.Render(tips + " • Alt+Enter new line • Ctrl+C quit")
}

func (m *model) buildLoadingIndicator() string {
	if !m.busy {
		return ""
	}
	return lipgloss.NewStyle().Foreground(salmonPink).Padding(0, 2).Render(m.spinner.View() + " " + m.busyLabel)
}

func (m *model) buildBottomBar() string {
	left := m.workspace
	if left == "" {
		left = "~"
	}
	right := m.status
	gap := m.width - len(left) - len(right) - 2
	if gap < 2 {
		gap = 2
	}
	return statusBarStyle.Render(left + strings.Repeat(" ", gap) + right)
}
