// Package tui provides a full-screen terminal executor for invoking tools
// and, when an agent is attached, asking it questions.
//
// The TUI is split into several files:
// - executor.go: executor and program lifecycle
// - model.go: model state and messages
// - update.go: Bubble Tea Update and input handling
// - view.go: Bubble Tea View and layout
// - highlight.go: syntax highlighting of file contents
// - styles.go: colors and styles
package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/toolbelt/pkg/dispatch"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// AskFunc answers a free-form question, usually by running an agent.
type AskFunc func(ctx context.Context, question string) (string, error)

// Executor runs the TUI over a dispatcher.
type Executor struct {
	dispatcher *dispatch.Dispatcher
	ask        AskFunc
	origin     tools.Origin
	workspace  string
}

// Option configures an Executor.
type Option func(*Executor)

// WithAsk enables /ask questions answered by fn.
func WithAsk(fn AskFunc) Option {
	return func(e *Executor) {
		e.ask = fn
	}
}

// WithOrigin sets the origin attached to every invocation.
func WithOrigin(o tools.Origin) Option {
	return func(e *Executor) {
		e.origin = o
	}
}

// WithWorkspace sets the directory shown in the status bar.
func WithWorkspace(dir string) Option {
	return func(e *Executor) {
		e.workspace = dir
	}
}

// NewExecutor creates a TUI executor over d.
func NewExecutor(d *dispatch.Dispatcher, opts ...Option) *Executor {
	e := &Executor{
		dispatcher: d,
		origin:     tools.Origin{Channel: "console", ChatID: "direct"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts the TUI and blocks until the user quits or ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	m := newModel(tools.WithOrigin(ctx, e.origin), e.dispatcher, e.ask)
	m.workspace = e.workspace

	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to run TUI program: %w", err)
	}
	return nil
}
