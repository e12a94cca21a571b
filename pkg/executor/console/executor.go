// Package console provides an interactive, line-oriented executor that
// runs tool invocations typed at a terminal.
//
// Two input forms are accepted:
//
//	read_file {"path": "notes.md"}
//	<tool>
//	<tool_name>list_dir</tool_name>
//	<arguments><path>.</path></arguments>
//	</tool>
//
// An XML block may span several lines; input is collected until the
// closing </tool> tag.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	jsoniter "github.com/json-iterator/go"

	"github.com/entrhq/toolbelt/pkg/dispatch"
	"github.com/entrhq/toolbelt/pkg/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	nameStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Executor reads invocations from a reader and prints results.
type Executor struct {
	dispatcher *dispatch.Dispatcher
	reader     *bufio.Reader
	writer     io.Writer
	origin     tools.Origin
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithWriter sets the output writer (default is os.Stdout).
func WithWriter(w io.Writer) ExecutorOption {
	return func(e *Executor) {
		e.writer = w
	}
}

// WithReader sets the input reader (default is os.Stdin).
func WithReader(r io.Reader) ExecutorOption {
	return func(e *Executor) {
		e.reader = bufio.NewReader(r)
	}
}

// WithOrigin sets the origin attached to every invocation.
func WithOrigin(o tools.Origin) ExecutorOption {
	return func(e *Executor) {
		e.origin = o
	}
}

// NewExecutor creates a console executor over d.
func NewExecutor(d *dispatch.Dispatcher, opts ...ExecutorOption) *Executor {
	e := &Executor{
		dispatcher: d,
		reader:     bufio.NewReader(os.Stdin),
		writer:     os.Stdout,
		origin:     tools.Origin{Channel: "console", ChatID: "direct"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run reads and executes input until EOF, "exit" or "quit", or until ctx
// is done.
func (e *Executor) Run(ctx context.Context) error {
	fmt.Fprintln(e.writer, titleStyle.Render("toolbelt console"))
	fmt.Fprintln(e.writer, mutedStyle.Render(`Enter 'name {json}' or a <tool> block. 'tools' lists tools, 'exit' quits.`))
	fmt.Fprintln(e.writer)

	ctx = tools.WithOrigin(ctx, e.origin)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fmt.Fprint(e.writer, "> ")
		input, err := e.readInput()
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return fmt.Errorf("failed to read input: %w", err)
		}

		switch input = strings.TrimSpace(input); input {
		case "":
		case "exit", "quit":
			return nil
		case "tools", "help":
			e.printTools()
		default:
			if inv, err := ParseInput(input); err != nil {
				fmt.Fprintln(e.writer, errorStyle.Render("✗ "+err.Error()))
			} else {
				e.printResult(e.dispatcher.Dispatch(ctx, inv))
			}
		}
		if eof {
			return nil
		}
	}
}

// readInput returns one line, or every line up to </tool> when the line
// opens a tool block.
func (e *Executor) readInput() (string, error) {
	line, err := e.reader.ReadString('\n')
	if err != nil || !strings.Contains(line, "<tool>") {
		return line, err
	}
	var sb strings.Builder
	sb.WriteString(line)
	for !strings.Contains(sb.String(), "</tool>") {
		more, err := e.reader.ReadString('\n')
		sb.WriteString(more)
		if err != nil {
			return sb.String(), err
		}
	}
	return sb.String(), nil
}

func (e *Executor) printTools() {
	for _, d := range e.dispatcher.Descriptors() {
		fmt.Fprintf(e.writer, "%s %s\n  %s\n", nameStyle.Render(d.Name), mutedStyle.Render("("+string(d.SideEffect)+")"), d.Description)
	}
}

func (e *Executor) printResult(res *tools.Result) {
	if res.Failed() {
		fmt.Fprintln(e.writer, errorStyle.Render("✗ "+res.Text()))
		return
	}
	fmt.Fprintln(e.writer, res.Text())
	fmt.Fprintln(e.writer, mutedStyle.Render(fmt.Sprintf("✓ %s in %s", res.Tool, res.Duration.Round(time.Millisecond))))
}

// ParseInput turns one console entry into an invocation: either an XML
// tool block or a tool name optionally followed by a JSON object.
func ParseInput(input string) (tools.Invocation, error) {
	input = strings.TrimSpace(input)
	if tools.HasToolCall(input) {
		tc, _, err := tools.ParseToolCall(input)
		if err != nil {
			return tools.Invocation{}, err
		}
		return tc.Invocation()
	}

	name, rest, _ := strings.Cut(input, " ")
	inv := tools.Invocation{Tool: name}
	if rest = strings.TrimSpace(rest); rest != "" {
		if err := json.Unmarshal([]byte(rest), &inv.Args); err != nil {
			return tools.Invocation{}, fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}
	return inv, nil
}
