// Package shell provides the exec tool: shell commands run in the
// workspace with a deadline, a deny-list and optional confinement.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/tools"
)

const (
	// DefaultTimeout applies when neither config nor the caller set one.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxOutput caps exec output.
	DefaultMaxOutput = 10000

	// killGrace bounds how long Wait may block after the process is killed.
	killGrace = 2 * time.Second
)

// ExecTool runs shell commands.
type ExecTool struct {
	guard     *workspace.Guard
	deny      *DenyList
	allow     *AllowList
	timeout   time.Duration
	maxOutput int
}

// Option configures an ExecTool.
type Option func(*ExecTool)

// WithTimeout sets the default command timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *ExecTool) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithMaxOutput sets the output cap.
func WithMaxOutput(n int) Option {
	return func(t *ExecTool) {
		if n > 0 {
			t.maxOutput = n
		}
	}
}

// WithDenyList replaces the default deny-list.
func WithDenyList(d *DenyList) Option {
	return func(t *ExecTool) {
		t.deny = d
	}
}

// WithAllowList restricts commands to an allow-list.
func WithAllowList(a *AllowList) Option {
	return func(t *ExecTool) {
		t.allow = a
	}
}

// NewExecTool creates the exec tool. Confinement follows guard.Restricted().
func NewExecTool(guard *workspace.Guard, opts ...Option) (*ExecTool, error) {
	deny, err := NewDenyList()
	if err != nil {
		return nil, err
	}
	t := &ExecTool{
		guard:     guard,
		deny:      deny,
		timeout:   DefaultTimeout,
		maxOutput: DefaultMaxOutput,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output. Use with caution: destructive commands are blocked."
}

func (t *ExecTool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"command":     tools.Prop("string", "The shell command to execute"),
			"working_dir": tools.Prop("string", "Working directory for the command (default: workspace root)"),
			"timeout":     tools.Prop("integer", "Timeout in seconds (default: 60)"),
		},
		[]string{"command"},
	)
}

func (t *ExecTool) SideEffect() tools.SideEffect { return tools.SideEffectProcess }

// MaxOutputChars implements tools.Truncator.
func (t *ExecTool) MaxOutputChars() int { return t.maxOutput }

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	command, err := tools.RequiredString(args, "command")
	if err != nil {
		return "", nil, err
	}

	timeout := t.timeout
	secs, err := tools.Int(args, "timeout", 0)
	if err != nil {
		return "", nil, err
	}
	if secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	workDir, err := t.workingDir(tools.String(args, "working_dir"))
	if err != nil {
		return "", nil, err
	}

	if err := t.guardCommand(command, workDir); err != nil {
		return "", nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, runErr := run(execCtx, command, workDir)
	duration := time.Since(start)

	if runErr != nil {
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			return "", nil, tools.Timeout("command timed out after %s", timeout)
		case errors.Is(execCtx.Err(), context.Canceled):
			return "", nil, tools.External(ctx.Err(), "command canceled after %s", duration.Round(time.Millisecond))
		case exitCode < 0:
			return "", nil, tools.External(runErr, "failed to run command")
		}
	}

	metadata := map[string]interface{}{
		"command":     command,
		"exit_code":   exitCode,
		"duration_ms": duration.Milliseconds(),
		"working_dir": workDir,
	}
	return formatOutput(stdout, stderr, exitCode), metadata, nil
}

func (t *ExecTool) workingDir(requested string) (string, error) {
	if requested == "" {
		return t.guard.WorkspaceDir(), nil
	}
	dir, err := t.guard.Resolve(requested)
	if err != nil {
		if errors.Is(err, workspace.ErrOutsideWorkspace) {
			return "", tools.OutsideWorkspace(err, "working directory %s is outside the workspace", requested)
		}
		return "", tools.InvalidArguments("invalid working directory: %v", err)
	}
	return dir, nil
}

var (
	traversalPattern    = regexp.MustCompile(`\.\.[/\\]`)
	absolutePathPattern = regexp.MustCompile(`(?:^|[\s|>=])(/[^\s"'>;|&]+)`)
)

// guardCommand applies the deny-list, the allow-list and, when the
// workspace is restricted, path confinement. No process is started when
// it returns an error.
func (t *ExecTool) guardCommand(command, workDir string) error {
	if pattern, denied := t.deny.Match(command); denied {
		return tools.Blocked("command blocked by safety guard (dangerous pattern %s)", pattern)
	}
	if !t.allow.Allows(command) {
		return tools.Blocked("command blocked by safety guard (not in allow-list)")
	}
	if !t.guard.Restricted() {
		return nil
	}

	if traversalPattern.MatchString(command) {
		return tools.OutsideWorkspace(workspace.ErrOutsideWorkspace, "command blocked by safety guard (path traversal detected)")
	}
	for _, m := range absolutePathPattern.FindAllStringSubmatch(command, -1) {
		p := filepath.Clean(m[1])
		if !t.guard.IsWithinWorkspace(p) && !isDevicePath(p) {
			return tools.OutsideWorkspace(workspace.ErrOutsideWorkspace, "command blocked by safety guard (path %s outside working dir %s)", p, workDir)
		}
	}
	return nil
}

func isDevicePath(p string) bool {
	return p == "/dev/null" || p == "/dev/stdout" || p == "/dev/stderr"
}

func run(ctx context.Context, command, dir string) (stdout, stderr string, exitCode int, err error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	cmd.Dir = dir
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = killGrace

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return stdout, stderr, exitErr.ExitCode(), err
		}
		return stdout, stderr, -1, err
	}
	return stdout, stderr, 0, nil
}

func formatOutput(stdout, stderr string, exitCode int) string {
	var parts []string
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if strings.TrimSpace(stderr) != "" {
		parts = append(parts, "STDERR:\n"+stderr)
	}
	if exitCode != 0 {
		parts = append(parts, fmt.Sprintf("\nExit code: %d", exitCode))
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}
