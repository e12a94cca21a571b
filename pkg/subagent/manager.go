// Package subagent runs the agent tool loop. Run answers in the
// foreground with every tool; Spawn starts a background worker without
// spawn and message that reports its outcome on the message bus exactly
// once, to the channel it was spawned from.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/toolbelt/pkg/bus"
	"github.com/entrhq/toolbelt/pkg/dispatch"
	"github.com/entrhq/toolbelt/pkg/llm"
	"github.com/entrhq/toolbelt/pkg/llm/parser"
	"github.com/entrhq/toolbelt/pkg/llm/tokenizer"
	"github.com/entrhq/toolbelt/pkg/logging"
	"github.com/entrhq/toolbelt/pkg/tools"
)

const (
	// DefaultMaxIterations bounds the tool loop of one task.
	DefaultMaxIterations = 15
	// DefaultTimeout bounds the wall time of one task.
	DefaultTimeout = 10 * time.Minute
	// DefaultMaxContextTokens bounds the conversation sent to the model.
	DefaultMaxContextTokens = 100000

	maxLabelLen = 30
)

// ExcludedTools are never available to a worker.
var ExcludedTools = []string{"spawn", "message"}

// ErrIterationLimit is returned when a task uses every iteration without
// producing a final report.
var ErrIterationLimit = errors.New("iteration limit reached without a final answer")

// Status of a task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TaskInfo is a snapshot of a task.
type TaskInfo struct {
	ID         string       `json:"id"`
	Label      string       `json:"label"`
	Task       string       `json:"task"`
	Origin     tools.Origin `json:"origin"`
	Status     Status       `json:"status"`
	Result     string       `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
	Iterations int          `json:"iterations"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
}

type task struct {
	info     TaskInfo
	cancel   context.CancelFunc
	announce sync.Once
}

// Options configures a Manager.
type Options struct {
	MaxIterations    int
	Timeout          time.Duration
	MaxContextTokens int
	Workspace        string
	// Tokenizer counts context tokens; nil estimates from length.
	Tokenizer *tokenizer.Tokenizer
	Logger    *logging.Logger
}

// Manager owns the running tasks.
type Manager struct {
	provider      llm.Provider
	agent         *dispatch.Dispatcher
	workers       *dispatch.Dispatcher
	bus           *bus.MessageBus
	maxIterations int
	timeout       time.Duration
	maxContext    int
	tokenizer     *tokenizer.Tokenizer
	workspace     string
	logger        *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*task
}

// NewManager creates a manager. Run uses d as is, so tools registered on
// d later are visible to it. Workers get a snapshot of d without
// ExcludedTools. provider may be nil; spawning then fails with llm.ErrNoProvider.
func NewManager(provider llm.Provider, d *dispatch.Dispatcher, b *bus.MessageBus, opts Options) *Manager {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = DefaultMaxContextTokens
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		provider:      provider,
		agent:         d,
		workers:       d.Restricted(ExcludedTools...),
		bus:           b,
		maxIterations: opts.MaxIterations,
		timeout:       opts.Timeout,
		maxContext:    opts.MaxContextTokens,
		tokenizer:     opts.Tokenizer,
		workspace:     opts.Workspace,
		logger:        opts.Logger,
		ctx:           ctx,
		cancel:        cancel,
		tasks:         make(map[string]*task),
	}
}

// Spawn starts description in the background and returns immediately. The
// task is detached from ctx; only Shutdown or its own timeout stop it.
func (m *Manager) Spawn(ctx context.Context, description, label string, origin tools.Origin) (TaskInfo, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return TaskInfo{}, tools.InvalidArguments("task is required")
	}
	if m.provider == nil {
		return TaskInfo{}, tools.External(llm.ErrNoProvider, "cannot start subagent")
	}
	if label = strings.TrimSpace(label); label == "" {
		label = defaultLabel(description)
	}

	// Shutdown cancels under mu, so a task added here is always waited for.
	m.mu.Lock()
	if err := m.ctx.Err(); err != nil {
		m.mu.Unlock()
		return TaskInfo{}, tools.External(err, "subagent manager is shut down")
	}
	taskCtx, cancel := context.WithTimeout(m.ctx, m.timeout)
	t := &task{
		info: TaskInfo{
			ID:        uuid.NewString()[:8],
			Label:     label,
			Task:      description,
			Origin:    origin,
			Status:    StatusRunning,
			StartedAt: time.Now(),
		},
		cancel: cancel,
	}
	m.tasks[t.info.ID] = t
	m.wg.Add(1)
	info := t.info
	m.mu.Unlock()

	m.logger.Infof("subagent [%s] started (id: %s)", label, info.ID)

	go func() {
		defer m.wg.Done()
		defer cancel()
		result, iterations, err := m.loop(taskCtx, m.workers, workerRolePrompt, description)
		m.finish(t, result, iterations, err)
	}()

	return info, nil
}

// Run executes description synchronously with every registered tool and
// returns the final answer. Tools see the origin carried by ctx.
func (m *Manager) Run(ctx context.Context, description string) (string, error) {
	if m.provider == nil {
		return "", llm.ErrNoProvider
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	result, _, err := m.loop(ctx, m.agent, agentRolePrompt, description)
	return result, err
}

func (m *Manager) finish(t *task, result string, iterations int, err error) {
	m.mu.Lock()
	t.info.Iterations = iterations
	t.info.FinishedAt = time.Now()
	if err != nil {
		t.info.Status = StatusFailed
		t.info.Error = err.Error()
	} else {
		t.info.Status = StatusCompleted
		t.info.Result = result
	}
	info := t.info
	m.mu.Unlock()

	t.announce.Do(func() {
		m.announce(info)
	})
}

// announce reports the outcome to the origin channel.
func (m *Manager) announce(info TaskInfo) {
	var content string
	if info.Status == StatusCompleted {
		m.logger.Infof("subagent [%s] completed after %d iteration(s)", info.Label, info.Iterations)
		content = fmt.Sprintf("[Subagent '%s' completed successfully]\n\nTask: %s\n\nResult:\n%s", info.Label, info.Task, info.Result)
	} else {
		m.logger.Warnf("subagent [%s] failed: %s", info.Label, info.Error)
		content = fmt.Sprintf("[Subagent '%s' failed]\n\nTask: %s\n\nError: %s", info.Label, info.Task, info.Error)
	}

	if m.bus == nil || info.Origin.Channel == "" {
		return
	}
	// the task context is gone by now; a bounded wait keeps a full queue
	// from pinning the goroutine forever
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := m.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel:  info.Origin.Channel,
		ChatID:   info.Origin.ChatID,
		Content:  content,
		Metadata: map[string]interface{}{"subagent_id": info.ID},
	})
	if err != nil {
		m.logger.Errorf("subagent [%s] result not delivered: %v", info.Label, err)
	}
}

// loop runs the tool loop over d until the model answers without a tool
// call.
func (m *Manager) loop(ctx context.Context, d *dispatch.Dispatcher, role, description string) (string, int, error) {
	conv := &conversation{
		system: llm.NewSystemMessage(buildSystemPrompt(role, d.Descriptors(), m.workspace)),
		task:   description,
	}

	for i := 1; i <= m.maxIterations; i++ {
		if n := conv.fit(m.tokenizer, m.maxContext); n > 0 {
			m.logger.Debugf("subagent dropped %d message(s) to fit %d tokens", n, m.maxContext)
		}
		reply, err := m.provider.Complete(ctx, conv.messages())
		if err != nil {
			return "", i, fmt.Errorf("llm call failed: %w", err)
		}
		content := reply.Content

		if !tools.HasToolCall(content) {
			return parser.StripThinking(content), i, nil
		}
		conv.add(llm.NewAssistantMessage(content))

		call, _, err := tools.ParseToolCall(content)
		if err != nil {
			conv.add(llm.NewUserMessage(fmt.Sprintf("Your tool call could not be parsed: %v\nFix the XML and try again.", err)))
			continue
		}
		inv, err := call.Invocation()
		if err != nil {
			conv.add(llm.NewUserMessage(fmt.Sprintf("Tool '%s' error:\n%v", call.ToolName, err)))
			continue
		}

		m.logger.Debugf("subagent calling %s", inv.Tool)
		res := d.Dispatch(ctx, inv)
		if res.Failed() {
			conv.add(llm.NewUserMessage(fmt.Sprintf("Tool '%s' error:\n%s", inv.Tool, res.Text())))
		} else {
			conv.add(llm.NewUserMessage(fmt.Sprintf("Tool '%s' result:\n%s", inv.Tool, res.Text())))
		}

		if ctx.Err() != nil {
			return "", i, ctx.Err()
		}
	}
	return "", m.maxIterations, ErrIterationLimit
}

// Get returns the task with id.
func (m *Manager) Get(id string) (TaskInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return t.info, true
}

// List returns every known task, newest first.
func (m *Manager) List() []TaskInfo {
	m.mu.Lock()
	out := make([]TaskInfo, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.info)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Running counts tasks still in progress.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.info.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Wait blocks until every spawned task has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels running tasks and waits for them to report. Spawn
// fails afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

func defaultLabel(description string) string {
	r := []rune(description)
	if len(r) <= maxLabelLen {
		return description
	}
	return string(r[:maxLabelLen]) + "..."
}
