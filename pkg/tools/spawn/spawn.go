// Package spawn provides the spawn tool, which hands a task to a
// background subagent and returns straight away.
package spawn

import (
	"context"
	"fmt"

	"github.com/entrhq/toolbelt/pkg/subagent"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// Spawner starts background tasks. *subagent.Manager implements it.
type Spawner interface {
	Spawn(ctx context.Context, task, label string, origin tools.Origin) (subagent.TaskInfo, error)
}

// Tool implements spawn.
type Tool struct {
	spawner       Spawner
	defaultOrigin tools.Origin
}

// New creates the spawn tool. defaultOrigin receives the completion report
// when the invocation carries no origin of its own.
func New(s Spawner, defaultOrigin tools.Origin) *Tool {
	return &Tool{spawner: s, defaultOrigin: defaultOrigin}
}

func (t *Tool) Name() string { return "spawn" }

func (t *Tool) Description() string {
	return "Spawn a subagent to handle a task in the background. " +
		"Use this for complex or time-consuming tasks that can run independently. " +
		"The subagent will complete the task and report back when done."
}

func (t *Tool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"task":  tools.Prop("string", "The task for the subagent to complete"),
			"label": tools.Prop("string", "Optional short label for the task (for display)"),
		},
		[]string{"task"},
	)
}

func (t *Tool) SideEffect() tools.SideEffect { return tools.SideEffectProcess }

func (t *Tool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	task, err := tools.RequiredString(args, "task")
	if err != nil {
		return "", nil, err
	}

	origin, ok := tools.OriginFrom(ctx)
	if !ok || origin.Channel == "" {
		origin = t.defaultOrigin
	}

	info, err := t.spawner.Spawn(ctx, task, tools.String(args, "label"), origin)
	if err != nil {
		return "", nil, err
	}

	return fmt.Sprintf("Subagent [%s] started (id: %s). I'll notify you when it completes.", info.Label, info.ID),
		map[string]interface{}{
			"task_id": info.ID,
			"label":   info.Label,
			"channel": origin.Channel,
			"chat_id": origin.ChatID,
		}, nil
}
