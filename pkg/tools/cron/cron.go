// Package cron provides the cron tool, which lets a model schedule
// reminders and recurring tasks.
package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	cronsvc "github.com/entrhq/toolbelt/pkg/cron"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// Scheduler manages jobs. *cronsvc.Service implements it.
type Scheduler interface {
	AddJob(ctx context.Context, name string, schedule cronsvc.Schedule, payload cronsvc.Payload) (cronsvc.Job, error)
	ListJobs(ctx context.Context) ([]cronsvc.Job, error)
	RemoveJob(ctx context.Context, id string) (bool, error)
}

const maxNameLen = 30

// Tool implements cron.
type Tool struct {
	scheduler Scheduler
}

// New creates the cron tool.
func New(s Scheduler) *Tool {
	return &Tool{scheduler: s}
}

func (t *Tool) Name() string { return "cron" }

func (t *Tool) Description() string {
	return "Schedule reminders and recurring tasks. Actions: add, list, remove. " +
		"For add, give a message and exactly one of cron_expr, every_seconds or at."
}

func (t *Tool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"action":        tools.EnumProp("Action to perform", "add", "list", "remove"),
			"name":          tools.Prop("string", "Optional job name (add)"),
			"message":       tools.Prop("string", "Reminder text or task to run when the job fires (add)"),
			"cron_expr":     tools.Prop("string", "Cron expression, 5 fields or 6 with seconds, e.g. '0 9 * * 1-5'"),
			"every_seconds": tools.Prop("integer", "Run every N seconds"),
			"at":            tools.Prop("string", "Run once at this RFC3339 time, e.g. 2026-01-02T15:04:05Z"),
			"agent":         tools.Prop("boolean", "Run the message as a background task instead of sending it as a reminder"),
			"job_id":        tools.Prop("string", "Job ID (remove)"),
		},
		[]string{"action"},
	)
}

func (t *Tool) SideEffect() tools.SideEffect { return tools.SideEffectMutating }

func (t *Tool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	switch action := tools.String(args, "action"); action {
	case "add":
		return t.add(ctx, args)
	case "list":
		return t.list(ctx)
	case "remove":
		return t.remove(ctx, args)
	default:
		return "", nil, tools.InvalidArguments("unknown action %q", action)
	}
}

func (t *Tool) add(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	message, err := tools.RequiredString(args, "message")
	if err != nil {
		return "", nil, err
	}
	schedule, err := scheduleFrom(args)
	if err != nil {
		return "", nil, err
	}
	agent, err := tools.Bool(args, "agent", false)
	if err != nil {
		return "", nil, err
	}

	name := strings.TrimSpace(tools.String(args, "name"))
	if name == "" {
		name = message
		if r := []rune(name); len(r) > maxNameLen {
			name = string(r[:maxNameLen])
		}
	}

	payload := cronsvc.Payload{Message: message, Agent: agent}
	if origin, ok := tools.OriginFrom(ctx); ok && origin.Channel != "" {
		payload.Deliver = true
		payload.Channel = origin.Channel
		payload.To = origin.ChatID
	}

	job, err := t.scheduler.AddJob(ctx, name, schedule, payload)
	if err != nil {
		return "", nil, tools.External(err, "failed to add job")
	}
	return fmt.Sprintf("Created job '%s' (id: %s)", job.Name, job.ID), map[string]interface{}{
		"job_id": job.ID,
		"kind":   job.Schedule.Kind,
	}, nil
}

// scheduleFrom picks the single schedule field present in args.
func scheduleFrom(args map[string]interface{}) (cronsvc.Schedule, error) {
	expr := strings.TrimSpace(tools.String(args, "cron_expr"))
	at := strings.TrimSpace(tools.String(args, "at"))
	every, err := tools.Int(args, "every_seconds", 0)
	if err != nil {
		return cronsvc.Schedule{}, err
	}

	set := 0
	for _, present := range []bool{expr != "", at != "", every != 0} {
		if present {
			set++
		}
	}
	if set != 1 {
		return cronsvc.Schedule{}, tools.InvalidArguments("exactly one of cron_expr, every_seconds or at is required")
	}

	var s cronsvc.Schedule
	switch {
	case expr != "":
		s = cronsvc.Schedule{Kind: cronsvc.KindCron, Expr: expr}
	case every != 0:
		if every < 1 {
			return s, tools.InvalidArguments("every_seconds must be positive")
		}
		s = cronsvc.Schedule{Kind: cronsvc.KindEvery, EveryMs: int64(every) * 1000}
	default:
		when, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return s, tools.InvalidArguments("at must be an RFC3339 time: %v", err)
		}
		s = cronsvc.Schedule{Kind: cronsvc.KindAt, AtMs: when.UnixMilli()}
	}
	if err := s.Validate(); err != nil {
		return s, tools.InvalidArguments("%v", err)
	}
	return s, nil
}

func (t *Tool) list(ctx context.Context) (string, map[string]interface{}, error) {
	jobs, err := t.scheduler.ListJobs(ctx)
	if err != nil {
		return "", nil, tools.External(err, "failed to list jobs")
	}
	if len(jobs) == 0 {
		return "No scheduled jobs.", map[string]interface{}{"count": 0}, nil
	}

	var b strings.Builder
	b.WriteString("Scheduled jobs:")
	for _, job := range jobs {
		fmt.Fprintf(&b, "\n- %s (id: %s, %s)", job.Name, job.ID, job.Schedule.Kind)
	}
	return b.String(), map[string]interface{}{"count": len(jobs)}, nil
}

func (t *Tool) remove(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	id, err := tools.RequiredString(args, "job_id")
	if err != nil {
		return "", nil, err
	}
	removed, err := t.scheduler.RemoveJob(ctx, id)
	if err != nil {
		return "", nil, tools.External(err, "failed to remove job %s", id)
	}
	if !removed {
		return fmt.Sprintf("Job %s not found", id), map[string]interface{}{"removed": false}, nil
	}
	return fmt.Sprintf("Removed job %s", id), map[string]interface{}{"removed": true}, nil
}
