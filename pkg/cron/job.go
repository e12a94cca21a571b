// Package cron schedules jobs that deliver a message, or run a task through
// a subagent, at a given time. Jobs live in a Store so they survive
// restarts and can be managed from a separate process.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"
)

// Schedule kinds.
const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

// Last-run statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// parser accepts standard five-field expressions and an optional leading
// seconds field.
var parser = rcron.NewParser(
	rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// Schedule says when a job runs. Exactly one of Expr, EveryMs and AtMs is
// meaningful, chosen by Kind.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Validate checks the schedule is well formed.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindCron:
		if strings.TrimSpace(s.Expr) == "" {
			return fmt.Errorf("cron expression is required")
		}
		if _, err := parser.Parse(s.Expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Expr, err)
		}
	case KindEvery:
		if s.EveryMs < 1000 {
			return fmt.Errorf("interval must be at least one second")
		}
	case KindAt:
		if s.AtMs <= 0 {
			return fmt.Errorf("run time is required")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// String renders the schedule for listings.
func (s Schedule) String() string {
	switch s.Kind {
	case KindCron:
		return "cron: " + s.Expr
	case KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case KindAt:
		return "at " + time.UnixMilli(s.AtMs).Format(time.RFC3339)
	}
	return s.Kind
}

// Payload is what a job does when it fires.
type Payload struct {
	Message string `json:"message"`
	// Agent runs Message as a subagent task instead of sending it as is.
	Agent   bool   `json:"agent,omitempty"`
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// JobState records the last run.
type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// Job is a scheduled job.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
}

// NewJob creates an enabled job. One-shot jobs are deleted after they run.
func NewJob(name string, schedule Schedule, payload Payload) Job {
	return Job{
		ID:             uuid.NewString()[:8],
		Name:           name,
		Enabled:        true,
		Schedule:       schedule,
		Payload:        payload,
		CreatedAtMs:    time.Now().UnixMilli(),
		DeleteAfterRun: schedule.Kind == KindAt,
	}
}

// due reports whether an every or at job should run at now. Cron-kind
// jobs are driven by the cron scheduler and never report due.
func (j Job) due(now time.Time) bool {
	if !j.Enabled {
		return false
	}
	ms := now.UnixMilli()
	switch j.Schedule.Kind {
	case KindEvery:
		last := j.State.LastRunAtMs
		if last == 0 {
			last = j.CreatedAtMs
		}
		return ms >= last+j.Schedule.EveryMs
	case KindAt:
		return j.State.LastRunAtMs == 0 && ms >= j.Schedule.AtMs
	}
	return false
}

func indexOf(jobs []Job, id string) int {
	for i := range jobs {
		if jobs[i].ID == id {
			return i
		}
	}
	return -1
}
