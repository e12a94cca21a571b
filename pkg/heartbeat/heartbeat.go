// Package heartbeat wakes the agent periodically to look at HEARTBEAT.md
// in the workspace and act on whatever it lists.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/toolbelt/pkg/logging"
)

const (
	// DefaultInterval is the time between checks.
	DefaultInterval = 30 * time.Minute
	// FileName is the task list read on every check.
	FileName = "HEARTBEAT.md"
	// OKToken in a reply means there was nothing to do.
	OKToken = "HEARTBEAT_OK"
)

// Prompt is sent to the agent on each actionable check.
const Prompt = `Read HEARTBEAT.md in your workspace (if it exists).
Follow any instructions or tasks listed there.
If nothing needs attention, reply with just: HEARTBEAT_OK`

// RunFunc hands a prompt to the agent and returns its reply.
type RunFunc func(ctx context.Context, prompt string) (string, error)

// Service runs the periodic check.
type Service struct {
	workspace string
	run       RunFunc
	interval  time.Duration
	logger    *logging.Logger

	// OnResult receives replies that did real work. Optional.
	OnResult func(reply string)

	// one check at a time
	mu sync.Mutex
}

// New creates a heartbeat for workspace. interval <= 0 uses
// DefaultInterval.
func New(workspace string, run RunFunc, interval time.Duration, logger *logging.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		workspace: workspace,
		run:       run,
		interval:  interval,
		logger:    logger,
	}
}

// Interval returns the time between checks.
func (s *Service) Interval() time.Duration { return s.interval }

// Start runs checks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if s.run == nil {
		return errors.New("heartbeat: no run function")
	}
	s.logger.Infof("[heartbeat] started (every %s)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("[heartbeat] stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Errorf("[heartbeat] %v", err)
			}
		}
	}
}

// Tick performs one check. It skips the agent when HEARTBEAT.md is
// missing or has nothing actionable, and reports whether the agent ran.
func (s *Service) Tick(ctx context.Context) (bool, error) {
	content, err := s.readFile()
	if err != nil {
		return false, err
	}
	if !IsActionable(content) {
		s.logger.Debugf("[heartbeat] no tasks")
		return false, nil
	}
	_, err = s.TriggerNow(ctx)
	return true, err
}

// TriggerNow asks the agent to check HEARTBEAT.md right away, whatever the
// file holds.
func (s *Service) TriggerNow(ctx context.Context) (string, error) {
	if s.run == nil {
		return "", errors.New("heartbeat: no run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("[heartbeat] checking for tasks")
	reply, err := s.run(ctx, Prompt)
	if err != nil {
		return "", fmt.Errorf("heartbeat run: %w", err)
	}

	if IsOK(reply) {
		s.logger.Infof("[heartbeat] OK (no action needed)")
		return reply, nil
	}
	s.logger.Infof("[heartbeat] completed task")
	if s.OnResult != nil {
		s.OnResult(reply)
	}
	return reply, nil
}

func (s *Service) readFile() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.workspace, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", FileName, err)
	}
	return string(data), nil
}

// IsOK reports whether reply says there was nothing to do. Case and
// underscores are ignored.
func IsOK(reply string) bool {
	norm := strings.ReplaceAll(strings.ToUpper(reply), "_", "")
	return strings.Contains(norm, strings.ReplaceAll(OKToken, "_", ""))
}

var emptyCheckboxes = map[string]bool{
	"- [ ]": true,
	"* [ ]": true,
	"- [x]": true,
	"* [x]": true,
}

// IsActionable reports whether content holds anything besides headings,
// HTML comments, blank lines and checkboxes with no text.
func IsActionable(content string) bool {
	inComment := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if inComment {
			if i := strings.Index(line, "-->"); i >= 0 {
				inComment = false
				line = strings.TrimSpace(line[i+3:])
			} else {
				continue
			}
		}
		for strings.HasPrefix(line, "<!--") {
			end := strings.Index(line, "-->")
			if end < 0 {
				inComment = true
				line = ""
				break
			}
			line = strings.TrimSpace(line[end+3:])
		}

		if line == "" || strings.HasPrefix(line, "#") || emptyCheckboxes[strings.ToLower(line)] {
			continue
		}
		return true
	}
	return false
}
