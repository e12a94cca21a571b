package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/entrhq/toolbelt/pkg/logging"
)

const (
	tickInterval   = time.Second
	reloadInterval = 15 * time.Second
)

// ErrNotFound is returned for an unknown job id.
var ErrNotFound = errors.New("job not found")

// Handler runs a fired job and returns its result text.
type Handler func(ctx context.Context, job Job) (string, error)

// Service schedules the jobs in a Store. Cron-kind jobs are driven by
// robfig/cron; every and at jobs by a one-second ticker. The job list is
// reloaded from the store periodically so jobs added by another process
// are picked up.
type Service struct {
	store  Store
	logger *logging.Logger

	// OnJob is called for every fired job. Set it before Start.
	OnJob Handler

	mu       sync.Mutex
	jobs     []Job
	cron     *rcron.Cron
	entries  map[string]rcron.EntryID
	inflight map[string]bool
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewService creates a service over store.
func NewService(store Store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:    store,
		logger:   logger,
		entries:  make(map[string]rcron.EntryID),
		inflight: make(map[string]bool),
		runCtx:   context.Background(),
	}
}

// Start loads the jobs and begins scheduling. It returns once the
// schedulers are running; ctx cancellation stops them.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return fmt.Errorf("cron service already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.cron = rcron.New(rcron.WithParser(parser))
	s.mu.Unlock()

	if err := s.reload(runCtx); err != nil {
		s.logger.Warnf("[cron] failed to load jobs: %v", err)
	}

	s.cron.Start()
	s.logger.Infof("[cron] started with %d jobs", len(s.snapshot()))

	s.wg.Add(1)
	go s.tickLoop(runCtx)
	return nil
}

// Stop halts scheduling and waits briefly for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, c := s.cancel, s.cron
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warnf("[cron] stop timeout waiting for running jobs")
	}
	s.wg.Wait()
	s.logger.Infof("[cron] stopped")
}

// AddJob validates and stores a new job.
func (s *Service) AddJob(ctx context.Context, name string, schedule Schedule, payload Payload) (Job, error) {
	if err := schedule.Validate(); err != nil {
		return Job{}, err
	}
	job := NewJob(name, schedule, payload)

	var updated []Job
	err := s.store.Update(ctx, func(jobs []Job) ([]Job, error) {
		updated = append(jobs, job)
		return updated, nil
	})
	if err != nil {
		return Job{}, fmt.Errorf("save jobs: %w", err)
	}

	s.apply(updated)
	s.logger.Infof("[cron] added job %s (%s, %s)", job.Name, job.ID, job.Schedule)
	return job, nil
}

// RemoveJob deletes the job with id. It reports false when there is none.
func (s *Service) RemoveJob(ctx context.Context, id string) (bool, error) {
	found := false
	var updated []Job
	err := s.store.Update(ctx, func(jobs []Job) ([]Job, error) {
		i := indexOf(jobs, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		found = true
		updated = append(jobs[:i:i], jobs[i+1:]...)
		return updated, nil
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("save jobs: %w", err)
	}

	s.apply(updated)
	s.logger.Infof("[cron] removed job %s", id)
	return found, nil
}

// EnableJob turns a job on or off.
func (s *Service) EnableJob(ctx context.Context, id string, enabled bool) (Job, error) {
	var job Job
	var updated []Job
	err := s.store.Update(ctx, func(jobs []Job) ([]Job, error) {
		i := indexOf(jobs, id)
		if i < 0 {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		jobs[i].Enabled = enabled
		job = jobs[i]
		updated = jobs
		return jobs, nil
	})
	if err != nil {
		return Job{}, err
	}
	s.apply(updated)
	return job, nil
}

// ListJobs returns the stored jobs in creation order.
func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	jobs, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return jobs, nil
}

// RunDue runs every enabled every/at job that is due at now and returns
// how many ran. Jobs still running from an earlier call are skipped.
func (s *Service) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []Job
	for _, job := range s.jobs {
		if job.due(now) && !s.inflight[job.ID] {
			s.inflight[job.ID] = true
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.execute(ctx, job, now)
	}
	return len(due)
}

func (s *Service) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	lastReload := time.Now()

	for {
		select {
		case now := <-ticker.C:
			if now.Sub(lastReload) >= reloadInterval {
				if err := s.reload(ctx); err != nil {
					s.logger.Warnf("[cron] reload failed: %v", err)
				}
				lastReload = now
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.RunDue(ctx, now)
			}()
		case <-ctx.Done():
			return
		}
	}
}

// fire is the robfig/cron entry for a cron-kind job.
func (s *Service) fire(id string) {
	s.mu.Lock()
	i := indexOf(s.jobs, id)
	if i < 0 || !s.jobs[i].Enabled || s.inflight[id] {
		s.mu.Unlock()
		return
	}
	job := s.jobs[i]
	s.inflight[id] = true
	ctx := s.runCtx
	s.mu.Unlock()

	s.execute(ctx, job, time.Now())
}

// execute runs job and records the outcome. The caller has marked the job
// in flight.
func (s *Service) execute(ctx context.Context, job Job, now time.Time) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, job.ID)
		s.mu.Unlock()
	}()

	var result string
	var runErr error
	if s.OnJob == nil {
		s.logger.Warnf("[cron] no OnJob handler set; job %s skipped", job.Name)
	} else {
		result, runErr = s.OnJob(ctx, job)
	}

	if runErr != nil {
		s.logger.Errorf("[cron] job %s (%s) failed: %v", job.Name, job.ID, runErr)
	} else {
		s.logger.Infof("[cron] job %s (%s) executed: %s", job.Name, job.ID, truncate(result, 100))
	}

	var updated []Job
	err := s.store.Update(context.WithoutCancel(ctx), func(jobs []Job) ([]Job, error) {
		i := indexOf(jobs, job.ID)
		if i < 0 {
			return nil, ErrNotFound
		}
		if jobs[i].DeleteAfterRun {
			updated = append(jobs[:i:i], jobs[i+1:]...)
			return updated, nil
		}
		jobs[i].State.LastRunAtMs = now.UnixMilli()
		if runErr != nil {
			jobs[i].State.LastStatus = StatusError
			jobs[i].State.LastError = runErr.Error()
		} else {
			jobs[i].State.LastStatus = StatusOK
			jobs[i].State.LastError = ""
		}
		updated = jobs
		return jobs, nil
	})
	switch {
	case errors.Is(err, ErrNotFound):
		// removed while running
	case err != nil:
		s.logger.Errorf("[cron] failed to record run of %s: %v", job.ID, err)
	default:
		s.apply(updated)
	}
}

func (s *Service) reload(ctx context.Context) error {
	jobs, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	s.apply(jobs)
	return nil
}

// apply replaces the cached job list and brings the cron entries in line
// with it.
func (s *Service) apply(jobs []Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append([]Job(nil), jobs...)
	if s.cron == nil {
		return
	}

	wanted := make(map[string]Job)
	for _, job := range s.jobs {
		if job.Enabled && job.Schedule.Kind == KindCron {
			wanted[job.ID] = job
		}
	}
	for id, entry := range s.entries {
		if _, ok := wanted[id]; !ok {
			s.cron.Remove(entry)
			delete(s.entries, id)
		}
	}
	for id, job := range wanted {
		if _, ok := s.entries[id]; ok {
			continue
		}
		id := id
		entry, err := s.cron.AddFunc(job.Schedule.Expr, func() { s.fire(id) })
		if err != nil {
			s.logger.Errorf("[cron] failed to register job %s (%s): %v", job.Name, job.Schedule.Expr, err)
			continue
		}
		s.entries[id] = entry
	}
}

func (s *Service) snapshot() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
