package cron

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	job := NewJob("test", Schedule{Kind: KindCron, Expr: "0 * * * *"}, Payload{Message: "hello"})
	assert.Len(t, job.ID, 8)
	assert.Equal(t, "test", job.Name)
	assert.True(t, job.Enabled, "jobs are enabled by default")
	assert.False(t, job.DeleteAfterRun)
	assert.Equal(t, "hello", job.Payload.Message)

	once := NewJob("once", Schedule{Kind: KindAt, AtMs: time.Now().Add(time.Hour).UnixMilli()}, Payload{Message: "x"})
	assert.True(t, once.DeleteAfterRun)
}

func TestScheduleValidate(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		wantErr  bool
	}{
		{"five fields", Schedule{Kind: KindCron, Expr: "0 9 * * 1-5"}, false},
		{"six fields", Schedule{Kind: KindCron, Expr: "*/10 * * * * *"}, false},
		{"descriptor", Schedule{Kind: KindCron, Expr: "@hourly"}, false},
		{"bad expr", Schedule{Kind: KindCron, Expr: "every tuesday"}, true},
		{"empty expr", Schedule{Kind: KindCron}, true},
		{"every", Schedule{Kind: KindEvery, EveryMs: 60000}, false},
		{"every too short", Schedule{Kind: KindEvery, EveryMs: 10}, true},
		{"at", Schedule{Kind: KindAt, AtMs: 1}, false},
		{"at missing", Schedule{Kind: KindAt}, true},
		{"unknown kind", Schedule{Kind: "weekly"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func newFileService(t *testing.T) (*Service, *FileStore) {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "cron", "jobs.json"))
	return NewService(store, nil), store
}

func TestAddListRemove(t *testing.T) {
	s, store := newFileService(t)
	ctx := context.Background()

	at := time.Now().Add(time.Hour).UnixMilli()
	job, err := s.AddJob(ctx, "reminder", Schedule{Kind: KindAt, AtMs: at}, Payload{Message: "stand up"})
	require.NoError(t, err)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "a one-shot job appears exactly once")
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.True(t, jobs[0].DeleteAfterRun)

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var stored []Job
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Len(t, stored, 1)

	removed, err := s.RemoveJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	jobs, err = s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	removed, err = s.RemoveJob(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s, store := newFileService(t)
	_, err := s.AddJob(context.Background(), "bad", Schedule{Kind: KindCron, Expr: "nope"}, Payload{Message: "x"})
	require.Error(t, err)

	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr), "nothing is written for an invalid job")
}

func TestRunDueOneShot(t *testing.T) {
	s, _ := newFileService(t)
	ctx := context.Background()

	var runs atomic.Int32
	s.OnJob = func(ctx context.Context, job Job) (string, error) {
		runs.Add(1)
		return "done", nil
	}

	at := time.Now().Add(time.Minute)
	_, err := s.AddJob(ctx, "once", Schedule{Kind: KindAt, AtMs: at.UnixMilli()}, Payload{Message: "x"})
	require.NoError(t, err)

	assert.Equal(t, 0, s.RunDue(ctx, time.Now()))
	assert.Equal(t, 1, s.RunDue(ctx, at.Add(time.Second)))
	assert.Equal(t, 0, s.RunDue(ctx, at.Add(2*time.Second)))
	assert.Equal(t, int32(1), runs.Load())

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs, "one-shot jobs are deleted after running")
}

func TestRunDueEvery(t *testing.T) {
	s, _ := newFileService(t)
	ctx := context.Background()

	s.OnJob = func(ctx context.Context, job Job) (string, error) {
		return "", errors.New("boom")
	}

	job, err := s.AddJob(ctx, "tick", Schedule{Kind: KindEvery, EveryMs: 60000}, Payload{Message: "x"})
	require.NoError(t, err)

	created := time.UnixMilli(job.CreatedAtMs)
	assert.Equal(t, 0, s.RunDue(ctx, created.Add(30*time.Second)))
	assert.Equal(t, 1, s.RunDue(ctx, created.Add(61*time.Second)))
	assert.Equal(t, 0, s.RunDue(ctx, created.Add(90*time.Second)))
	assert.Equal(t, 1, s.RunDue(ctx, created.Add(122*time.Second)))

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusError, jobs[0].State.LastStatus)
	assert.Equal(t, "boom", jobs[0].State.LastError)
	assert.Equal(t, created.Add(122*time.Second).UnixMilli(), jobs[0].State.LastRunAtMs)
}

func TestDisabledJobsDoNotRun(t *testing.T) {
	s, _ := newFileService(t)
	ctx := context.Background()

	job, err := s.AddJob(ctx, "tick", Schedule{Kind: KindEvery, EveryMs: 1000}, Payload{Message: "x"})
	require.NoError(t, err)
	_, err = s.EnableJob(ctx, job.ID, false)
	require.NoError(t, err)

	assert.Equal(t, 0, s.RunDue(ctx, time.Now().Add(time.Hour)))

	_, err = s.EnableJob(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCronKindFires(t *testing.T) {
	s, _ := newFileService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan Job, 4)
	s.OnJob = func(ctx context.Context, job Job) (string, error) {
		fired <- job
		return "ok", nil
	}
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	job, err := s.AddJob(ctx, "every second", Schedule{Kind: KindCron, Expr: "* * * * * *"}, Payload{Message: "ping"})
	require.NoError(t, err)

	select {
	case got := <-fired:
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, "ping", got.Payload.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("cron job did not fire")
	}

	removed, err := s.RemoveJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	s.mu.Lock()
	assert.Empty(t, s.entries, "removing a job unregisters it")
	s.mu.Unlock()
}

func TestStartPicksUpStoredJobs(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "jobs.json"))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, []Job{
		NewJob("daily", Schedule{Kind: KindCron, Expr: "0 9 * * *"}, Payload{Message: "x"}),
		NewJob("tick", Schedule{Kind: KindEvery, EveryMs: 60000}, Payload{Message: "y"}),
	}))

	s := NewService(store, nil)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.jobs, 2)
	assert.Len(t, s.entries, 1)
}

func testStoreUpdate(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	jobs, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	a := NewJob("a", Schedule{Kind: KindEvery, EveryMs: 1000}, Payload{Message: "a"})
	b := NewJob("b", Schedule{Kind: KindAt, AtMs: 5}, Payload{Message: "b"})
	require.NoError(t, store.Save(ctx, []Job{a, b}))

	jobs, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "b", jobs[1].Name)
	assert.True(t, jobs[1].DeleteAfterRun)

	err = store.Update(ctx, func(jobs []Job) ([]Job, error) {
		return nil, errors.New("abort")
	})
	require.Error(t, err)
	jobs, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2, "a failed update leaves the store unchanged")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Update(ctx, func(jobs []Job) ([]Job, error) {
				return append(jobs, NewJob(fmt.Sprintf("job-%d", i), Schedule{Kind: KindEvery, EveryMs: 1000}, Payload{Message: "x"})), nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	jobs, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 12, "concurrent updates are not lost")
}

func TestFileStore(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "jobs.json"))
	testStoreUpdate(t, store)

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cron.db"))
	require.NoError(t, err)
	defer store.Close()
	testStoreUpdate(t, store)
}

func TestSQLiteStoreMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	s := NewService(store, nil)
	ctx := context.Background()
	job, err := s.AddJob(ctx, "once", Schedule{Kind: KindAt, AtMs: time.Now().Add(time.Hour).UnixMilli()}, Payload{Message: "x"})
	require.NoError(t, err)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	removed, err := s.RemoveJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TOOLBELT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TOOLBELT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	key := fmt.Sprintf("toolbelt:test:cron:%d", time.Now().UnixNano())

	store, err := NewRedisStore(ctx, addr, key)
	require.NoError(t, err)
	defer func() {
		store.rdb.Del(ctx, key)
		store.Close()
	}()
	testStoreUpdate(t, store)
}
