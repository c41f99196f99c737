package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/scheduler"
	"github.com/programme-lv/grader/internal/store"
)

// sleeper is an Executor that holds each run for a while and tracks how
// many run at once.
type sleeper struct {
	store   store.RunStore
	delay   time.Duration
	release chan struct{}

	running atomic.Int32
	peak    atomic.Int32
	mu      sync.Mutex
	order   []string
}

func (e *sleeper) Execute(ctx context.Context, run api.Run, _ api.Test, _ api.Submission) api.Run {
	_ = e.store.SetStatus(ctx, run.ID, api.StatusRunning)
	n := e.running.Add(1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if e.release != nil {
		<-e.release
	}
	time.Sleep(e.delay)
	e.running.Add(-1)

	e.mu.Lock()
	e.order = append(e.order, run.ID)
	e.mu.Unlock()

	_ = e.store.Finalize(ctx, run.ID, store.Final{Status: api.StatusComplete, Score: 1})
	final, _ := e.store.Get(ctx, run.ID)
	return final
}

func TestAtMostWorkersRunAtOnce(t *testing.T) {
	st := store.NewMemory()
	exec := &sleeper{store: st, delay: 20 * time.Millisecond}
	s := scheduler.New(st, exec, scheduler.Options{Workers: 3, QueueSize: 4})
	s.Start(context.Background())

	ctx := context.Background()
	var ids []string
	for i := 0; i < 12; i++ {
		run, err := s.ExecuteRun(ctx, api.Test{ID: "t1"}, api.Submission{ID: "s1", Owner: "bob"})
		require.NoError(t, err)
		assert.Equal(t, api.StatusQueued, run.Status)
		assert.Equal(t, "bob", run.Owner)
		ids = append(ids, run.ID)
	}
	for _, id := range ids {
		run, err := s.Wait(ctx, id)
		require.NoError(t, err)
		assert.True(t, run.IsComplete())
	}
	require.NoError(t, s.Close())

	assert.LessOrEqual(t, exec.peak.Load(), int32(3))
	assert.Len(t, exec.order, 12)
}

func TestExecuteRunReturnsImmediately(t *testing.T) {
	st := store.NewMemory()
	exec := &sleeper{store: st, release: make(chan struct{})}
	s := scheduler.New(st, exec, scheduler.Options{Workers: 1, QueueSize: 2})
	s.Start(context.Background())

	run, err := s.ExecuteRun(context.Background(), api.Test{ID: "t1"}, api.Submission{ID: "s1"})
	require.NoError(t, err)
	assert.False(t, run.IsComplete())

	stored, err := st.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsComplete())

	close(exec.release)
	require.NoError(t, s.Close())
	stored, err = st.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsComplete())
}

func TestDeleteActiveRun(t *testing.T) {
	st := store.NewMemory()
	exec := &sleeper{store: st, release: make(chan struct{})}
	s := scheduler.New(st, exec, scheduler.Options{Workers: 1, QueueSize: 2})
	s.Start(context.Background())
	defer s.Close()

	ctx := context.Background()
	run, err := s.ExecuteRun(ctx, api.Test{ID: "t1"}, api.Submission{ID: "s1"})
	require.NoError(t, err)

	require.ErrorIs(t, s.Delete(ctx, run.ID, false), store.ErrRunActive)
	require.ErrorIs(t, s.DeleteSubmission(ctx, "s1", false), store.ErrRunActive)

	timeout, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Delete(timeout, run.ID, true), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- s.Delete(ctx, run.ID, true) }()
	close(exec.release)
	require.NoError(t, <-done)

	_, err = st.Get(ctx, run.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteSubmissionBlocks(t *testing.T) {
	st := store.NewMemory()
	exec := &sleeper{store: st, delay: 10 * time.Millisecond}
	s := scheduler.New(st, exec, scheduler.Options{Workers: 2, QueueSize: 8})
	s.Start(context.Background())
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := s.ExecuteRun(ctx, api.Test{ID: "t1"}, api.Submission{ID: "s1"})
		require.NoError(t, err)
	}
	require.NoError(t, s.DeleteSubmission(ctx, "s1", true))
	runs, err := st.List(ctx, store.Filter{SubmissionID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestClosedSchedulerRefusesRuns(t *testing.T) {
	st := store.NewMemory()
	s := scheduler.New(st, &sleeper{store: st}, scheduler.Options{Workers: 1})
	s.Start(context.Background())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.ExecuteRun(context.Background(), api.Test{}, api.Submission{})
	require.ErrorIs(t, err, scheduler.ErrClosed)
}

func TestFullQueueBlocksUntilContextEnds(t *testing.T) {
	st := store.NewMemory()
	exec := &sleeper{store: st, release: make(chan struct{})}
	s := scheduler.New(st, exec, scheduler.Options{Workers: 1, QueueSize: 1})
	s.Start(context.Background())

	ctx := context.Background()
	// one run executing, one waiting in the queue
	_, err := s.ExecuteRun(ctx, api.Test{}, api.Submission{ID: "s"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return exec.running.Load() == 1 }, time.Second, time.Millisecond)
	_, err = s.ExecuteRun(ctx, api.Test{}, api.Submission{ID: "s"})
	require.NoError(t, err)

	timeout, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = s.ExecuteRun(timeout, api.Test{}, api.Submission{ID: "s"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(exec.release)
	require.NoError(t, s.Close())
}
