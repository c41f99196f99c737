// Package scheduler runs queued runs on a fixed pool of workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/store"
)

var ErrClosed = errors.New("scheduler is closed")

// Executor takes one run to a terminal status.
type Executor interface {
	Execute(ctx context.Context, run api.Run, test api.Test, sub api.Submission) api.Run
}

type Options struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
	NewID     func() string
	Now       func() time.Time
}

type job struct {
	run  api.Run
	test api.Test
	sub  api.Submission
}

type Scheduler struct {
	store store.RunStore
	exec  Executor
	opts  Options

	// slots bounds accepted but not yet started runs.
	slots   chan struct{}
	queue   chan job
	waiters *xsync.MapOf[string, chan struct{}]

	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
}

func New(st store.RunStore, exec Executor, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		store:   st,
		exec:    exec,
		opts:    opts,
		slots:   make(chan struct{}, opts.QueueSize),
		queue:   make(chan job, opts.QueueSize),
		waiters: xsync.NewMapOf[string, chan struct{}](),
	}
}

// Start launches the workers. Runs execute with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.group = &errgroup.Group{}
	for i := 0; i < s.opts.Workers; i++ {
		worker := i
		s.group.Go(func() error {
			s.work(ctx, worker)
			return nil
		})
	}
	s.opts.Logger.Info("scheduler started", slog.Int("workers", s.opts.Workers), slog.Int("queue_size", s.opts.QueueSize))
}

func (s *Scheduler) work(ctx context.Context, worker int) {
	logger := s.opts.Logger.With(slog.Int("worker", worker))
	for j := range s.queue {
		<-s.slots
		logger.Debug("picked up run", slog.String("run_id", j.run.ID))
		s.exec.Execute(ctx, j.run, j.test, j.sub)
		if ch, ok := s.waiters.LoadAndDelete(j.run.ID); ok {
			close(ch)
		}
	}
}

// ExecuteRun records a queued run for sub against test and hands it to the
// workers. It blocks only while the queue is full.
func (s *Scheduler) ExecuteRun(ctx context.Context, test api.Test, sub api.Submission) (api.Run, error) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return api.Run{}, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		<-s.slots
		return api.Run{}, ErrClosed
	}

	now := s.opts.Now()
	assignment := test.AssignmentID
	if assignment == "" {
		assignment = sub.AssignmentID
	}
	run := api.Run{
		ID:           s.opts.NewID(),
		SubmissionID: sub.ID,
		TestID:       test.ID,
		AssignmentID: assignment,
		Owner:        sub.Owner,
		Status:       api.StatusQueued,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
	if err := s.store.Create(ctx, run); err != nil {
		<-s.slots
		return api.Run{}, fmt.Errorf("create run: %w", err)
	}
	s.queue <- job{run: run, test: test, sub: sub}
	s.opts.Logger.Info("run queued",
		slog.String("run_id", run.ID),
		slog.String("test_id", test.ID),
		slog.String("submission_id", sub.ID))
	return run, nil
}

// Wait blocks until the run reaches a terminal status.
func (s *Scheduler) Wait(ctx context.Context, id string) (api.Run, error) {
	run, err := s.store.Get(ctx, id)
	if err != nil || run.IsComplete() {
		return run, err
	}
	ch, _ := s.waiters.LoadOrCompute(id, func() chan struct{} {
		return make(chan struct{})
	})
	// The worker may have finished before the waiter was registered.
	if run, err = s.store.Get(ctx, id); err != nil || run.IsComplete() {
		return run, err
	}
	select {
	case <-ch:
	case <-ctx.Done():
		return api.Run{}, ctx.Err()
	}
	return s.store.Get(ctx, id)
}

// Delete removes a run. An active run is waited for when block is set and
// refused with store.ErrRunActive otherwise.
func (s *Scheduler) Delete(ctx context.Context, id string, block bool) error {
	if block {
		if _, err := s.Wait(ctx, id); err != nil {
			return err
		}
	}
	return s.store.Delete(ctx, id)
}

// DeleteSubmission removes every run of a submission, waiting for active
// ones when block is set.
func (s *Scheduler) DeleteSubmission(ctx context.Context, submissionID string, block bool) error {
	if block {
		runs, err := s.store.List(ctx, store.Filter{SubmissionID: submissionID})
		if err != nil {
			return err
		}
		for _, run := range runs {
			if _, err := s.Wait(ctx, run.ID); err != nil {
				return err
			}
		}
	}
	return s.store.DeleteSubmissionRuns(ctx, submissionID)
}

// Close stops accepting runs, lets the workers finish everything already
// queued and waits for them.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	group := s.group
	s.mu.Unlock()

	if group == nil {
		return nil
	}
	err := group.Wait()
	s.opts.Logger.Info("scheduler stopped")
	return err
}
