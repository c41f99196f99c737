package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/programme-lv/grader/api"
)

// Memory is a RunStore kept in process memory.
type Memory struct {
	runs *xsync.MapOf[string, api.Run]
	now  func() time.Time
	// bulk serializes Create against DeleteSubmissionRuns.
	bulk sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		runs: xsync.NewMapOf[string, api.Run](),
		now:  time.Now,
	}
}

func (m *Memory) Create(_ context.Context, run api.Run) error {
	m.bulk.RLock()
	defer m.bulk.RUnlock()
	if _, loaded := m.runs.LoadOrStore(run.ID, run); loaded {
		return fmt.Errorf("%w: %s", ErrExists, run.ID)
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (api.Run, error) {
	run, ok := m.runs.Load(id)
	if !ok {
		return api.Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, nil
}

// update applies fn to the stored run atomically.
func (m *Memory) update(id string, fn func(*api.Run) error) error {
	var err error
	m.runs.Compute(id, func(run api.Run, loaded bool) (api.Run, bool) {
		if !loaded {
			err = fmt.Errorf("%w: %s", ErrNotFound, id)
			return run, true
		}
		next := run
		if err = fn(&next); err != nil {
			return run, false
		}
		next.ModifiedAt = m.now()
		return next, false
	})
	return err
}

func (m *Memory) SetStatus(_ context.Context, id string, status api.Status) error {
	return m.update(id, func(run *api.Run) error {
		if err := checkTransition(run.Status, status); err != nil {
			return err
		}
		run.Status = status
		return nil
	})
}

func (m *Memory) Finalize(_ context.Context, id string, final Final) error {
	return m.update(id, func(run *api.Run) error {
		if err := checkFinal(run.Status, final); err != nil {
			return err
		}
		score := final.Score
		run.Status = final.Status
		run.Retcode = final.Retcode
		run.Score = &score
		run.Output = final.Output
		return nil
	})
}

func (m *Memory) Delete(_ context.Context, id string) error {
	var err error
	m.runs.Compute(id, func(run api.Run, loaded bool) (api.Run, bool) {
		switch {
		case !loaded:
			err = fmt.Errorf("%w: %s", ErrNotFound, id)
		case !run.IsComplete():
			err = fmt.Errorf("%w: %s is %s", ErrRunActive, id, run.Status)
			return run, false
		}
		return run, true
	})
	return err
}

func (m *Memory) DeleteSubmissionRuns(_ context.Context, submissionID string) error {
	m.bulk.Lock()
	defer m.bulk.Unlock()

	var ids []string
	var active error
	m.runs.Range(func(id string, run api.Run) bool {
		if run.SubmissionID != submissionID {
			return true
		}
		if !run.IsComplete() {
			active = fmt.Errorf("%w: %s is %s", ErrRunActive, id, run.Status)
			return false
		}
		ids = append(ids, id)
		return true
	})
	if active != nil {
		return active
	}
	for _, id := range ids {
		m.runs.Delete(id)
	}
	return nil
}

func (m *Memory) List(_ context.Context, filter Filter) ([]api.Run, error) {
	var runs []api.Run
	m.runs.Range(func(_ string, run api.Run) bool {
		if filter.match(run) {
			runs = append(runs, run)
		}
		return true
	})
	slices.SortFunc(runs, func(a, b api.Run) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return runs, nil
}

func (m *Memory) Close() error {
	return nil
}
