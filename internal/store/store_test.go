package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/programme-lv/grader/api"
)

func implementations(t *testing.T) map[string]RunStore {
	t.Helper()
	sqlite, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]RunStore{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newRun(id, submission string, offset int) api.Run {
	return api.Run{
		ID:           id,
		SubmissionID: submission,
		TestID:       "t1",
		Owner:        "alice",
		Status:       api.StatusQueued,
		CreatedAt:    epoch.Add(time.Duration(offset) * time.Second),
		ModifiedAt:   epoch.Add(time.Duration(offset) * time.Second),
	}
}

func forEach(t *testing.T, fn func(t *testing.T, s RunStore)) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func TestCreateAndGet(t *testing.T) {
	forEach(t, func(t *testing.T, s RunStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRun("r1", "s1", 0)))
		require.ErrorIs(t, s.Create(ctx, newRun("r1", "s1", 0)), ErrExists)

		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, api.StatusQueued, got.Status)
		assert.Nil(t, got.Score)
		assert.Equal(t, "alice", got.Owner)
		assert.True(t, epoch.Equal(got.CreatedAt))

		_, err = s.Get(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStatusIsMonotonic(t *testing.T) {
	forEach(t, func(t *testing.T, s RunStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRun("r1", "s1", 0)))

		require.NoError(t, s.SetStatus(ctx, "r1", api.StatusInitializingEnv))
		require.NoError(t, s.SetStatus(ctx, "r1", api.StatusCleaningUp))
		require.ErrorIs(t, s.SetStatus(ctx, "r1", api.StatusBuilding), ErrTransition)
		require.ErrorIs(t, s.SetStatus(ctx, "r1", api.StatusComplete), ErrTransition)
		require.ErrorIs(t, s.SetStatus(ctx, "missing", api.StatusRunning), ErrNotFound)

		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, api.StatusCleaningUp, got.Status)
	})
}

func TestFinalizeWritesEverythingOnce(t *testing.T) {
	forEach(t, func(t *testing.T, s RunStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRun("r1", "s1", 0)))
		require.ErrorIs(t, s.Finalize(ctx, "r1", Final{Status: api.StatusSaving}), ErrTransition)

		final := Final{Status: api.ErrorStatus(api.StageTesterRun), Retcode: 3, Score: 0, Output: "boom\n"}
		require.NoError(t, s.Finalize(ctx, "r1", final))

		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, final.Status, got.Status)
		assert.Equal(t, 3, got.Retcode)
		require.NotNil(t, got.Score)
		assert.Equal(t, 0.0, *got.Score)
		assert.Equal(t, "boom\n", got.Output)
		assert.True(t, got.IsComplete())

		require.ErrorIs(t, s.Finalize(ctx, "r1", Final{Status: api.StatusComplete}), ErrTransition)
		require.ErrorIs(t, s.SetStatus(ctx, "r1", api.StatusSaving), ErrTransition)
	})
}

func TestDeleteRefusesActiveRuns(t *testing.T) {
	forEach(t, func(t *testing.T, s RunStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRun("r1", "s1", 0)))
		require.NoError(t, s.Create(ctx, newRun("r2", "s1", 1)))
		require.NoError(t, s.Create(ctx, newRun("r3", "s2", 2)))

		require.ErrorIs(t, s.Delete(ctx, "r1"), ErrRunActive)
		require.ErrorIs(t, s.DeleteSubmissionRuns(ctx, "s1"), ErrRunActive)

		require.NoError(t, s.Finalize(ctx, "r1", Final{Status: api.StatusComplete, Score: 1}))
		require.ErrorIs(t, s.DeleteSubmissionRuns(ctx, "s1"), ErrRunActive)
		runs, err := s.List(ctx, Filter{SubmissionID: "s1"})
		require.NoError(t, err)
		assert.Len(t, runs, 2)

		require.NoError(t, s.Finalize(ctx, "r2", Final{Status: api.ExceptionStatus(api.StageEnv), Retcode: -1}))
		require.NoError(t, s.DeleteSubmissionRuns(ctx, "s1"))

		runs, err = s.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "r3", runs[0].ID)

		require.NoError(t, s.Finalize(ctx, "r3", Final{Status: api.StatusComplete}))
		require.NoError(t, s.Delete(ctx, "r3"))
		require.ErrorIs(t, s.Delete(ctx, "r3"), ErrNotFound)
	})
}

func TestListOrderAndFilter(t *testing.T) {
	forEach(t, func(t *testing.T, s RunStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, newRun("b", "s1", 2)))
		require.NoError(t, s.Create(ctx, newRun("a", "s1", 1)))
		other := newRun("c", "s2", 0)
		other.TestID = "t2"
		require.NoError(t, s.Create(ctx, other))

		runs, err := s.List(ctx, Filter{SubmissionID: "s1"})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "a", runs[0].ID)
		assert.Equal(t, "b", runs[1].ID)

		runs, err = s.List(ctx, Filter{TestID: "t2"})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "c", runs[0].ID)
	})
}

func TestConcurrentUpdates(t *testing.T) {
	forEach(t, func(t *testing.T, s RunStore) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			id := string(rune('a' + i))
			require.NoError(t, s.Create(ctx, newRun(id, "s1", i)))
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.SetStatus(ctx, id, api.StatusRunning))
				assert.NoError(t, s.Finalize(ctx, id, Final{Status: api.StatusComplete, Score: 1}))
			}()
		}
		wg.Wait()

		runs, err := s.List(ctx, Filter{SubmissionID: "s1"})
		require.NoError(t, err)
		require.Len(t, runs, 20)
		for _, r := range runs {
			assert.Equal(t, api.StatusComplete, r.Status)
		}
	})
}
