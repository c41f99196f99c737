// Package store persists runs.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/programme-lv/grader/api"
)

var (
	ErrNotFound  = errors.New("run not found")
	ErrExists    = errors.New("run already exists")
	ErrRunActive = errors.New("run is not complete")
	// ErrTransition is returned for a status change that would move a run
	// backwards or out of a terminal status.
	ErrTransition = errors.New("invalid status transition")
)

// Final is the terminal state of a run, written in one update.
type Final struct {
	Status  api.Status
	Retcode int
	Score   float64
	Output  string
}

type Filter struct {
	SubmissionID string
	TestID       string
}

type RunStore interface {
	Create(ctx context.Context, run api.Run) error
	Get(ctx context.Context, id string) (api.Run, error)
	// SetStatus records that the run entered a later, non-terminal status.
	SetStatus(ctx context.Context, id string, status api.Status) error
	// Finalize atomically writes the terminal status with retcode, score
	// and output.
	Finalize(ctx context.Context, id string, final Final) error
	// Delete removes a complete run and fails with ErrRunActive otherwise.
	Delete(ctx context.Context, id string) error
	// DeleteSubmissionRuns removes every run of a submission, or none of
	// them if any is still active.
	DeleteSubmissionRuns(ctx context.Context, submissionID string) error
	List(ctx context.Context, filter Filter) ([]api.Run, error)
	Close() error
}

func checkTransition(from, to api.Status) error {
	if !to.Valid() || to.IsTerminal() || from.IsTerminal() || to.Rank() <= from.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, from, to)
	}
	return nil
}

func checkFinal(from api.Status, final Final) error {
	if !final.Status.Valid() || !final.Status.IsTerminal() || from.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, from, final.Status)
	}
	return nil
}

func (f Filter) match(run api.Run) bool {
	if f.SubmissionID != "" && run.SubmissionID != f.SubmissionID {
		return false
	}
	if f.TestID != "" && run.TestID != f.TestID {
		return false
	}
	return true
}
