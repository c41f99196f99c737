// Package reporter files computed grades with external systems.
package reporter

//go:generate mockgen -source=reporter.go -destination=mocks/reporter.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/programme-lv/grader/api"
)

var (
	ErrUnknownKind        = errors.New("unknown reporter kind")
	ErrPastDue            = errors.New("assignment is past its due date")
	ErrAssignmentNotFound = errors.New("assignment not found")
)

type Reporter interface {
	FileReport(ctx context.Context, user string, grade float64, comment string) error
}

// LMS is the part of a learning management system reporters talk to.
type LMS interface {
	// DueDate returns the assignment's deadline, or nil if it has none.
	DueDate(ctx context.Context, assignmentID string) (*time.Time, error)
	SaveGrade(ctx context.Context, assignmentID, user string, grade float64, comment string) error
}

type Factory func(cfg api.ReporterConfig) (Reporter, error)

type Registry map[api.ReporterKind]Factory

// DefaultRegistry returns the built-in reporters. A nil lms leaves the
// moodle reporter unavailable.
func DefaultRegistry(lms LMS, now func() time.Time, logger *slog.Logger) Registry {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Registry{
		api.ReporterNone: func(api.ReporterConfig) (Reporter, error) {
			return None{}, nil
		},
		api.ReporterMoodle: func(cfg api.ReporterConfig) (Reporter, error) {
			if lms == nil {
				return nil, fmt.Errorf("moodle reporter: no LMS configured")
			}
			return NewMoodle(lms, cfg, now, logger), nil
		},
	}
}

func (r Registry) New(cfg api.ReporterConfig) (Reporter, error) {
	factory, ok := r[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	return factory(cfg)
}

type None struct{}

func (None) FileReport(context.Context, string, float64, string) error {
	return nil
}

// Transcript renders the human readable summary filed along with a grade.
func Transcript(run api.Run, test api.Test, sub api.Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assignment: %s\n", test.AssignmentID)
	fmt.Fprintf(&b, "Test: %s", test.ID)
	if test.Name != "" {
		fmt.Fprintf(&b, " (%s)", test.Name)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Submission: %s\n", sub.ID)
	fmt.Fprintf(&b, "Run: %s\n", run.ID)
	score := "-"
	if run.Score != nil {
		score = api.FormatScore(*run.Score)
	}
	fmt.Fprintf(&b, "Score: %s / %s\n", score, api.FormatScore(test.MaxScore))
	fmt.Fprintf(&b, "Return code: %d\n", run.Retcode)
	fmt.Fprintf(&b, "Status: %s\n", run.Status)
	b.WriteString("\nOutput:\n")
	b.WriteString(run.Output)
	return b.String()
}

const TruncationMarker = "[...]"

// Truncate shortens s to at most max runes, ending it with
// TruncationMarker when anything was cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	keep := max - len([]rune(TruncationMarker))
	if keep < 0 {
		return string([]rune(TruncationMarker)[:max])
	}
	return string(runes[:keep]) + TruncationMarker
}
