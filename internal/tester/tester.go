// Package tester runs grading logic against a prepared environment.
package tester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/environment"
)

var ErrUnknownKind = errors.New("unknown tester kind")

// FailureCode is the Outcome code of a tester that could not grade the
// submission because of its configuration.
const FailureCode = -1

// Outcome is the result of a test stage that ran to completion. A non-zero
// Code is a failed stage and its Score is not used.
type Outcome struct {
	Code   int
	Score  float64
	Output string
}

func failure(format string, args ...any) Outcome {
	return Outcome{Code: FailureCode, Output: fmt.Sprintf(format, args...) + "\n"}
}

type Tester interface {
	Run(ctx context.Context, env *environment.Environment) (Outcome, error)
}

// Factory creates a tester for test. Limits apply to each command the
// tester runs.
type Factory func(test api.Test, limits api.Limits, logger *slog.Logger) (Tester, error)

type Registry map[api.TesterKind]Factory

func DefaultRegistry() Registry {
	return Registry{
		api.TesterScript: newScript,
		api.TesterIO:     newIO,
	}
}

func (r Registry) New(test api.Test, limits api.Limits, logger *slog.Logger) (Tester, error) {
	factory, ok := r[test.Tester.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, test.Tester.Kind)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return factory(test, limits, logger)
}
