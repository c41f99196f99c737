package tester

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/environment"
	"github.com/programme-lv/grader/internal/sandbox"
)

// script runs a grading script whose last line of output is the score.
type script struct {
	explicit string
	limits   api.Limits
	logger   *slog.Logger
}

func newScript(test api.Test, limits api.Limits, logger *slog.Logger) (Tester, error) {
	return &script{explicit: test.Tester.Script, limits: limits, logger: logger}, nil
}

func (s *script) Run(ctx context.Context, env *environment.Environment) (Outcome, error) {
	path, err := locate(env.TestFiles(), env.TestDir(), s.explicit, api.KeyScript)
	if err != nil {
		return failure("%v", err), nil
	}

	stdout := sandbox.NewLimitedBuffer(sandbox.MaxOutput)
	stderr := sandbox.NewLimitedBuffer(sandbox.MaxOutput)
	s.logger.Info("running grading script", slog.String("script", path))
	code, err := env.Run(ctx, sandbox.Spec{
		Args:        []string{path},
		Stdout:      stdout,
		Stderr:      stderr,
		CPUSeconds:  s.limits.CPUSeconds,
		WallSeconds: s.limits.WallSeconds,
	})
	output := stdout.String() + stderr.String()
	if err != nil {
		return Outcome{Output: output}, fmt.Errorf("run grading script: %w", err)
	}
	if code != 0 {
		return Outcome{Code: code, Output: output}, nil
	}

	score, err := lastScore(string(stdout.Bytes()))
	if err != nil {
		out := failure("%v", err)
		out.Output = output + out.Output
		return out, nil
	}
	return Outcome{Score: score, Output: output}, nil
}

// lastScore parses the last non-empty line of out as a score.
func lastScore(out string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return 0, fmt.Errorf("grading script printed no score")
	}
	score, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, fmt.Errorf("grading script printed %q, not a score", last)
	}
	return score, nil
}
