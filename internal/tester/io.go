package tester

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/environment"
	"github.com/programme-lv/grader/internal/sandbox"
)

// ioTester compares the output of the submission with that of a reference
// solution on every input file. A case scores its point only when the
// submission exits 0 and its output, trimmed of surrounding whitespace,
// equals the solution's byte for byte.
type ioTester struct {
	test   api.Test
	limits api.Limits
	logger *slog.Logger
}

func newIO(test api.Test, limits api.Limits, logger *slog.Logger) (Tester, error) {
	return &ioTester{test: test, limits: limits, logger: logger}, nil
}

type execution struct {
	code   int
	stdout []byte
}

func (t *ioTester) Run(ctx context.Context, env *environment.Environment) (Outcome, error) {
	cfg := t.test.Tester
	solution, err := locate(env.TestFiles(), env.TestDir(), cfg.Solution, api.KeySolution)
	if err != nil {
		return failure("%v", err), nil
	}
	submission, err := locate(env.SubmissionFiles(), env.SubmissionDir(), cfg.Submission, api.KeySubmission)
	if err != nil {
		return failure("%v", err), nil
	}

	inputs := t.inputs(env)
	cases := len(inputs)
	if cases == 0 {
		cases = 1
		inputs = []string{""}
	}

	var report strings.Builder
	points, code := 0, 0
	for _, input := range inputs {
		name := filepath.Base(input)
		if input == "" {
			name = "(no input)"
		}

		want, err := t.execute(ctx, env, solution, input)
		if err != nil {
			return Outcome{Output: report.String()}, fmt.Errorf("run solution on %s: %w", name, err)
		}
		got, err := t.execute(ctx, env, submission, input)
		if err != nil {
			return Outcome{Output: report.String()}, fmt.Errorf("run submission on %s: %w", name, err)
		}

		switch {
		case want.code != 0:
			code += want.code
			fmt.Fprintf(&report, "%s: solution exited with %d\n", name, want.code)
		case got.code != 0:
			fmt.Fprintf(&report, "%s: submission exited with %d\n", name, got.code)
		case bytes.Equal(bytes.TrimSpace(want.stdout), bytes.TrimSpace(got.stdout)):
			points++
			fmt.Fprintf(&report, "%s: ok\n", name)
		default:
			fmt.Fprintf(&report, "%s: wrong answer\n", name)
		}
	}

	score := float64(points) / float64(cases) * t.test.MaxScore
	fmt.Fprintf(&report, "passed %d of %d\n", points, cases)
	t.logger.Info("comparison finished",
		slog.Int("points", points),
		slog.Int("cases", cases),
		slog.Int("solution_code", code))
	return Outcome{Code: code, Score: score, Output: report.String()}, nil
}

// inputs returns the input files sorted by name.
func (t *ioTester) inputs(env *environment.Environment) []string {
	var paths []string
	for _, p := range env.TestFiles() {
		if p.File.Key != api.KeyInput {
			continue
		}
		if !strings.HasPrefix(filepath.Base(p.Path), t.test.Tester.InputPrefix) {
			continue
		}
		paths = append(paths, p.Path)
	}
	slices.SortFunc(paths, func(a, b string) int {
		return strings.Compare(filepath.Base(a), filepath.Base(b))
	})
	return paths
}

func (t *ioTester) execute(ctx context.Context, env *environment.Environment, program, input string) (execution, error) {
	var stdin io.Reader = bytes.NewReader(nil)
	if input != "" {
		f, err := os.Open(input)
		if err != nil {
			return execution{}, err
		}
		defer f.Close()
		stdin = f
	}

	stdout := sandbox.NewLimitedBuffer(sandbox.MaxOutput)
	stderr := sandbox.NewLimitedBuffer(sandbox.MaxOutput)
	code, err := env.Run(ctx, sandbox.Spec{
		Args:        []string{program},
		Stdin:       stdin,
		Stdout:      stdout,
		Stderr:      stderr,
		CPUSeconds:  t.limits.CPUSeconds,
		WallSeconds: t.limits.WallSeconds,
	})
	if err != nil {
		return execution{}, err
	}
	return execution{code: code, stdout: stdout.Bytes()}, nil
}
