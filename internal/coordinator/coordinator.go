// Package coordinator executes a single run: it prepares the environment,
// builds, tests, reports and records every step in the run's status.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/builder"
	"github.com/programme-lv/grader/internal/environment"
	"github.com/programme-lv/grader/internal/gatherer"
	"github.com/programme-lv/grader/internal/reporter"
	"github.com/programme-lv/grader/internal/store"
	"github.com/programme-lv/grader/internal/tester"
)

type EnvironmentFactory interface {
	Create(ctx context.Context, runID string, test api.Test, sub api.Submission) (*environment.Environment, error)
}

type Options struct {
	Store        store.RunStore
	Environments EnvironmentFactory
	Builders     builder.Registry
	Testers      tester.Registry
	Reporters    reporter.Registry
	Observer     gatherer.Observer

	// BuildLimits bound build commands. TestLimits are the defaults for
	// tests that set no limits of their own.
	BuildLimits api.Limits
	TestLimits  api.Limits

	Logger *slog.Logger
	Now    func() time.Time
}

type Coordinator struct {
	opts Options
}

func New(opts Options) *Coordinator {
	if opts.Builders == nil {
		opts.Builders = builder.DefaultRegistry()
	}
	if opts.Testers == nil {
		opts.Testers = tester.DefaultRegistry()
	}
	if opts.Reporters == nil {
		opts.Reporters = reporter.DefaultRegistry(nil, opts.Now, opts.Logger)
	}
	if opts.Observer == nil {
		opts.Observer = gatherer.Nop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{opts: opts}
}

// Execute takes a queued run through every stage and returns it in its
// terminal state. It never fails: whatever goes wrong is recorded in the
// run's status and output.
func (c *Coordinator) Execute(ctx context.Context, run api.Run, test api.Test, sub api.Submission) api.Run {
	x := &execution{
		Coordinator: c,
		run:         run,
		test:        test,
		sub:         sub,
		final:       store.Final{Status: api.StatusComplete},
		logger: c.opts.Logger.With(
			slog.String("run_id", run.ID),
			slog.String("test_id", test.ID),
			slog.String("submission_id", sub.ID)),
	}
	x.logger.Info("run started")
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			x.logger.Error("run coordinator panicked", slog.Any("panic", r), slog.String("stack", string(stack)))
			x.abort(ctx, fmt.Errorf("panic: %v\n%s", r, stack))
		}
	}()
	x.execute(ctx)
	return x.run
}

type execution struct {
	*Coordinator
	run  api.Run
	test api.Test
	sub  api.Submission

	env    *environment.Environment
	output strings.Builder
	final  store.Final
	logger *slog.Logger
}

func (x *execution) execute(ctx context.Context) {
	x.pipeline(ctx)
	x.teardown(ctx)
	x.save(ctx)
}

func (x *execution) pipeline(ctx context.Context) {
	ok := x.step(ctx, api.StatusInitializingEnv, api.StageEnv, func() (int, string, error) {
		env, err := x.opts.Environments.Create(ctx, x.run.ID, x.test, x.sub)
		x.env = env
		notes := ""
		if env != nil {
			if n := env.Notes(); len(n) > 0 {
				notes = strings.Join(n, "\n") + "\n"
			}
		}
		return 0, notes, err
	})
	if !ok {
		return
	}

	var b builder.Builder
	ok = x.step(ctx, api.StatusInitializingBuild, api.StageBuilderSetup, func() (int, string, error) {
		var err error
		b, err = x.opts.Builders.New(x.test.Builder, x.opts.BuildLimits, x.logger)
		return 0, "", err
	})
	if !ok {
		return
	}
	ok = x.step(ctx, api.StatusBuilding, api.StageBuilderBuild, func() (int, string, error) {
		out, err := b.Build(ctx, x.env)
		return out.Code, out.Output, err
	})
	if !ok {
		return
	}

	var t tester.Tester
	ok = x.step(ctx, api.StatusInitializingRun, api.StageTesterSetup, func() (int, string, error) {
		var err error
		t, err = x.opts.Testers.New(x.test, x.test.Limits.Or(x.opts.TestLimits), x.logger)
		return 0, "", err
	})
	if !ok {
		return
	}
	ok = x.step(ctx, api.StatusRunning, api.StageTesterRun, func() (int, string, error) {
		out, err := t.Run(ctx, x.env)
		if err == nil && out.Code == 0 {
			x.final.Score = x.clamp(out.Score)
		}
		return out.Code, out.Output, err
	})
	if !ok || len(x.test.Reporters) == 0 {
		return
	}

	x.setStatus(ctx, api.StatusReporting)
	x.report(ctx)
}

// step enters status and runs fn as stage. It reports whether later stages
// may run.
func (x *execution) step(ctx context.Context, status api.Status, stage api.Stage, fn func() (int, string, error)) bool {
	x.setStatus(ctx, status)
	code, out, err := protect(fn)
	x.output.WriteString(out)
	switch {
	case err != nil:
		x.exception(stage, err)
		return false
	case code != 0:
		x.fail(stage, code)
		return false
	}
	return true
}

// protect runs fn, turning a panic into an error that carries the stack.
func protect(fn func() (int, string, error)) (code int, out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

func (x *execution) exception(stage api.Stage, err error) {
	x.logger.Warn("stage raised an exception", slog.String("stage", string(stage)), slog.Any("error", err))
	fmt.Fprintf(&x.output, "exception in %s: %v\n", stage, err)
	x.final.Status = api.ExceptionStatus(stage)
	x.final.Retcode = api.RetcodeException
	x.final.Score = 0
}

func (x *execution) fail(stage api.Stage, code int) {
	x.logger.Info("stage failed", slog.String("stage", string(stage)), slog.Int("code", code))
	fmt.Fprintf(&x.output, "%s failed with code %d\n", stage, code)
	x.final.Status = api.ErrorStatus(stage)
	x.final.Retcode = code
	x.final.Score = 0
}

func (x *execution) clamp(score float64) float64 {
	if limit := x.test.MaxScore; limit > 0 && score > limit {
		x.warn("score %s exceeds the maximum %s, using the maximum", api.FormatScore(score), api.FormatScore(limit))
		return limit
	}
	return score
}

func (x *execution) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	x.logger.Warn(msg)
	x.output.WriteString("warning: " + msg + "\n")
}

func (x *execution) report(ctx context.Context) {
	snapshot := x.snapshot()
	comment := reporter.Transcript(snapshot, x.test, x.sub)
	for _, cfg := range x.test.Reporters {
		_, _, err := protect(func() (int, string, error) {
			r, err := x.opts.Reporters.New(cfg)
			if err != nil {
				return 0, "", err
			}
			return 0, "", r.FileReport(ctx, x.sub.Owner, x.final.Score, comment)
		})
		if err != nil {
			x.warn("reporter %s failed: %v", cfg.Kind, err)
			x.final.Status = api.ExceptionStatus(api.StageReporter)
		}
	}
}

// snapshot is the run as it will be saved if nothing else changes.
func (x *execution) snapshot() api.Run {
	run := x.run
	score := x.final.Score
	run.Status = x.final.Status
	run.Retcode = x.final.Retcode
	run.Score = &score
	run.Output = x.output.String()
	return run
}

func (x *execution) teardown(ctx context.Context) {
	x.setStatus(ctx, api.StatusCleaningUp)
	if x.env == nil {
		return
	}
	_, _, err := protect(func() (int, string, error) {
		return 0, "", x.env.Close()
	})
	if err != nil {
		x.logger.Warn("environment teardown failed", slog.Any("error", err))
	}
}

func (x *execution) save(ctx context.Context) {
	x.setStatus(ctx, api.StatusSaving)
	x.final.Output = x.output.String()

	ctx = context.WithoutCancel(ctx)
	if err := x.opts.Store.Finalize(ctx, x.run.ID, x.final); err != nil {
		x.logger.Error("failed to save run", slog.Any("error", err))
	}
	x.run = x.snapshot()
	x.run.ModifiedAt = x.opts.Now()
	if saved, err := x.opts.Store.Get(ctx, x.run.ID); err == nil {
		x.run = saved
	}

	x.logger.Info("run finished",
		slog.String("status", string(x.run.Status)),
		slog.Int("retcode", x.run.Retcode))
	x.opts.Observer.Finished(x.run)
}

// abort records err as an exception of the stage the run was in when it
// escaped every stage boundary. The observer is not called again.
func (x *execution) abort(ctx context.Context, err error) {
	if x.run.Status.IsTerminal() {
		return
	}
	if x.env != nil {
		protect(func() (int, string, error) { return 0, "", x.env.Close() })
	}
	x.exception(stageOf(x.run.Status), err)
	x.final.Output = x.output.String()

	ctx = context.WithoutCancel(ctx)
	if err := x.opts.Store.Finalize(ctx, x.run.ID, x.final); err != nil {
		x.logger.Error("failed to save aborted run", slog.Any("error", err))
	}
	x.run = x.snapshot()
	x.run.ModifiedAt = x.opts.Now()
	if saved, err := x.opts.Store.Get(ctx, x.run.ID); err == nil {
		x.run = saved
	}
}

// stageOf maps a pipeline status to the stage running under it. Teardown
// and saving count as environment work.
func stageOf(status api.Status) api.Stage {
	switch status {
	case api.StatusInitializingBuild:
		return api.StageBuilderSetup
	case api.StatusBuilding:
		return api.StageBuilderBuild
	case api.StatusInitializingRun:
		return api.StageTesterSetup
	case api.StatusRunning:
		return api.StageTesterRun
	case api.StatusReporting:
		return api.StageReporter
	}
	return api.StageEnv
}

func (x *execution) setStatus(ctx context.Context, status api.Status) {
	if err := x.opts.Store.SetStatus(context.WithoutCancel(ctx), x.run.ID, status); err != nil {
		x.logger.Error("failed to record status", slog.String("status", string(status)), slog.Any("error", err))
	}
	x.run.Status = status
	x.opts.Observer.StatusChanged(x.run, status, x.opts.Now())
}
