// Package builder prepares a submission before it is tested.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/environment"
	"github.com/programme-lv/grader/internal/sandbox"
)

var (
	ErrUnknownKind     = errors.New("unknown builder kind")
	ErrNoCommand       = errors.New("no build command configured")
	ErrCommandNotFound = errors.New("build command not found")
)

// Outcome is the result of a build that ran to completion. A non-zero Code
// is a failed build.
type Outcome struct {
	Code   int
	Output string
}

type Builder interface {
	Build(ctx context.Context, env *environment.Environment) (Outcome, error)
}

// Factory creates a builder from its configuration. Limits apply to each
// command the builder runs.
type Factory func(cfg api.BuilderConfig, limits api.Limits, logger *slog.Logger) (Builder, error)

type Registry map[api.BuilderKind]Factory

func DefaultRegistry() Registry {
	return Registry{
		api.BuilderNone:    newNone,
		api.BuilderCommand: newCommand,
		api.BuilderMake:    newMake,
	}
}

func (r Registry) New(cfg api.BuilderConfig, limits api.Limits, logger *slog.Logger) (Builder, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = api.BuilderNone
	}
	factory, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return factory(cfg, limits, logger)
}

type none struct{}

func newNone(api.BuilderConfig, api.Limits, *slog.Logger) (Builder, error) {
	return none{}, nil
}

func (none) Build(context.Context, *environment.Environment) (Outcome, error) {
	return Outcome{}, nil
}

// command runs a configured command line in the submission directory.
type command struct {
	line      string
	separator string
	limits    api.Limits
	logger    *slog.Logger
}

func newCommand(cfg api.BuilderConfig, limits api.Limits, logger *slog.Logger) (Builder, error) {
	return &command{
		line:      cfg.Command,
		separator: cfg.Separator,
		limits:    limits,
		logger:    logger,
	}, nil
}

func (c *command) Build(ctx context.Context, env *environment.Environment) (Outcome, error) {
	if strings.TrimSpace(c.line) == "" {
		return Outcome{}, ErrNoCommand
	}
	args, err := splitCommand(c.line, c.separator)
	if err != nil {
		return Outcome{}, err
	}
	if len(args) == 0 {
		return Outcome{}, ErrNoCommand
	}
	return run(ctx, env, args, c.limits, c.logger)
}

func splitCommand(line, sep string) ([]string, error) {
	if sep == "" {
		args, err := shlex.Split(line)
		if err != nil {
			return nil, fmt.Errorf("parse build command: %w", err)
		}
		return args, nil
	}
	var args []string
	for _, a := range strings.Split(line, sep) {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}
	return args, nil
}

type makeBuilder struct {
	limits api.Limits
	logger *slog.Logger
}

func newMake(_ api.BuilderConfig, limits api.Limits, logger *slog.Logger) (Builder, error) {
	return &makeBuilder{limits: limits, logger: logger}, nil
}

func (m *makeBuilder) Build(ctx context.Context, env *environment.Environment) (Outcome, error) {
	return run(ctx, env, []string{"make"}, m.limits, m.logger)
}

func run(ctx context.Context, env *environment.Environment, args []string, limits api.Limits, logger *slog.Logger) (Outcome, error) {
	if err := locate(env.SubmissionDir(), args[0]); err != nil {
		return Outcome{}, err
	}

	out := sandbox.NewLimitedBuffer(sandbox.MaxOutput)
	logger.Info("building submission", slog.Any("command", args))
	code, err := env.Run(ctx, sandbox.Spec{
		Dir:         env.SubmissionDir(),
		Args:        args,
		Stdout:      out,
		Stderr:      out,
		CPUSeconds:  limits.CPUSeconds,
		WallSeconds: limits.WallSeconds,
	})
	if err != nil {
		return Outcome{Output: out.String()}, fmt.Errorf("run build command: %w", err)
	}
	logger.Info("build finished", slog.Int("exit_code", code))
	return Outcome{Code: code, Output: out.String()}, nil
}

// locate checks that the command can be found before it is launched, so a
// missing tool is told apart from a build that exits with 127.
func locate(dir, name string) error {
	if strings.Contains(name, "/") {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrCommandNotFound, name)
		}
		if info.IsDir() || info.Mode().Perm()&0111 == 0 {
			return fmt.Errorf("%w: %s is not executable", ErrCommandNotFound, name)
		}
		return nil
	}
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, name)
	}
	return nil
}
