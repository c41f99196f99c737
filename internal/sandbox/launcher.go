package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrLaunch is returned when the launcher itself could not start the
// command, as opposed to the command failing. A command exiting with
// ExitLaunchFailure on its own is not a launch failure.
var ErrLaunch = errors.New("sandbox launch failed")

// Grace is added to the wall limit before the launcher process itself is
// killed from the Go side.
const Grace = 5 * time.Second

// MaxStatusRecord bounds how much of the launcher's status record is read.
const MaxStatusRecord = 4096

// Spec describes one command to run under the launcher.
type Spec struct {
	Dir    string
	Args   []string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	CPUSeconds  float64
	WallSeconds float64
}

func (s Spec) constraints() Constraints {
	c := DefaultConstraints()
	if s.CPUSeconds > 0 {
		c.CPUSeconds = s.CPUSeconds
	}
	if s.WallSeconds > 0 {
		c.WallSeconds = s.WallSeconds
	}
	return c
}

type Launcher struct {
	path   string
	logger *slog.Logger
}

func NewLauncher(path string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{path: path, logger: logger}
}

func (l *Launcher) Path() string {
	return l.path
}

// Run executes spec through the launcher executable and returns its exit
// code. An error is returned only when the launcher could not be started,
// reported a launch failure on its status pipe, or the context ended first.
func (l *Launcher) Run(ctx context.Context, spec Spec) (int, error) {
	if len(spec.Args) == 0 {
		return 0, fmt.Errorf("%w: empty command", ErrLaunch)
	}
	c := spec.constraints()
	if err := c.validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	wall := time.Duration(c.WallSeconds*float64(time.Second)) + Grace
	ctx, cancel := context.WithTimeout(ctx, wall)
	defer cancel()

	// The launcher reports its own failures on a pipe, never through the
	// exit code alone.
	status, statusW, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("%w: status pipe: %v", ErrLaunch, err)
	}
	defer status.Close()

	env := spec.Env
	if env == nil {
		env = os.Environ()
	}
	args := append(c.ToArgs(), spec.Args...)
	cmd := exec.CommandContext(ctx, l.path, args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(slices.Clip(env), StatusFDEnv+"="+strconv.Itoa(statusFD))
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.ExtraFiles = []*os.File{statusW}
	cmd.SysProcAttr = sysProcAttr()
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = Grace

	l.logger.Debug("launching command",
		slog.String("dir", spec.Dir),
		slog.Any("args", spec.Args),
		slog.String("cpu", formatSeconds(c.CPUSeconds)),
		slog.String("wall", formatSeconds(c.WallSeconds)))

	start := time.Now()
	err = cmd.Start()
	statusW.Close()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	records := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(io.LimitReader(status, MaxStatusRecord))
		records <- strings.TrimSpace(string(b))
	}()

	err = cmd.Wait()
	elapsed := time.Since(start)

	var record string
	select {
	case record = <-records:
	case <-time.After(Grace):
		status.Close()
		record = <-records
	}

	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLaunch, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("%w: %v", ErrLaunch, err)
		}
	}

	code := cmd.ProcessState.ExitCode()
	l.logger.Debug("command finished",
		slog.Int("exit_code", code),
		slog.Duration("elapsed", elapsed))
	if record != "" {
		return code, fmt.Errorf("%w: %s", ErrLaunch, record)
	}
	return code, nil
}
