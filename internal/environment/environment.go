// Package environment builds the per-run working directory that build and
// test commands execute in.
package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/sandbox"
)

const (
	TestDirName       = "test"
	SubmissionDirName = "submission"
	LauncherName      = "grader-sandbox"
)

// ReservedPrefix marks service configuration variables. They are never
// passed to sandboxed commands.
const ReservedPrefix = "GRADER_"

// FileSource opens the contents of stored files.
type FileSource interface {
	Open(ctx context.Context, f api.File) (io.ReadCloser, error)
}

// Placed is a file copied into an environment.
type Placed struct {
	File api.File
	Path string
}

type Factory struct {
	Root         string
	LauncherPath string
	Files        FileSource
	Filters      []Filter
	// Reserved holds additional variable names to strip besides the
	// ReservedPrefix ones.
	Reserved mapset.Set[string]
	// Environ returns the ambient environment. Defaults to os.Environ.
	Environ func() []string
	Logger  *slog.Logger
}

// Create builds the environment for one run. On failure the partially
// built environment is returned along with the error so the caller can
// Close it.
func (f *Factory) Create(ctx context.Context, runID string, test api.Test, sub api.Submission) (*Environment, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if runID == "" || runID != filepath.Base(runID) || runID == "." || runID == ".." {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}

	root := filepath.Join(f.Root, runID)
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("working directory %s already exists", root)
	}
	env := &Environment{
		root:          root,
		testDir:       filepath.Join(root, TestDirName),
		submissionDir: filepath.Join(root, SubmissionDirName),
		launcher:      filepath.Join(root, LauncherName),
		logger:        logger.With(slog.String("run_id", runID)),
	}

	for _, dir := range []string{root, env.testDir, env.submissionDir} {
		if err := makeDir(dir); err != nil {
			return env, err
		}
	}

	if err := env.copyLauncher(f.LauncherPath); err != nil {
		return env, err
	}

	var err error
	env.testFiles, err = env.place(ctx, f.Files, env.testDir, test.Files)
	if err != nil {
		return env, fmt.Errorf("copy test files: %w", err)
	}
	env.submissionFiles, err = env.place(ctx, f.Files, env.submissionDir, sub.Files)
	if err != nil {
		return env, fmt.Errorf("copy submission files: %w", err)
	}

	for _, p := range slices.Concat(env.testFiles, env.submissionFiles) {
		env.sanitize(ctx, f.Filters, p.Path)
	}

	environ := os.Environ
	if f.Environ != nil {
		environ = f.Environ
	}
	env.env = filterEnv(environ(), f.Reserved)
	env.sandbox = sandbox.NewLauncher(env.launcher, env.logger)
	return env, nil
}

// makeDir creates dir world-writable regardless of umask so commands
// running as the sandbox user can write next to their files.
func makeDir(dir string) error {
	if err := os.Mkdir(dir, 0777); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.Chmod(dir, 0777); err != nil {
		return fmt.Errorf("chmod %s: %w", dir, err)
	}
	return nil
}

func filterEnv(environ []string, reserved mapset.Set[string]) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if IsReserved(name, reserved) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// IsReserved reports whether name is service configuration.
func IsReserved(name string, reserved mapset.Set[string]) bool {
	if strings.HasPrefix(name, ReservedPrefix) {
		return true
	}
	return reserved != nil && reserved.Contains(name)
}

// Environment is the working directory of one run. It is owned by a single
// worker and is not safe for concurrent construction, but Close may be
// called from anywhere, any number of times.
type Environment struct {
	root          string
	testDir       string
	submissionDir string
	launcher      string
	env           []string

	testFiles       []Placed
	submissionFiles []Placed

	sandbox *sandbox.Launcher
	logger  *slog.Logger

	mu      sync.Mutex
	created []string
	notes   []string
	closed  bool
}

func (e *Environment) Root() string          { return e.root }
func (e *Environment) TestDir() string       { return e.testDir }
func (e *Environment) SubmissionDir() string { return e.submissionDir }
func (e *Environment) Launcher() string      { return e.launcher }

// Env returns the environment variables passed to sandboxed commands.
func (e *Environment) Env() []string {
	return slices.Clone(e.env)
}

func (e *Environment) TestFiles() []Placed {
	return slices.Clone(e.testFiles)
}

func (e *Environment) SubmissionFiles() []Placed {
	return slices.Clone(e.submissionFiles)
}

// Notes are warnings collected while preparing the environment.
func (e *Environment) Notes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.notes)
}

func (e *Environment) note(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.logger.Warn(msg)
	e.mu.Lock()
	e.notes = append(e.notes, "warning: "+msg)
	e.mu.Unlock()
}

func (e *Environment) track(path string) {
	e.mu.Lock()
	e.created = append(e.created, path)
	e.mu.Unlock()
}

// Run executes spec through the environment's launcher copy. Dir defaults
// to the submission directory and Env to Env().
func (e *Environment) Run(ctx context.Context, spec sandbox.Spec) (int, error) {
	if e.sandbox == nil {
		return 0, fmt.Errorf("%w: environment is not ready", sandbox.ErrLaunch)
	}
	if spec.Dir == "" {
		spec.Dir = e.submissionDir
	}
	if spec.Env == nil {
		spec.Env = e.Env()
	}
	return e.sandbox.Run(ctx, spec)
}

// Close removes every copied file and then the whole working directory.
func (e *Environment) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	for _, path := range e.created {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(e.root); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		e.logger.Warn("environment teardown incomplete", slog.Any("error", errors.Join(errs...)))
	}
	return nil
}
