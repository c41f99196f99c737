// Package envtest builds environments for tests from in-memory files.
package envtest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/environment"
	"github.com/programme-lv/grader/internal/sandbox/sandboxtest"
)

// Source is a FileSource serving contents registered with Add.
type Source struct {
	mu    sync.Mutex
	files map[string]string
}

func NewSource() *Source {
	return &Source{files: make(map[string]string)}
}

// Add registers content and returns a File referring to it.
func (s *Source) Add(name, key, content string) api.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := fmt.Sprintf("mem://%d/%s", len(s.files), name)
	s.files[path] = content
	return api.File{ID: path, Name: name, Key: key, Path: path}
}

func (s *Source) Open(_ context.Context, f api.File) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[f.Path]
	if !ok {
		return nil, fmt.Errorf("no file at %s", f.Path)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

// Factory returns an environment factory rooted in a temporary directory
// that uses the test binary as its launcher. The calling package must run
// its tests through sandboxtest.Main.
func Factory(t testing.TB, src *Source) *environment.Factory {
	t.Helper()
	return &environment.Factory{
		Root:         t.TempDir(),
		LauncherPath: sandboxtest.Launcher(),
		Files:        src,
		Filters:      environment.DefaultFilters(),
	}
}

// New creates an environment and closes it when the test ends.
func New(t testing.TB, src *Source, test api.Test, sub api.Submission) *environment.Environment {
	t.Helper()
	env, err := Factory(t, src).Create(context.Background(), "run", test, sub)
	if err != nil {
		env.Close()
		t.Fatalf("create environment: %v", err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}
