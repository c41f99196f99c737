// Package xdg resolves the XDG base directories the grader keeps its
// cache, state and scratch data in.
package xdg

import (
	"os"
	"path/filepath"
)

// Dirs holds the base directories resolved from the environment.
type Dirs struct {
	stateHome  string
	cacheHome  string
	runtimeDir string
}

// New resolves the base directories from the process environment.
func New() *Dirs {
	return FromEnv(os.Getenv)
}

// FromEnv resolves the base directories using getenv, falling back to the
// defaults of the XDG base directory specification.
func FromEnv(getenv func(string) string) *Dirs {
	home := getenv("HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		} else {
			home = os.TempDir()
		}
	}

	d := &Dirs{
		stateHome:  getenv("XDG_STATE_HOME"),
		cacheHome:  getenv("XDG_CACHE_HOME"),
		runtimeDir: getenv("XDG_RUNTIME_DIR"),
	}
	// relative paths are invalid and must be ignored
	if !filepath.IsAbs(d.stateHome) {
		d.stateHome = filepath.Join(home, ".local", "state")
	}
	if !filepath.IsAbs(d.cacheHome) {
		d.cacheHome = filepath.Join(home, ".cache")
	}
	if !filepath.IsAbs(d.runtimeDir) {
		d.runtimeDir = filepath.Join(os.TempDir(), "grader-runtime-"+getenv("USER"))
	}
	return d
}

// StateHome returns the base directory for user-specific state files.
func (d *Dirs) StateHome() string { return d.stateHome }

// CacheHome returns the base directory for user-specific cached data.
func (d *Dirs) CacheHome() string { return d.cacheHome }

// RuntimeDir returns the base directory for user-specific runtime files.
func (d *Dirs) RuntimeDir() string { return d.runtimeDir }

// AppStateDir returns the application-specific state directory.
func (d *Dirs) AppStateDir(app string) string {
	return filepath.Join(d.stateHome, app)
}

// AppCacheDir returns the application-specific cache directory.
func (d *Dirs) AppCacheDir(app string) string {
	return filepath.Join(d.cacheHome, app)
}

// AppRuntimeDir returns the application-specific runtime directory.
func (d *Dirs) AppRuntimeDir(app string) string {
	return filepath.Join(d.runtimeDir, app)
}

// EnsureDir creates path if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
