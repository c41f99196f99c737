// Package sandboxtest lets tests use the test binary itself as the
// launcher executable.
//
//	func TestMain(m *testing.M) { sandboxtest.Main(m) }
//
// Launcher then returns a path that, when executed, behaves like
// grader-sandbox.
package sandboxtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/programme-lv/grader/internal/sandbox"
)

const helperEnv = "SANDBOXTEST_HELPER"

func Main(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(sandbox.Options{KeepIdentity: true}.Main(os.Args[1:]))
	}
	if err := os.Setenv(helperEnv, "1"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// Launcher returns the absolute path of the running test binary.
func Launcher() string {
	p, err := filepath.Abs(os.Args[0])
	if err != nil {
		panic(err)
	}
	return p
}

// Env returns a minimal command environment that keeps the helper switch
// and PATH, followed by extra.
func Env(extra ...string) []string {
	env := []string{helperEnv + "=1", "PATH=" + os.Getenv("PATH")}
	return append(env, extra...)
}
