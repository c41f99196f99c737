// Command grader-sandbox runs one command under CPU, wall-clock and
// resource limits.
//
//	grader-sandbox <cpu_seconds> <wall_seconds> <command> [args...]
package main

import (
	"os"

	"github.com/programme-lv/grader/internal/sandbox"
)

func main() {
	os.Exit(sandbox.Main(os.Args[1:]))
}
