package sandbox

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Exit codes of the launcher executable that do not come from the wrapped
// command. They follow the conventions of timeout(1) and the shell. A
// command may exit with any of them itself; launcher failures are told
// apart by the record written to the status descriptor.
const (
	ExitTimeout       = 124
	ExitLaunchFailure = 125
	ExitNotExecutable = 126
	ExitNotFound      = 127
)

// SandboxUser and SandboxGroup are the unprivileged identity commands run
// as when the launcher is started by root.
const (
	SandboxUser  = "grader-sandbox"
	SandboxGroup = "grader-sandbox"
)

const execStage = "__exec"

// StatusFDEnv names the inherited descriptor the launcher writes a one-line
// record to when it fails to start the command. The variable is removed
// before the command runs.
const StatusFDEnv = "GRADER_SANDBOX_STATUS_FD"

// statusFD is where the exec stage finds the status descriptor.
const statusFD = 3

const usage = "usage: grader-sandbox <cpu_seconds> <wall_seconds> <command> [args...]"

// Main is the entry point of the launcher executable. It returns the
// process exit code.
//
// The launcher runs in two stages. The supervising stage parses the
// limits, drops privileges and re-executes itself as the exec stage in a
// new process group, killing that group once the wall limit passes. The
// exec stage applies resource limits to itself and replaces its image with
// the user command, so the limits are in place before any user code runs.
func Main(args []string) int {
	return Options{User: SandboxUser, Group: SandboxGroup}.Main(args)
}

// Options control how the launcher executable picks the identity commands
// run as.
type Options struct {
	User  string
	Group string
	// KeepIdentity runs commands as the caller even when it is root.
	KeepIdentity bool
}

// Main behaves like the package level Main with o in effect.
func (o Options) Main(args []string) int {
	if len(args) > 0 && args[0] == execStage {
		return execMain(args[1:], os.Stderr)
	}
	return o.superviseMain(args, &report{stderr: os.Stderr, status: takeStatusFile()})
}

// report writes launcher diagnostics to stderr and launch failures to the
// status descriptor as well.
type report struct {
	stderr io.Writer
	status *os.File
}

func (r *report) fail(code int, err error) int {
	fmt.Fprintf(r.stderr, "grader-sandbox: %v\n", err)
	if code == ExitLaunchFailure && r.status != nil {
		msg := strings.ReplaceAll(err.Error(), "\n", " ")
		fmt.Fprintln(r.status, msg)
	}
	return code
}

func (r *report) usage() int {
	return r.fail(ExitLaunchFailure, fmt.Errorf("%s", usage))
}

// takeStatusFile opens the descriptor named by StatusFDEnv and removes the
// variable from the environment.
func takeStatusFile() *os.File {
	v := os.Getenv(StatusFDEnv)
	os.Unsetenv(StatusFDEnv)
	fd, err := strconv.Atoi(v)
	if err != nil || fd < statusFD {
		return nil
	}
	return os.NewFile(uintptr(fd), "status")
}

func (o Options) superviseMain(args []string, r *report) int {
	if len(args) < 3 {
		return r.usage()
	}
	cpu, err := parseSeconds("cpu", args[0])
	if err != nil {
		return r.fail(ExitLaunchFailure, err)
	}
	wall, err := parseSeconds("wall", args[1])
	if err != nil {
		return r.fail(ExitLaunchFailure, err)
	}
	return supervise(o, Constraints{CPUSeconds: cpu, WallSeconds: wall}, args[2:], r)
}

// execMain expects <cpu_seconds> <status|-> <command...>, where status
// says whether the status descriptor was passed on as descriptor 3.
func execMain(args []string, stderr io.Writer) int {
	r := &report{stderr: stderr}
	if len(args) < 3 {
		return r.usage()
	}
	if args[1] != "-" {
		r.status = os.NewFile(statusFD, "status")
	}
	cpu, err := parseSeconds("cpu", args[0])
	if err != nil {
		return r.fail(ExitLaunchFailure, err)
	}
	return limitAndExec(cpu, DefaultRlimits(), args[2:], r)
}
