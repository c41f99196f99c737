//go:build linux

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func supervise(o Options, c Constraints, command []string, r *report) int {
	self, err := os.Executable()
	if err != nil {
		return r.fail(ExitLaunchFailure, fmt.Errorf("resolve launcher path: %w", err))
	}

	cred, err := o.credential()
	if err != nil {
		return r.fail(ExitLaunchFailure, err)
	}

	status := "-"
	if r.status != nil {
		status = strconv.Itoa(statusFD)
	}
	args := append([]string{execStage, formatSeconds(c.CPUSeconds), status}, command...)
	cmd := exec.Command(self, args...)
	if r.status != nil {
		cmd.ExtraFiles = []*os.File{r.status}
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:    true,
		Pdeathsig:  syscall.SIGKILL,
		Credential: cred,
	}

	// Forward termination requests to the whole group.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(signals)

	if err := cmd.Start(); err != nil {
		return r.fail(ExitLaunchFailure, fmt.Errorf("start command: %w", err))
	}
	pgid := cmd.Process.Pid

	var timedOut atomic.Bool
	timer := time.AfterFunc(time.Duration(c.WallSeconds*float64(time.Second)), func() {
		timedOut.Store(true)
		_ = unix.Kill(-pgid, unix.SIGKILL)
	})
	done := make(chan struct{})
	go func() {
		select {
		case <-signals:
			_ = unix.Kill(-pgid, unix.SIGKILL)
		case <-done:
		}
	}()

	err = cmd.Wait()
	timer.Stop()
	close(done)
	// Leftover background children share the group.
	_ = unix.Kill(-pgid, unix.SIGKILL)

	if timedOut.Load() {
		fmt.Fprintf(r.stderr, "grader-sandbox: wall time limit of %ss exceeded\n", formatSeconds(c.WallSeconds))
		return ExitTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return r.fail(ExitLaunchFailure, fmt.Errorf("wait for command: %w", err))
		}
	}
	return exitStatus(cmd.ProcessState)
}

func exitStatus(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

// credential returns the identity to run commands as. Only root can switch
// identity; other callers keep their own.
func (o Options) credential() (*syscall.Credential, error) {
	if o.KeepIdentity || os.Geteuid() != 0 {
		return nil, nil
	}
	u, err := user.Lookup(o.User)
	if err != nil {
		return nil, fmt.Errorf("look up sandbox user: %w", err)
	}
	g, err := user.LookupGroup(o.Group)
	if err != nil {
		return nil, fmt.Errorf("look up sandbox group: %w", err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse gid %q: %w", g.Gid, err)
	}
	if uid == 0 || gid == 0 {
		return nil, fmt.Errorf("sandbox identity must not be root")
	}
	return &syscall.Credential{
		Uid:         uint32(uid),
		Gid:         uint32(gid),
		Groups:      []uint32{},
		NoSetGroups: false,
	}, nil
}

func limitAndExec(cpu float64, limits Rlimits, command []string, r *report) int {
	path, err := exec.LookPath(command[0])
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return r.fail(ExitNotFound, fmt.Errorf("resolve command: %w", err))
		}
		return r.fail(ExitNotExecutable, fmt.Errorf("resolve command: %w", err))
	}

	if err := applyRlimits(cpu, limits); err != nil {
		return r.fail(ExitLaunchFailure, err)
	}

	if r.status != nil {
		unix.CloseOnExec(int(r.status.Fd()))
	}
	err = unix.Exec(path, command, os.Environ())
	switch {
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.ENOEXEC), errors.Is(err, unix.EISDIR):
		return r.fail(ExitNotExecutable, fmt.Errorf("exec %s: %w", path, err))
	case errors.Is(err, unix.ENOENT):
		return r.fail(ExitNotFound, fmt.Errorf("exec %s: %w", path, err))
	default:
		return r.fail(ExitLaunchFailure, fmt.Errorf("exec %s: %w", path, err))
	}
}

func applyRlimits(cpu float64, limits Rlimits) error {
	set := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"fsize", unix.RLIMIT_FSIZE, limits.FileSizeBytes},
		{"nofile", unix.RLIMIT_NOFILE, limits.OpenFiles},
		{"cpu", unix.RLIMIT_CPU, cpuRlimit(cpu)},
		{"nproc", unix.RLIMIT_NPROC, limits.Processes},
		{"as", unix.RLIMIT_AS, limits.AddressSpace},
	}
	for _, l := range set {
		if l.value == 0 {
			continue
		}
		if err := unix.Setrlimit(l.resource, &unix.Rlimit{Cur: l.value, Max: l.value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.name, err)
		}
	}
	if limits.Niceness != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, limits.Niceness); err != nil {
			return fmt.Errorf("set niceness: %w", err)
		}
	}
	return nil
}
