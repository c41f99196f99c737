//go:build !linux

package sandbox

import "errors"

var errUnsupported = errors.New("resource limits are only supported on linux")

func supervise(_ Options, _ Constraints, _ []string, r *report) int {
	return r.fail(ExitLaunchFailure, errUnsupported)
}

func limitAndExec(_ float64, _ Rlimits, _ []string, r *report) int {
	return r.fail(ExitLaunchFailure, errUnsupported)
}
