//go:build !linux

package sandbox

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
