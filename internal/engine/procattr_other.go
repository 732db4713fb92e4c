//go:build !unix && !windows

package engine

import (
	"os"
	"syscall"
)

func SysProcAttr() *syscall.SysProcAttr {
	return nil
}

// Terminate asks p to exit.
func Terminate(p *os.Process) error {
	return p.Signal(os.Interrupt)
}
