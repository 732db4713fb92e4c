//go:build unix

package engine

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// The engine gets its own process group so a terminal Ctrl-C reaches only the
// supervisor, which then stops the engine itself.
func SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// Terminate asks p to exit (SIGTERM). A process that has already been
// reaped yields os.ErrProcessDone.
func Terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}
