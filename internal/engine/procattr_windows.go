//go:build windows

package engine

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// No console window flashes up for the engine or the version probe.
func SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}

// Terminate asks p to exit. Windows has no SIGTERM for console-less
// processes, so this is TerminateProcess.
func Terminate(p *os.Process) error {
	return p.Kill()
}
