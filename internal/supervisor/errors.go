package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start when the server ID is tracked or
	// being started.
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning is returned by Stop for an untracked server ID.
	ErrNotRunning = errors.New("not running")
	// ErrNoCurrentServer is returned by RestartCurrent when nothing is current.
	ErrNoCurrentServer = errors.New("no current server")
	// ErrPreviousStopFailed aborts StartAsCurrent when the old current server
	// could not be stopped.
	ErrPreviousStopFailed = errors.New("previous server did not stop")
	// ErrStopTimeout is returned when a process survives both the graceful
	// stop and the kill. Its entry stays in the registry.
	ErrStopTimeout = errors.New("process did not exit")
)

// StartErrorKind classifies start failures.
type StartErrorKind string

const (
	// SpawnFailure means the engine could not be launched or fed its
	// configuration. No registry entry was created.
	SpawnFailure StartErrorKind = "spawn_failure"
	// ImmediateExit means the engine exited within the grace period.
	ImmediateExit StartErrorKind = "immediate_exit"
)

// StartError describes a failed Start.
type StartError struct {
	Kind     StartErrorKind
	ServerID string
	Binary   string
	// ExitCode and Output are set for ImmediateExit. Output is everything
	// the engine printed before exiting.
	ExitCode int
	Output   string
	Err      error
}

func (e *StartError) Error() string {
	switch e.Kind {
	case ImmediateExit:
		output := e.Output
		if output == "" {
			output = "no output"
		}
		return fmt.Sprintf("start %s: engine exited immediately with code %d: %s", e.ServerID, e.ExitCode, output)
	default:
		return fmt.Sprintf("start %s: launch %s: %v", e.ServerID, e.Binary, e.Err)
	}
}

func (e *StartError) Unwrap() error {
	return e.Err
}
