package metrics

import (
	"time"
)

// StartResult labels the outcome of a start attempt.
type StartResult string

const (
	StartOK            StartResult = "ok"
	StartSpawnFailure  StartResult = "spawn_failure"
	StartImmediateExit StartResult = "immediate_exit"
)

// StopMode labels how a process ended up stopped.
type StopMode string

const (
	StopGraceful StopMode = "graceful"
	StopForced   StopMode = "forced"
	StopFailed   StopMode = "failed"
)

// Collector receives supervisor and tester events.
type Collector interface {
	// ProcessStarted records a start attempt and its outcome.
	ProcessStarted(result StartResult)

	// ProcessStopped records a stop and how long it took.
	ProcessStopped(mode StopMode, duration time.Duration)

	// ProcessExited records a started process that exited without being
	// stopped. It fires when the process is reaped, before any lookup
	// removes it from the registry.
	ProcessExited()

	// RunningProcesses sets the number of tracked processes.
	RunningProcesses(n int)

	// LogEntryDropped records a log line discarded because the queue was full.
	LogEntryDropped()

	// ProbeCompleted records a connectivity probe.
	ProbeCompleted(success bool, latency time.Duration)
}

type nopCollector struct{}

func (nopCollector) ProcessStarted(StartResult)             {}
func (nopCollector) ProcessStopped(StopMode, time.Duration) {}
func (nopCollector) ProcessExited()                         {}
func (nopCollector) RunningProcesses(int)                   {}
func (nopCollector) LogEntryDropped()                       {}
func (nopCollector) ProbeCompleted(bool, time.Duration)     {}

// Nop returns a Collector that discards everything.
func Nop() Collector {
	return nopCollector{}
}

// OrNop returns c, or Nop() if c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return Nop()
	}
	return c
}
