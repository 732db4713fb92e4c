package supervisor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/die-net/xraysup/internal/xrayconfig"
)

// StartAsCurrent starts req and makes it the current server, stopping a
// different current server first. If that stop fails the new server is not
// started. Calls are serialized.
func (s *Supervisor) StartAsCurrent(ctx context.Context, req StartRequest) error {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()

	if cur, ok := s.CurrentServerID(); ok && cur != req.ServerID {
		if err := s.Stop(ctx, cur); err != nil && !errors.Is(err, ErrNotRunning) {
			s.log.Error("stopping previous server failed", "server", cur, "error", err)
			return fmt.Errorf("start %s: %w: %s: %w", req.ServerID, ErrPreviousStopFailed, cur, err)
		}
	}

	if err := s.Start(ctx, req); err != nil {
		return err
	}
	s.markCurrent(req.ServerID)
	return nil
}

// markCurrent sets id as current if it is still tracked.
func (s *Supervisor) markCurrent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveLocked(id) != nil {
		s.current = id
	}
}

// CurrentServerID returns the current server, if any is set and alive.
func (s *Supervisor) CurrentServerID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == "" {
		return "", false
	}
	if s.liveLocked(s.current) == nil {
		s.current = ""
		return "", false
	}
	return s.current, true
}

// StopCurrent stops the current server. It is a no-op when there is none.
func (s *Supervisor) StopCurrent(ctx context.Context) error {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()

	id, ok := s.CurrentServerID()
	if !ok {
		return nil
	}
	err := s.Stop(ctx, id)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

// RestartCurrent restarts the current server with req's configuration.
// req.ServerID is replaced by the current server's ID; an empty
// SubscriptionID or Config is taken from the running process, so a zero
// req relaunches the same configuration.
func (s *Supervisor) RestartCurrent(ctx context.Context, req StartRequest) error {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()

	id, ok := s.CurrentServerID()
	if !ok {
		return ErrNoCurrentServer
	}
	req.ServerID = id
	if rec, ok := s.ProcessInfo(id); ok {
		if req.SubscriptionID == "" {
			req.SubscriptionID = rec.SubscriptionID
		}
		if req.Config == nil {
			req.Config = rec.EffectiveConfig
		}
	}
	return s.restart(ctx, req)
}

// CurrentProcessInfo returns the record of the current server.
func (s *Supervisor) CurrentProcessInfo() (ProcessRecord, bool) {
	id, ok := s.CurrentServerID()
	if !ok {
		return ProcessRecord{}, false
	}
	return s.ProcessInfo(id)
}

// CurrentPorts lists the inbounds of the current server.
func (s *Supervisor) CurrentPorts() []xrayconfig.PortInfo {
	id, ok := s.CurrentServerID()
	if !ok {
		return nil
	}
	return s.Ports(id)
}

// CurrentLogs waits for a current server, polling every PollInterval, and
// then streams its output like Logs.
func (s *Supervisor) CurrentLogs(ctx context.Context) iter.Seq[LogEntry] {
	return func(yield func(LogEntry) bool) {
		id, ok := s.CurrentServerID()
		if !ok {
			ticker := time.NewTicker(s.cfg.PollInterval)
			defer ticker.Stop()
			for !ok {
				select {
				case <-ticker.C:
					id, ok = s.CurrentServerID()
				case <-ctx.Done():
					return
				}
			}
		}

		for le := range s.Logs(ctx, id) {
			if !yield(le) {
				return
			}
		}
	}
}
