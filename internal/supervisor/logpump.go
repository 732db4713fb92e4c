package supervisor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"strings"
	"time"
)

// maxLineSize bounds a single engine output line.
const maxLineSize = 1 << 20

// LogEntry is one line of engine output.
type LogEntry struct {
	Time    time.Time `json:"timestamp"`
	Message string    `json:"message"`
}

// pump moves the engine's output into e.logs until EOF. A full queue drops
// the new line; the process is never blocked or killed on our account.
func (s *Supervisor) pump(e *entry, r io.ReadCloser) {
	defer close(e.pumpDone)
	defer r.Close()

	id := e.record.ServerID
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s.log.Debug("engine output", "server", id, "line", line)

		select {
		case e.logs <- LogEntry{Time: time.Now(), Message: line}:
		default:
			s.metrics.LogEntryDropped()
		}
	}

	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.log.Warn("reading engine output failed", "server", id, "error", err)
	}
}

// Logs streams the queued output of id. The sequence ends when the caller
// stops ranging, ctx is done, or the process is gone; in the last case
// whatever was still queued is yielded first. Liveness is re-checked every
// PollInterval. An unknown id yields nothing.
func (s *Supervisor) Logs(ctx context.Context, id string) iter.Seq[LogEntry] {
	return func(yield func(LogEntry) bool) {
		s.mu.Lock()
		e := s.entries[id]
		s.mu.Unlock()
		if e == nil {
			return
		}

		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case le := <-e.logs:
				if !yield(le) {
					return
				}
			case <-ticker.C:
				if s.alive(e) {
					continue
				}
				s.flush(e)
				for _, le := range drain(e.logs) {
					if !yield(le) {
						return
					}
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// alive reports whether e is still registered and running, reaping it if
// it exited.
func (s *Supervisor) alive(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.exited() {
		s.removeLocked(e)
		return false
	}
	return s.entries[e.record.ServerID] == e
}

// flush gives the pump up to DrainTimeout to read what the exited process
// left in the pipe.
func (s *Supervisor) flush(e *entry) {
	t := time.NewTimer(s.cfg.DrainTimeout)
	defer t.Stop()
	select {
	case <-e.pumpDone:
	case <-t.C:
	}
}

func drain(ch <-chan LogEntry) []LogEntry {
	var out []LogEntry
	for {
		select {
		case le := <-ch:
			out = append(out, le)
		default:
			return out
		}
	}
}

func joinMessages(entries []LogEntry) string {
	msgs := make([]string, len(entries))
	for i, le := range entries {
		msgs[i] = le.Message
	}
	return strings.Join(msgs, "\n")
}
