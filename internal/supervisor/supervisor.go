package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/xraysup/internal/engine"
	"github.com/die-net/xraysup/internal/logging"
	"github.com/die-net/xraysup/internal/metrics"
	"github.com/die-net/xraysup/internal/portalloc"
	"github.com/die-net/xraysup/internal/settings"
	"github.com/die-net/xraysup/internal/xrayconfig"
)

const (
	DefaultGracePeriod   = 100 * time.Millisecond
	DefaultStopTimeout   = 10 * time.Second
	DefaultKillWait      = 5 * time.Second
	DefaultRestartSettle = time.Second
	DefaultDrainTimeout  = time.Second
	DefaultPollInterval  = time.Second
	DefaultLogQueueSize  = 1000
)

// Config configures a Supervisor. Zero durations and sizes take the
// defaults above.
type Config struct {
	// Binary resolves the engine executable on every start. Nil means
	// engine.NewResolver(Settings).
	Binary   engine.Resolver
	Settings settings.Provider
	Logger   *slog.Logger
	Metrics  metrics.Collector

	// GracePeriod is how long a new process must survive to count as started.
	GracePeriod time.Duration
	// StopTimeout bounds the wait after the graceful stop signal.
	StopTimeout time.Duration
	// KillWait bounds the wait after the forced kill.
	KillWait time.Duration
	// RestartSettle separates stop and start in Restart.
	RestartSettle time.Duration
	// DrainTimeout bounds the wait for remaining output after an early exit.
	DrainTimeout time.Duration
	// PollInterval is the liveness re-check period of log streams.
	PollInterval time.Duration
	LogQueueSize int

	// Env is appended to the child environment.
	Env []string
}

// StartRequest names a configuration to launch.
type StartRequest struct {
	ServerID       string
	SubscriptionID string
	Config         xrayconfig.Document
	// Ports overrides the socks and http inbound ports. Zero fields are left
	// alone.
	Ports portalloc.Pair
}

// ProcessRecord describes a running engine process. It never changes after
// creation.
type ProcessRecord struct {
	ServerID        string              `json:"server_id"`
	SubscriptionID  string              `json:"subscription_id,omitempty"`
	PID             int                 `json:"pid"`
	StartTime       time.Time           `json:"start_time"`
	EffectiveConfig xrayconfig.Document `json:"-"`
}

type entry struct {
	record ProcessRecord
	binary string
	cmd    *exec.Cmd
	logs   chan LogEntry

	done     chan struct{} // closed once the process has been reaped
	pumpDone chan struct{} // closed when the output pipe hits EOF
	exitCode int           // valid after done

	started  atomic.Bool
	stopping atomic.Bool
}

func (e *entry) exited() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Supervisor tracks engine processes by server ID.
type Supervisor struct {
	cfg     Config
	log     *slog.Logger
	metrics metrics.Collector

	mu       sync.Mutex
	entries  map[string]*entry
	starting map[string]struct{}
	current  string

	// Serializes changes of the current server.
	currentMu sync.Mutex
}

// New returns an empty Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.Binary == nil {
		cfg.Binary = engine.NewResolver(cfg.Settings)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = DefaultKillWait
	}
	if cfg.RestartSettle <= 0 {
		cfg.RestartSettle = DefaultRestartSettle
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.LogQueueSize <= 0 {
		cfg.LogQueueSize = DefaultLogQueueSize
	}

	return &Supervisor{
		cfg:      cfg,
		log:      logging.OrNop(cfg.Logger),
		metrics:  metrics.OrNop(cfg.Metrics),
		entries:  make(map[string]*entry),
		starting: make(map[string]struct{}),
	}
}

// Start launches the engine for req.ServerID. It returns once the process
// has survived the grace period, or a *StartError if it could not be
// launched or exited early. A failed Start leaves no trace in the registry.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) error {
	id := req.ServerID
	if id == "" {
		return errors.New("start: empty server id")
	}
	if req.Config == nil {
		return fmt.Errorf("start %s: missing configuration", id)
	}

	s.mu.Lock()
	if e := s.entries[id]; e != nil && e.exited() {
		s.removeLocked(e)
	}
	_, tracked := s.entries[id]
	_, starting := s.starting[id]
	if tracked || starting {
		s.mu.Unlock()
		return fmt.Errorf("start %s: %w", id, ErrAlreadyRunning)
	}
	s.starting[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.starting, id)
		s.mu.Unlock()
	}()

	st := s.loadSettings()
	level := st.LogLevel
	if level == "" {
		level = settings.DefaultLogLevel
	}
	doc := xrayconfig.ApplyPortOverrides(req.Config, req.Ports.SOCKS, req.Ports.HTTP)
	doc = xrayconfig.ApplyLogLevel(doc, level)

	data, err := xrayconfig.Marshal(doc)
	if err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}

	binary := s.cfg.Binary()
	rec := ProcessRecord{ServerID: id, SubscriptionID: req.SubscriptionID, EffectiveConfig: doc}
	e, err := s.spawn(rec, binary, st.AssetsDir, data)
	if err != nil {
		s.metrics.ProcessStarted(metrics.StartSpawnFailure)
		s.log.Error("engine spawn failed", "server", id, "binary", binary, "error", err)
		return &StartError{Kind: SpawnFailure, ServerID: id, Binary: binary, Err: err}
	}

	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()

	select {
	case <-e.done:
		return s.immediateExit(e)
	case <-ctx.Done():
		s.abandon(e)
		return fmt.Errorf("start %s: %w", id, context.Cause(ctx))
	case <-timer.C:
	}
	if e.exited() {
		return s.immediateExit(e)
	}

	e.started.Store(true)
	s.metrics.ProcessStarted(metrics.StartOK)
	s.metrics.RunningProcesses(s.Len())
	s.log.Info("engine started", "server", id, "pid", e.record.PID, "binary", binary)
	return nil
}

// spawn launches binary and writes the configuration to its stdin. The
// returned entry has its pump and waiter running.
func (s *Supervisor) spawn(rec ProcessRecord, binary, assetsDir string, config []byte) (*entry, error) {
	cmd := exec.Command(binary, engine.RunArgs...)
	cmd.Env = engine.Environ(assetsDir, s.cfg.Env...)
	cmd.SysProcAttr = engine.SysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	// stdout and stderr share one pipe so the log keeps their interleaving.
	pr, pw, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	_ = pw.Close()

	rec.PID = cmd.Process.Pid
	rec.StartTime = time.Now()
	e := &entry{
		record:   rec,
		binary:   binary,
		cmd:      cmd,
		logs:     make(chan LogEntry, s.cfg.LogQueueSize),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go s.wait(e)
	go s.pump(e, pr)

	_, werr := stdin.Write(config)
	cerr := stdin.Close()
	if err := errors.Join(werr, cerr); err != nil {
		// A child that already exited is reported as an early exit, with
		// its output, rather than as a write failure.
		select {
		case <-e.done:
			return e, nil
		case <-time.After(s.cfg.GracePeriod):
		}
		_ = cmd.Process.Kill()
		<-e.done
		return nil, fmt.Errorf("write configuration: %w", err)
	}
	return e, nil
}

func (s *Supervisor) wait(e *entry) {
	_ = e.cmd.Wait()
	if ps := e.cmd.ProcessState; ps != nil {
		e.exitCode = ps.ExitCode()
	} else {
		e.exitCode = -1
	}
	close(e.done)

	if e.started.Load() && !e.stopping.Load() {
		s.metrics.ProcessExited()
		s.log.Warn("engine exited unexpectedly", "server", e.record.ServerID, "pid", e.record.PID, "code", e.exitCode)
	}
}

func (s *Supervisor) immediateExit(e *entry) error {
	timer := time.NewTimer(s.cfg.DrainTimeout)
	select {
	case <-e.pumpDone:
	case <-timer.C:
	}
	timer.Stop()

	output := joinMessages(drain(e.logs))

	s.mu.Lock()
	s.removeLocked(e)
	s.mu.Unlock()

	s.metrics.ProcessStarted(metrics.StartImmediateExit)
	s.log.Error("engine exited immediately", "server", e.record.ServerID, "code", e.exitCode, "output", output)
	return &StartError{
		Kind:     ImmediateExit,
		ServerID: e.record.ServerID,
		Binary:   e.binary,
		ExitCode: e.exitCode,
		Output:   output,
	}
}

// abandon kills a process whose start was cancelled.
func (s *Supervisor) abandon(e *entry) {
	e.stopping.Store(true)
	_ = e.cmd.Process.Kill()
	<-e.done

	s.mu.Lock()
	s.removeLocked(e)
	s.mu.Unlock()
}

// removeLocked drops e if it is still the registered entry for its ID.
func (s *Supervisor) removeLocked(e *entry) {
	id := e.record.ServerID
	if s.entries[id] != e {
		return
	}
	delete(s.entries, id)
	if s.current == id {
		s.current = ""
	}
	s.metrics.RunningProcesses(len(s.entries))
}

// live returns the entry for id, removing it first if its process exited.
func (s *Supervisor) live(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(id)
}

func (s *Supervisor) liveLocked(id string) *entry {
	e := s.entries[id]
	if e == nil {
		return nil
	}
	if e.exited() {
		s.removeLocked(e)
		return nil
	}
	return e
}

func (s *Supervisor) loadSettings() settings.Settings {
	if s.cfg.Settings == nil {
		return settings.Settings{}
	}
	st, err := s.cfg.Settings.Load()
	if err != nil {
		s.log.Warn("loading settings failed, using defaults", "error", err)
		return settings.Settings{}
	}
	return st
}

// Stop terminates the process for id: a graceful signal first, then a kill
// once StopTimeout passes or ctx is done. The entry is removed only after
// the process is confirmed gone.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	e := s.entries[id]
	s.mu.Unlock()
	if e == nil {
		return fmt.Errorf("stop %s: %w", id, ErrNotRunning)
	}

	if e.exited() {
		s.mu.Lock()
		s.removeLocked(e)
		s.mu.Unlock()
		return nil
	}

	e.stopping.Store(true)
	begin := time.Now()
	mode := metrics.StopGraceful

	if err := engine.Terminate(e.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Debug("graceful stop signal failed", "server", id, "error", err)
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-e.done:
	case <-timer.C:
		mode = metrics.StopForced
	case <-ctx.Done():
		mode = metrics.StopForced
	}

	if mode == metrics.StopForced {
		s.log.Warn("engine ignored stop request, killing", "server", id, "pid", e.record.PID)
		_ = e.cmd.Process.Kill()

		kill := time.NewTimer(s.cfg.KillWait)
		defer kill.Stop()
		select {
		case <-e.done:
		case <-kill.C:
			s.metrics.ProcessStopped(metrics.StopFailed, time.Since(begin))
			s.log.Error("engine survived kill", "server", id, "pid", e.record.PID)
			return fmt.Errorf("stop %s: %w", id, ErrStopTimeout)
		}
	}

	s.mu.Lock()
	s.removeLocked(e)
	s.mu.Unlock()

	elapsed := time.Since(begin)
	s.metrics.ProcessStopped(mode, elapsed)
	s.log.Info("engine stopped", "server", id, "pid", e.record.PID, "mode", string(mode), "elapsed", elapsed)
	return nil
}

// Restart stops id if it is running, waits RestartSettle, and starts req.
// A current server stays current.
func (s *Supervisor) Restart(ctx context.Context, req StartRequest) error {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()
	return s.restart(ctx, req)
}

func (s *Supervisor) restart(ctx context.Context, req StartRequest) error {
	id := req.ServerID

	s.mu.Lock()
	wasCurrent := s.current == id && id != ""
	running := s.liveLocked(id) != nil
	s.mu.Unlock()

	if running {
		if err := s.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
			return fmt.Errorf("restart: %w", err)
		}
		if err := sleep(ctx, s.cfg.RestartSettle); err != nil {
			return fmt.Errorf("restart %s: %w", id, err)
		}
	}

	if err := s.Start(ctx, req); err != nil {
		return err
	}
	if wasCurrent {
		s.markCurrent(id)
	}
	return nil
}

// IsRunning reports whether id has a live process. An exited process is
// removed before false is returned.
func (s *Supervisor) IsRunning(id string) bool {
	return s.live(id) != nil
}

// IsAnyRunning reports whether any tracked process is alive.
func (s *Supervisor) IsAnyRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.entries {
		if s.liveLocked(id) != nil {
			return true
		}
	}
	return false
}

// Len returns the number of tracked processes.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ProcessInfo returns the record of a live process.
func (s *Supervisor) ProcessInfo(id string) (ProcessRecord, bool) {
	e := s.live(id)
	if e == nil {
		return ProcessRecord{}, false
	}
	return e.record, true
}

// Ports lists the inbounds of a live process as launched, overrides
// included.
func (s *Supervisor) Ports(id string) []xrayconfig.PortInfo {
	e := s.live(id)
	if e == nil {
		return nil
	}
	return xrayconfig.Inbounds(e.record.EffectiveConfig)
}

// StopAll stops every tracked process concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			if err := s.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
