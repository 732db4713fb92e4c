package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/xraysup/internal/dialer"
	"github.com/die-net/xraysup/internal/logging"
	"github.com/die-net/xraysup/internal/metrics"
	"github.com/die-net/xraysup/internal/portalloc"
	"github.com/die-net/xraysup/internal/supervisor"
	"github.com/die-net/xraysup/internal/xrayconfig"
)

const (
	DefaultProbeURL       = "http://www.gstatic.com/generate_204"
	DefaultExpectedStatus = http.StatusNoContent
	DefaultSettle         = 2 * time.Second
	DefaultTimeout        = 6 * time.Second

	// ProbeKeyPrefix prefixes the registry key of probe processes so they
	// never collide with a real server.
	ProbeKeyPrefix = "probe:"
)

// Mode selects how the probe request reaches the engine.
type Mode string

const (
	// ModeHTTP sends the request to the http inbound as a forward proxy.
	ModeHTTP Mode = "http"
	// ModeConnect tunnels through the http inbound with CONNECT.
	ModeConnect Mode = "connect"
	// ModeSOCKS5 tunnels through the socks inbound.
	ModeSOCKS5 Mode = "socks5"
)

// ParseMode parses a probe mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeHTTP, ModeConnect, ModeSOCKS5:
		return m, nil
	case "":
		return ModeHTTP, nil
	default:
		return "", fmt.Errorf("unknown probe mode %q", s)
	}
}

// Runner is the part of the supervisor a Tester needs.
type Runner interface {
	Start(ctx context.Context, req supervisor.StartRequest) error
	Stop(ctx context.Context, id string) error
}

// Config configures a Tester. Zero values take the defaults above.
type Config struct {
	Supervisor Runner
	// Allocator hands out probe port pairs. Nil means a private allocator.
	Allocator *portalloc.Allocator
	Logger    *slog.Logger
	Metrics   metrics.Collector

	ProbeURL       string
	ExpectedStatus int
	// Settle is the wait between start and probe.
	Settle         time.Duration
	DefaultTimeout time.Duration
	Mode           Mode
}

// Target is one configuration to test.
type Target struct {
	ServerID string
	Config   xrayconfig.Document
}

// Result is the outcome of one probe.
type Result struct {
	ServerID  string        `json:"server_id"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"-"`
	LatencyMS int64         `json:"latency_ms,omitempty"`
	Error     string        `json:"error,omitempty"`
	SOCKSPort int           `json:"socks_port,omitempty"`
	HTTPPort  int           `json:"http_port,omitempty"`
}

// Tester runs connectivity probes.
type Tester struct {
	cfg     Config
	sup     Runner
	alloc   *portalloc.Allocator
	log     *slog.Logger
	metrics metrics.Collector
}

// New returns a Tester. cfg.Supervisor is required.
func New(cfg Config) *Tester {
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = DefaultProbeURL
	}
	if cfg.ExpectedStatus == 0 {
		cfg.ExpectedStatus = DefaultExpectedStatus
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHTTP
	}
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = portalloc.NewAllocator()
	}

	return &Tester{
		cfg:     cfg,
		sup:     cfg.Supervisor,
		alloc:   alloc,
		log:     logging.OrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
	}
}

// TestOne launches target on its own port pair, waits Settle, and fetches
// ProbeURL through it within timeout (DefaultTimeout when zero). The probe
// process is stopped and its ports released before returning, whatever the
// outcome.
func (t *Tester) TestOne(ctx context.Context, target Target, subscriptionID string, timeout time.Duration) Result {
	res := Result{ServerID: target.ServerID}
	if timeout <= 0 {
		timeout = t.cfg.DefaultTimeout
	}

	if target.Config == nil {
		res.Error = "missing configuration"
		return res
	}
	inbound := "http"
	if t.cfg.Mode == ModeSOCKS5 {
		inbound = "socks"
	}
	if !xrayconfig.HasInboundTagged(target.Config, inbound) {
		res.Error = fmt.Sprintf("configuration has no %s inbound", inbound)
		return res
	}

	pair, err := t.alloc.AllocatePair()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer t.alloc.Release(pair)
	res.SOCKSPort, res.HTTPPort = pair.SOCKS, pair.HTTP

	key := ProbeKeyPrefix + target.ServerID
	if err := t.sup.Start(ctx, supervisor.StartRequest{
		ServerID:       key,
		SubscriptionID: subscriptionID,
		Config:         target.Config,
		Ports:          pair,
	}); err != nil {
		res.Error = err.Error()
		t.metrics.ProbeCompleted(false, 0)
		return res
	}
	defer func() {
		// Stop gracefully even if the caller gave up.
		if err := t.sup.Stop(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
			t.log.Warn("stopping probe process failed", "server", target.ServerID, "error", err)
		}
	}()

	if err := sleep(ctx, t.cfg.Settle); err != nil {
		res.Error = describe(err)
		return res
	}

	latency, err := t.probe(ctx, pair, timeout)
	t.metrics.ProbeCompleted(err == nil, latency)
	if err != nil {
		res.Error = err.Error()
		t.log.Debug("probe failed", "server", target.ServerID, "error", err)
		return res
	}

	res.Success = true
	res.Latency = latency
	res.LatencyMS = latency.Milliseconds()
	t.log.Debug("probe succeeded", "server", target.ServerID, "latency", latency)
	return res
}

// TestMany probes all targets concurrently. Results are in input order; a
// panicking probe yields a failed result instead of escaping.
func (t *Tester) TestMany(ctx context.Context, targets []Target, subscriptionID string, timeout time.Duration) []Result {
	results := make([]Result, len(targets))

	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					t.log.Error("probe panicked", "server", target.ServerID, "panic", r)
					results[i] = Result{ServerID: target.ServerID, Error: fmt.Sprintf("probe panicked: %v", r)}
				}
			}()
			results[i] = t.TestOne(ctx, target, subscriptionID, timeout)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// probe sends one GET through the engine and returns the request latency.
// A response with an unexpected status is an error carrying the latency.
func (t *Tester) probe(ctx context.Context, pair portalloc.Pair, timeout time.Duration) (time.Duration, error) {
	transport, err := t.transport(pair, timeout)
	if err != nil {
		return 0, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.ProbeURL, nil)
	if err != nil {
		return 0, err
	}

	begin := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, errors.New(describe(err))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	latency := time.Since(begin)

	if resp.StatusCode != t.cfg.ExpectedStatus {
		return latency, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return latency, nil
}

func (t *Tester) transport(pair portalloc.Pair, timeout time.Duration) (*http.Transport, error) {
	cfg := dialer.Config{DialTimeout: timeout, NegotiationTimeout: timeout}
	local := func(port int) string {
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	}

	switch t.cfg.Mode {
	case ModeSOCKS5:
		d, err := dialer.New(cfg, "socks5://"+local(pair.SOCKS))
		if err != nil {
			return nil, err
		}
		return dialer.NewTransport(d), nil
	case ModeConnect:
		d, err := dialer.New(cfg, "http://"+local(pair.HTTP))
		if err != nil {
			return nil, err
		}
		return &http.Transport{DialContext: d.DialContext, DisableKeepAlives: true}, nil
	default:
		d, err := dialer.New(cfg, "http://"+local(pair.HTTP))
		if err != nil {
			return nil, err
		}
		return dialer.NewTransport(d), nil
	}
}

func describe(err error) string {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return "connection timeout"
	}
	return "connection error: " + err.Error()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
