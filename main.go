package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/xraysup/internal/api"
	"github.com/die-net/xraysup/internal/connectivity"
	"github.com/die-net/xraysup/internal/engine"
	"github.com/die-net/xraysup/internal/logging"
	"github.com/die-net/xraysup/internal/metrics"
	"github.com/die-net/xraysup/internal/settings"
	"github.com/die-net/xraysup/internal/supervisor"
	"github.com/die-net/xraysup/internal/xrayconfig"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	settingsPath string
	xrayBinary   string
	logLevel     string
	logFormat    string
}

type probeFlags struct {
	url     string
	mode    string
	settle  time.Duration
	timeout time.Duration
}

type serveFlags struct {
	listen       string
	debugListen  string
	tcpKeepAlive string
	gracePeriod  time.Duration
	stopTimeout  time.Duration
	probe        probeFlags
}

func newRootCmd() *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:           "xraysup",
		Short:         "Supervise xray engine processes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().SortFlags = false
	addGlobalFlags(root.PersistentFlags(), &gf)

	root.AddCommand(newServeCmd(&gf), newTestCmd(&gf), newVersionCmd(&gf))
	return root
}

func addGlobalFlags(fs *pflag.FlagSet, gf *globalFlags) {
	fs.StringVar(&gf.settingsPath, "settings", defaultSettingsPath(), "Path to the YAML settings file")
	fs.StringVar(&gf.xrayBinary, "xray-binary", "", "Engine binary to launch. Empty uses settings, then PATH, then the platform default.")
	fs.StringVar(&gf.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&gf.logFormat, "log-format", "text", "Log format: text|json")
}

func addProbeFlags(fs *pflag.FlagSet, pf *probeFlags) {
	fs.StringVar(&pf.url, "probe-url", connectivity.DefaultProbeURL, "URL fetched through the engine to test connectivity")
	fs.StringVar(&pf.mode, "probe-mode", string(connectivity.ModeHTTP), "How the probe reaches the engine: http|connect|socks5")
	fs.DurationVar(&pf.settle, "probe-settle", connectivity.DefaultSettle, "Wait between starting a probe engine and sending the request")
	fs.DurationVar(&pf.timeout, "probe-timeout", 5*time.Second, "Per-target probe timeout")
}

func (gf *globalFlags) logger() (*slog.Logger, error) {
	level, err := logging.ParseLevel(gf.logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	format, err := logging.ParseFormat(gf.logFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-format: %w", err)
	}
	return logging.New(logging.Config{Level: level, Format: format}), nil
}

func (gf *globalFlags) resolver(p settings.Provider) engine.Resolver {
	if gf.xrayBinary != "" {
		return engine.Fixed(gf.xrayBinary)
	}
	return engine.NewResolver(p)
}

func newServeCmd(gf *globalFlags) *cobra.Command {
	var sf serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), gf, &sf)
		},
	}

	fs := cmd.Flags()
	fs.SortFlags = false
	fs.StringVar(&sf.listen, "listen", "127.0.0.1:8765", "Control API listen address")
	fs.StringVar(&sf.debugListen, "debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
	fs.StringVar(&sf.tcpKeepAlive, "tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.DurationVar(&sf.gracePeriod, "grace-period", supervisor.DefaultGracePeriod, "Wait after launch before a start is considered successful")
	fs.DurationVar(&sf.stopTimeout, "stop-timeout", supervisor.DefaultStopTimeout, "Wait for a graceful engine exit before killing it")
	addProbeFlags(fs, &sf.probe)
	return cmd
}

func runServe(ctx context.Context, gf *globalFlags, sf *serveFlags) error {
	log, err := gf.logger()
	if err != nil {
		return err
	}
	ka, err := parseTCPKeepAlive(sf.tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}
	mode, err := connectivity.ParseMode(sf.probe.mode)
	if err != nil {
		return fmt.Errorf("invalid --probe-mode: %w", err)
	}

	store := settings.NewFile(gf.settingsPath)
	if _, err := store.Load(); err != nil {
		return err
	}
	prom := metrics.NewPrometheus("")
	binary := gf.resolver(store)

	sup := supervisor.New(supervisor.Config{
		Binary:      binary,
		Settings:    store,
		Logger:      log,
		Metrics:     prom,
		GracePeriod: sf.gracePeriod,
		StopTimeout: sf.stopTimeout,
	})
	tester := connectivity.New(connectivity.Config{
		Supervisor: sup,
		Logger:     log,
		Metrics:    prom,
		ProbeURL:   sf.probe.url,
		Settle:     sf.probe.settle,
		Mode:       mode,
	})
	handler := api.New(api.Config{
		Supervisor:  sup,
		Tester:      tester,
		Settings:    store,
		Binary:      binary,
		Metrics:     prom.Handler(),
		Logger:      log,
		TestTimeout: sf.probe.timeout,
	})

	g, ctx := errgroup.WithContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lc := net.ListenConfig{KeepAliveConfig: ka}

	if sf.debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		debugLn, err := lc.Listen(ctx, "tcp", sf.debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info("debug listening", "addr", sf.debugListen)
	}

	ln, err := lc.Listen(ctx, "tcp", sf.listen)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	context.AfterFunc(ctx, func() {
		_ = srv.Close()
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("api serve: %w", err)
		}
		return nil
	})
	log.Info("control api listening", "addr", ln.Addr().String(), "settings", store.Path())

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), sf.stopTimeout+supervisor.DefaultKillWait)
	defer cancel()
	if serr := sup.StopAll(stopCtx); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

func newTestCmd(gf *globalFlags) *cobra.Command {
	var (
		pf           probeFlags
		subscription string
	)

	cmd := &cobra.Command{
		Use:   "test <config.json>...",
		Short: "Test connectivity through one or more engine configurations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, gf, &pf, subscription, args)
		},
	}

	fs := cmd.Flags()
	fs.SortFlags = false
	fs.StringVar(&subscription, "subscription", "", "Subscription ID recorded on the probe processes")
	addProbeFlags(fs, &pf)
	return cmd
}

type fileResult struct {
	File string `json:"file"`
	connectivity.Result
}

func runTest(cmd *cobra.Command, gf *globalFlags, pf *probeFlags, subscription string, paths []string) error {
	log, err := gf.logger()
	if err != nil {
		return err
	}
	mode, err := connectivity.ParseMode(pf.mode)
	if err != nil {
		return fmt.Errorf("invalid --probe-mode: %w", err)
	}
	targets, err := loadTargets(paths)
	if err != nil {
		return err
	}

	store := settings.NewFile(gf.settingsPath)
	sup := supervisor.New(supervisor.Config{
		Binary:   gf.resolver(store),
		Settings: store,
		Logger:   log,
	})
	tester := connectivity.New(connectivity.Config{
		Supervisor: sup,
		Logger:     log,
		ProbeURL:   pf.url,
		Settle:     pf.settle,
		Mode:       mode,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := tester.TestMany(ctx, targets, subscription, pf.timeout)

	out := make([]fileResult, len(results))
	failed := 0
	for i, r := range results {
		out[i] = fileResult{File: paths[i], Result: r}
		if !r.Success {
			failed++
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d configurations failed", failed, len(results))
	}
	return nil
}

// loadTargets reads one engine configuration per path. Each gets a fresh
// server ID.
func loadTargets(paths []string) ([]connectivity.Target, error) {
	targets := make([]connectivity.Target, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		doc, err := xrayconfig.Parse(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		targets = append(targets, connectivity.Target{ServerID: uuid.NewString(), Config: doc})
	}
	return targets, nil
}

func newVersionCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Report the engine binary's version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			binary := gf.resolver(settings.NewFile(gf.settingsPath))()
			info := engine.ProbeVersion(cmd.Context(), binary)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(info); err != nil {
				return err
			}
			if !info.Available {
				return fmt.Errorf("%s: %s", binary, info.Error)
			}
			return nil
		},
	}
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultSettingsPath() string {
	if p := os.Getenv("XRAYSUP_SETTINGS"); p != "" {
		return p
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "xraysup.yaml"
	}
	return filepath.Join(dir, "xraysup", "settings.yaml")
}
