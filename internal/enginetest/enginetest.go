package enginetest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/die-net/xraysup/internal/xrayconfig"
)

// EnvKey switches a re-executed test binary into engine mode.
const EnvKey = "XRAYSUP_ENGINETEST"

// VersionLine is what "version" prints.
const VersionLine = "Xray 1.8.4 (Xray, Penetrates Everything.) 2cba2c4 (go1.21.1 linux/amd64)"

// BadConfigExitCode is the exit status for unparsable configuration.
const BadConfigExitCode = 23

// Behavior scripts the stand-in engine. It is read from the "enginetest" key
// of the configuration.
type Behavior struct {
	// Output is printed before anything else.
	Output string `json:"output,omitempty"`
	// Lines prints "line 1" through "line N" right after Output.
	Lines int `json:"lines,omitempty"`
	// EchoEnv prints NAME=value for each listed environment variable.
	EchoEnv []string `json:"echo_env,omitempty"`
	// ExitCode, when set without ExitAfterMS, exits immediately.
	ExitCode *int `json:"exit_code,omitempty"`
	// ExitAfterMS exits with ExitCode (or 0) after running this long.
	ExitAfterMS int `json:"exit_after_ms,omitempty"`
	// IgnoreTerm makes the engine ignore SIGTERM.
	IgnoreTerm bool `json:"ignore_term,omitempty"`
	// HandshakeDelayMS holds back every inbound's CONNECT reply.
	HandshakeDelayMS int `json:"handshake_delay_ms,omitempty"`
}

// Run is called from TestMain. In engine mode it runs the stand-in engine
// and returns its exit code; otherwise it marks the environment so child
// processes start in engine mode and runs the tests.
func Run(m *testing.M) int {
	if os.Getenv(EnvKey) == "1" {
		return Main(os.Args[1:], os.Stdin, os.Stdout)
	}
	if err := os.Setenv(EnvKey, "1"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return m.Run()
}

// Binary returns the path of the running test binary.
func Binary(t testing.TB) string {
	t.Helper()

	p, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// Main is the stand-in engine's entry point.
func Main(args []string, stdin io.Reader, stdout io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stdout, "usage: xray <command>")
		return 2
	}

	switch args[0] {
	case "version":
		fmt.Fprintln(stdout, VersionLine)
		fmt.Fprintln(stdout, "A unified platform for anti-censorship.")
		return 0
	case "run":
		return run(stdin, stdout)
	default:
		fmt.Fprintf(stdout, "unknown command %q\n", args[0])
		return 2
	}
}

func run(stdin io.Reader, stdout io.Writer) int {
	data, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stdout, "Failed to read config: %v\n", err)
		return BadConfigExitCode
	}
	doc, err := xrayconfig.Parse(data)
	if err != nil {
		fmt.Fprintf(stdout, "Failed to start: bad config: %v\n", err)
		return BadConfigExitCode
	}
	b, err := behaviorOf(doc)
	if err != nil {
		fmt.Fprintf(stdout, "Failed to start: bad config: %v\n", err)
		return BadConfigExitCode
	}

	sigs := []os.Signal{syscall.SIGTERM, os.Interrupt}
	if b.IgnoreTerm {
		signal.Ignore(syscall.SIGTERM)
		sigs = sigs[1:]
	}
	ctx, stop := signal.NotifyContext(context.Background(), sigs...)
	defer stop()

	if b.Output != "" {
		fmt.Fprintln(stdout, b.Output)
	}
	for i := 1; i <= b.Lines; i++ {
		fmt.Fprintf(stdout, "line %d\n", i)
	}
	for _, name := range b.EchoEnv {
		fmt.Fprintf(stdout, "%s=%s\n", name, os.Getenv(name))
	}
	if b.ExitCode != nil && b.ExitAfterMS == 0 {
		return *b.ExitCode
	}

	listeners, err := listenInbounds(ctx, doc, time.Duration(b.HandshakeDelayMS)*time.Millisecond)
	if err != nil {
		fmt.Fprintf(stdout, "Failed to start: %v\n", err)
		return 1
	}
	defer func() {
		for _, ln := range listeners {
			_ = ln.Close()
		}
	}()

	fmt.Fprintf(stdout, "[Warning] core: Xray 1.8.4 started (log level %s)\n", xrayconfig.LogLevel(doc))

	var exit <-chan time.Time
	if b.ExitAfterMS > 0 {
		exit = time.After(time.Duration(b.ExitAfterMS) * time.Millisecond)
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(stdout, "[Warning] core: Xray stopping")
		return 0
	case <-exit:
		if b.ExitCode != nil {
			return *b.ExitCode
		}
		return 0
	}
}

func behaviorOf(doc xrayconfig.Document) (Behavior, error) {
	var b Behavior
	raw, ok := doc["enginetest"]
	if !ok {
		return b, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("enginetest: %w", err)
	}
	return b, nil
}

func listenInbounds(ctx context.Context, doc xrayconfig.Document, delay time.Duration) ([]net.Listener, error) {
	var listeners []net.Listener
	closeAll := func() {
		for _, ln := range listeners {
			_ = ln.Close()
		}
	}

	for _, in := range xrayconfig.Inbounds(doc) {
		var serve func(net.Listener) error
		switch in.Protocol {
		case "socks":
			serve = newSOCKSInbound(ctx, delay).Serve
		case "http":
			serve = newHTTPInbound(ctx, delay).Serve
		default:
			continue
		}

		ln, err := listenTCP(ctx, fmt.Sprintf("127.0.0.1:%d", in.Port))
		if err != nil {
			closeAll()
			return nil, err
		}
		listeners = append(listeners, ln)
		go func() { _ = serve(ln) }()
	}
	return listeners, nil
}
