package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/xraysup/internal/engine"
	"github.com/die-net/xraysup/internal/enginetest"
	"github.com/die-net/xraysup/internal/supervisor"
	"github.com/die-net/xraysup/internal/testutil"
	"github.com/die-net/xraysup/internal/xrayconfig"
)

func TestMain(m *testing.M) {
	os.Exit(enginetest.Run(m))
}

const bothInbounds = `[
	{"tag": "socks-in", "port": 1080, "listen": "127.0.0.1", "protocol": "socks"},
	{"tag": "http-in", "port": 1081, "listen": "127.0.0.1", "protocol": "http"}
]`

func newTestTester(t *testing.T, probeURL string, mode Mode) (*Tester, *supervisor.Supervisor) {
	t.Helper()

	sup := supervisor.New(supervisor.Config{
		Binary:       engine.Fixed(enginetest.Binary(t)),
		GracePeriod:  300 * time.Millisecond,
		StopTimeout:  2 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = sup.StopAll(context.Background()) })

	tester := New(Config{
		Supervisor: sup,
		ProbeURL:   probeURL,
		Settle:     100 * time.Millisecond,
		Mode:       mode,
	})
	return tester, sup
}

func config(t *testing.T, inbounds, behavior string) xrayconfig.Document {
	t.Helper()

	raw := `{"inbounds": ` + inbounds + `, "outbounds": [{"protocol": "freedom"}]`
	if behavior != "" {
		raw += `, "enginetest": ` + behavior
	}
	doc, err := xrayconfig.Parse([]byte(raw + "}"))
	require.NoError(t, err)
	return doc
}

func TestTestOneSuccess(t *testing.T) {
	for _, mode := range []Mode{ModeHTTP, ModeConnect, ModeSOCKS5} {
		t.Run(string(mode), func(t *testing.T) {
			target := testutil.StartStatusServer(t, http.StatusNoContent)
			tester, sup := newTestTester(t, target.URL+"/generate_204", mode)

			res := tester.TestOne(context.Background(), Target{ServerID: "s1", Config: config(t, bothInbounds, "")}, "sub", 5*time.Second)

			assert.True(t, res.Success, res.Error)
			assert.Empty(t, res.Error)
			assert.Equal(t, "s1", res.ServerID)
			assert.Positive(t, res.Latency)
			assert.NotZero(t, res.SOCKSPort)
			assert.NotZero(t, res.HTTPPort)
			assert.NotEqual(t, res.SOCKSPort, res.HTTPPort)
			assert.Equal(t, int64(1), target.Hits())

			// The probe process is gone and never became current.
			assert.Equal(t, 0, sup.Len())
			_, ok := sup.CurrentServerID()
			assert.False(t, ok)
		})
	}
}

func TestTestOneUnexpectedStatus(t *testing.T) {
	target := testutil.StartStatusServer(t, http.StatusOK)
	tester, sup := newTestTester(t, target.URL, ModeHTTP)

	res := tester.TestOne(context.Background(), Target{ServerID: "s1", Config: config(t, bothInbounds, "")}, "", 5*time.Second)

	assert.False(t, res.Success)
	assert.Equal(t, "HTTP 200", res.Error)
	assert.Equal(t, 0, sup.Len())
}

func TestTestOneMissingInbound(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		inbounds string
	}{
		{name: "http", mode: ModeHTTP, inbounds: `[{"tag": "socks-in", "port": 1080, "protocol": "socks"}]`},
		{name: "socks5", mode: ModeSOCKS5, inbounds: `[{"tag": "http-in", "port": 1081, "protocol": "http"}]`},
		{name: "none", mode: ModeHTTP, inbounds: `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := testutil.StartStatusServer(t, http.StatusNoContent)
			tester, sup := newTestTester(t, target.URL, tt.mode)

			res := tester.TestOne(context.Background(), Target{ServerID: "s1", Config: config(t, tt.inbounds, "")}, "", time.Second)

			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "inbound")
			assert.Equal(t, 0, sup.Len())
			assert.Zero(t, target.Hits())
		})
	}
}

func TestTestOneStartFailure(t *testing.T) {
	tester, sup := newTestTester(t, "http://127.0.0.1:1/", ModeHTTP)

	res := tester.TestOne(context.Background(), Target{
		ServerID: "s1",
		Config:   config(t, bothInbounds, `{"output": "bad config", "exit_code": 1}`),
	}, "", time.Second)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "bad config")
	assert.Equal(t, 0, sup.Len())
}

func TestTestOneConnectionError(t *testing.T) {
	// A server that is closed before the probe runs.
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	tester, _ := newTestTester(t, closed.URL, ModeSOCKS5)

	res := tester.TestOne(context.Background(), Target{ServerID: "s1", Config: config(t, bothInbounds, "")}, "", 5*time.Second)

	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "connection error: "), res.Error)
}

func TestTestOneTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer slow.Close()

	tester, sup := newTestTester(t, slow.URL, ModeHTTP)

	begin := time.Now()
	res := tester.TestOne(context.Background(), Target{ServerID: "s1", Config: config(t, bothInbounds, "")}, "", 300*time.Millisecond)

	assert.False(t, res.Success)
	assert.Equal(t, "connection timeout", res.Error)
	assert.Less(t, time.Since(begin), 4*time.Second)
	assert.Equal(t, 0, sup.Len())
}

func TestTestOneSlowHandshakeWithinRequestedTimeout(t *testing.T) {
	for _, mode := range []Mode{ModeConnect, ModeSOCKS5} {
		t.Run(string(mode), func(t *testing.T) {
			target := testutil.StartStatusServer(t, http.StatusNoContent)
			sup := supervisor.New(supervisor.Config{
				Binary:      engine.Fixed(enginetest.Binary(t)),
				GracePeriod: 300 * time.Millisecond,
				StopTimeout: 2 * time.Second,
			})
			t.Cleanup(func() { _ = sup.StopAll(context.Background()) })

			// The default is shorter than the handshake; the per-call timeout is not.
			tester := New(Config{
				Supervisor:     sup,
				ProbeURL:       target.URL,
				Settle:         100 * time.Millisecond,
				DefaultTimeout: 200 * time.Millisecond,
				Mode:           mode,
			})

			res := tester.TestOne(context.Background(), Target{
				ServerID: "s1",
				Config:   config(t, bothInbounds, `{"handshake_delay_ms": 700}`),
			}, "", 5*time.Second)

			assert.True(t, res.Success, res.Error)
			assert.GreaterOrEqual(t, res.Latency, 700*time.Millisecond)
			assert.Equal(t, int64(1), target.Hits())
		})
	}
}

func TestTestManyKeepsOrder(t *testing.T) {
	target := testutil.StartStatusServer(t, http.StatusNoContent)
	tester, sup := newTestTester(t, target.URL, ModeHTTP)

	targets := []Target{
		{ServerID: "first", Config: config(t, bothInbounds, "")},
		{ServerID: "broken", Config: config(t, `[{"tag": "socks-in", "port": 1080, "protocol": "socks"}]`, "")},
		{ServerID: "third", Config: config(t, bothInbounds, "")},
	}

	results := tester.TestMany(context.Background(), targets, "sub", 5*time.Second)
	require.Len(t, results, 3)

	assert.Equal(t, "first", results[0].ServerID)
	assert.Equal(t, "broken", results[1].ServerID)
	assert.Equal(t, "third", results[2].ServerID)

	assert.True(t, results[0].Success, results[0].Error)
	assert.False(t, results[1].Success)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, results[2].Success, results[2].Error)

	assert.NotEqual(t, results[0].HTTPPort, results[2].HTTPPort)
	assert.Equal(t, 0, sup.Len())
}

func TestTestManyRecoversPanics(t *testing.T) {
	tester := New(Config{Supervisor: panickingRunner{}, Settle: time.Millisecond})

	results := tester.TestMany(context.Background(), []Target{
		{ServerID: "a", Config: config(t, bothInbounds, "")},
		{ServerID: "b"},
	}, "", time.Second)

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ServerID)
	assert.Contains(t, results[0].Error, "panicked")
	assert.Equal(t, "missing configuration", results[1].Error)
}

func TestTestManyEmpty(t *testing.T) {
	tester := New(Config{Supervisor: panickingRunner{}})
	assert.Empty(t, tester.TestMany(context.Background(), nil, "", 0))
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeHTTP, "http": ModeHTTP, "connect": ModeConnect, "socks5": ModeSOCKS5} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("quic")
	assert.Error(t, err)
}

type panickingRunner struct{}

func (panickingRunner) Start(context.Context, supervisor.StartRequest) error { panic("boom") }
func (panickingRunner) Stop(context.Context, string) error                  { return nil }
