package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusStarts(t *testing.T) {
	p := NewPrometheus("test")

	p.ProcessStarted(StartOK)
	p.ProcessStarted(StartOK)
	p.ProcessStarted(StartImmediateExit)

	expected := `
		# HELP test_engine_starts_total Engine start attempts by result
		# TYPE test_engine_starts_total counter
		test_engine_starts_total{result="immediate_exit"} 1
		test_engine_starts_total{result="ok"} 2
	`
	err := testutil.GatherAndCompare(p.Registry(), strings.NewReader(expected), "test_engine_starts_total")
	assert.NoError(t, err)
}

func TestPrometheusStopsAndGauge(t *testing.T) {
	p := NewPrometheus("test")

	p.ProcessStopped(StopGraceful, 20*time.Millisecond)
	p.ProcessStopped(StopForced, 10*time.Second)
	p.ProcessStopped(StopFailed, 15*time.Second)
	p.RunningProcesses(3)
	p.ProcessExited()
	p.LogEntryDropped()
	p.LogEntryDropped()

	assert.Equal(t, float64(1), testutil.ToFloat64(p.stops.WithLabelValues("forced")))
	assert.Equal(t, float64(3), testutil.ToFloat64(p.running))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.exits))
	assert.Equal(t, float64(2), testutil.ToFloat64(p.dropped))

	// Failed stops are not observed in the duration histogram.
	families, err := p.Registry().Gather()
	require.NoError(t, err)
	var samples uint64
	for _, mf := range families {
		if mf.GetName() == "test_engine_stop_duration_seconds" {
			samples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), samples)
}

func TestPrometheusProbes(t *testing.T) {
	p := NewPrometheus("")

	p.ProbeCompleted(true, 120*time.Millisecond)
	p.ProbeCompleted(false, 0)
	p.ProbeCompleted(false, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(p.probes.WithLabelValues("true")))
	assert.Equal(t, float64(2), testutil.ToFloat64(p.probes.WithLabelValues("false")))
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheus("test")
	p.ProcessStarted(StartOK)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_engine_starts_total{result="ok"} 1`)
}

func TestNop(t *testing.T) {
	c := OrNop(nil)
	c.ProcessStarted(StartOK)
	c.ProbeCompleted(true, time.Second)
	assert.Equal(t, Nop(), c)
}
