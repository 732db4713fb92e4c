package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Collector with its own registry.
type Prometheus struct {
	starts       *prometheus.CounterVec
	stops        *prometheus.CounterVec
	stopDuration prometheus.Histogram
	exits        prometheus.Counter
	running      prometheus.Gauge
	dropped      prometheus.Counter
	probes       *prometheus.CounterVec
	probeLatency prometheus.Histogram

	registry *prometheus.Registry
}

// NewPrometheus creates a collector. An empty namespace defaults to "xraysup".
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "xraysup"
	}

	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_starts_total",
			Help:      "Engine start attempts by result",
		},
		[]string{"result"},
	)
	p.stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_stops_total",
			Help:      "Engine stops by mode",
		},
		[]string{"mode"},
	)
	p.stopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_stop_duration_seconds",
			Help:      "Time from stop request to confirmed exit",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 15},
		},
	)
	p.exits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_unexpected_exits_total",
			Help:      "Started engine processes that exited without a stop request",
		},
	)
	p.running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_processes",
			Help:      "Engine processes currently tracked",
		},
	)
	p.dropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_log_entries_dropped_total",
			Help:      "Engine log lines dropped because the queue was full",
		},
	)
	p.probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_probes_total",
			Help:      "Connectivity probes by outcome",
		},
		[]string{"success"},
	)
	p.probeLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connectivity_probe_latency_seconds",
			Help:      "Round-trip latency of successful probes",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		},
	)

	p.registry.MustRegister(
		p.starts,
		p.stops,
		p.stopDuration,
		p.exits,
		p.running,
		p.dropped,
		p.probes,
		p.probeLatency,
	)
	return p
}

func (p *Prometheus) ProcessStarted(result StartResult) {
	p.starts.WithLabelValues(string(result)).Inc()
}

func (p *Prometheus) ProcessStopped(mode StopMode, duration time.Duration) {
	p.stops.WithLabelValues(string(mode)).Inc()
	if mode != StopFailed {
		p.stopDuration.Observe(duration.Seconds())
	}
}

func (p *Prometheus) ProcessExited() {
	p.exits.Inc()
}

func (p *Prometheus) RunningProcesses(n int) {
	p.running.Set(float64(n))
}

func (p *Prometheus) LogEntryDropped() {
	p.dropped.Inc()
}

func (p *Prometheus) ProbeCompleted(success bool, latency time.Duration) {
	p.probes.WithLabelValues(strconv.FormatBool(success)).Inc()
	if success {
		p.probeLatency.Observe(latency.Seconds())
	}
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
