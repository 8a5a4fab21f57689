package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/puppy/internal/repl"
	"github.com/user/puppy/internal/sink"
	"github.com/user/puppy/internal/textcodec"
)

// Pane kinds used as label values.
const (
	KindProcess = "process"
	KindREPL    = "repl"
)

type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted *prometheus.CounterVec
	SpawnFailures   prometheus.Counter
	OutputBytes     *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec
	DevicesLost     prometheus.Counter
	RunningPrograms prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puppy",
			Name:      "sessions_started_total",
			Help:      "Program runs and REPL connections started.",
		}, []string{"kind"}),
		SpawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "puppy",
			Name:      "spawn_failures_total",
			Help:      "Interpreter launches that failed to start.",
		}),
		OutputBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puppy",
			Name:      "output_bytes_total",
			Help:      "Decoded text bytes appended to panes.",
		}, []string{"kind"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puppy",
			Name:      "decode_errors_total",
			Help:      "Output chunks that were not valid in the configured encoding.",
		}, []string{"kind"}),
		DevicesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "puppy",
			Name:      "devices_lost_total",
			Help:      "Serial connections that ended because the device went away.",
		}),
		RunningPrograms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "puppy",
			Name:      "running_programs",
			Help:      "Programs currently running.",
		}),
	}
	m.registry.MustRegister(
		m.SessionsStarted,
		m.SpawnFailures,
		m.OutputBytes,
		m.DecodeErrors,
		m.DevicesLost,
		m.RunningPrograms,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Sink counts what flows into s. The result is always a Reporter so that
// failures are counted before being rendered by s.
func (m *Metrics) Sink(s sink.TextSink, kind string) sink.TextSink {
	return &countingSink{next: s, m: m, kind: kind}
}

type countingSink struct {
	next sink.TextSink
	m    *Metrics
	kind string
}

func (c *countingSink) Append(text string) {
	c.m.OutputBytes.WithLabelValues(c.kind).Add(float64(len(text)))
	c.next.Append(text)
}

func (c *countingSink) Clear() {
	c.next.Clear()
}

func (c *countingSink) Report(err error) {
	var decodeErr *textcodec.DecodeError
	var lostErr *repl.DeviceLostError
	switch {
	case errors.As(err, &decodeErr):
		c.m.DecodeErrors.WithLabelValues(c.kind).Inc()
	case errors.As(err, &lostErr):
		c.m.DevicesLost.Inc()
	}
	sink.Fail(c.next, err)
}
