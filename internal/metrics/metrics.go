// Package metrics exposes sync client counters to prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgersync"

// Frame results.
const (
	FrameApplied   = "applied"
	FrameMalformed = "malformed"
	FrameIgnored   = "ignored"
	FrameStale     = "stale"
)

var connStates = []types.ConnState{
	types.ConnIdle,
	types.ConnConnecting,
	types.ConnConnected,
	types.ConnDisconnected,
}

// Metrics holds the client's collectors.
type Metrics struct {
	frames     *prometheus.CounterVec
	reconnects prometheus.Counter
	polls      prometheus.Counter
	connState  *prometheus.GaugeVec
	fetches    *prometheus.CounterVec
	unread     prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Stream frames received, by result.",
		}, []string{"result"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Stream reconnect attempts.",
		}),
		polls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_polls_total",
			Help:      "Reconciliation polls made while the stream is failing.",
		}),
		connState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current stream connection state.",
		}, []string{"state"}),
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Request/response fetches, by kind and result.",
		}, []string{"kind", "result"}),
		unread: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unread",
			Help:      "Current unread badge count.",
		}),
	}
}

// Handler serves the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Frame(result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(result).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Poll() {
	if m == nil {
		return
	}
	m.polls.Inc()
}

func (m *Metrics) ConnState(state types.ConnState) {
	if m == nil {
		return
	}
	for _, candidate := range connStates {
		value := 0.0
		if candidate == state {
			value = 1
		}
		m.connState.WithLabelValues(string(candidate)).Set(value)
	}
}

// Fetch records one fetch of kind (roster, context, tail, window, group).
func (m *Metrics) Fetch(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Unread(count int) {
	if m == nil {
		return
	}
	m.unread.Set(float64(count))
}
