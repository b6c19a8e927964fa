// Package metrics exposes the venue's Prometheus instruments.
//
// All recording methods are safe to call on a nil *Metrics so components
// can be constructed without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simexchange"

// Metrics holds every instrument registered by the venue.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	trades          *prometheus.CounterVec
	tradedQuantity  *prometheus.CounterVec
	matchDuration   *prometheus.HistogramVec
	matchFailures   *prometheus.CounterVec
	nettingEdges    *prometheus.HistogramVec
	simTicks        prometheus.Counter
	simRunning      prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

// New creates the instruments on a dedicated registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "submitted_total",
			Help: "Orders accepted into the book.",
		}, []string{"symbol", "side"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "rejected_total",
			Help: "Orders rejected at submission.",
		}, []string{"reason"}),
		ordersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "cancelled_total",
			Help: "Orders cancelled.",
		}, []string{"symbol"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "trades_total",
			Help: "Trades executed.",
		}, []string{"symbol"}),
		tradedQuantity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "traded_quantity_total",
			Help: "Shares traded.",
		}, []string{"symbol"}),
		matchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "match_duration_seconds",
			Help:    "Duration of one matching pass.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"symbol"}),
		matchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "match_failures_total",
			Help: "Matching passes aborted by a failed step.",
		}, []string{"symbol"}),
		nettingEdges: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "settlement", Name: "edges",
			Help:    "Edge count of settlement graphs by stage.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"stage"}),
		simTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "simulation", Name: "ticks_total",
			Help: "Simulation ticks completed.",
		}),
		simRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "simulation", Name: "running",
			Help: "1 while the market simulation is running.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "status"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "clients",
			Help: "Connected trade feed clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersSubmitted, m.ordersRejected, m.ordersCancelled,
		m.trades, m.tradedQuantity, m.matchDuration, m.matchFailures,
		m.nettingEdges, m.simTicks, m.simRunning, m.httpRequests, m.wsClients,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderSubmitted(symbol, side string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(symbol, side).Inc()
}

func (m *Metrics) OrderRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrderCancelled(symbol string) {
	if m == nil {
		return
	}
	m.ordersCancelled.WithLabelValues(symbol).Inc()
}

// TradeExecuted records one trade of qty shares.
func (m *Metrics) TradeExecuted(symbol string, qty int64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(symbol).Inc()
	m.tradedQuantity.WithLabelValues(symbol).Add(float64(qty))
}

// MatchPass records the duration of a matching pass and whether it failed.
func (m *Metrics) MatchPass(symbol string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.matchDuration.WithLabelValues(symbol).Observe(d.Seconds())
	if failed {
		m.matchFailures.WithLabelValues(symbol).Inc()
	}
}

// SettlementEdges records the edge count of a graph at a netting stage.
func (m *Metrics) SettlementEdges(stage string, n int) {
	if m == nil {
		return
	}
	m.nettingEdges.WithLabelValues(stage).Observe(float64(n))
}

func (m *Metrics) SimulationTick() {
	if m == nil {
		return
	}
	m.simTicks.Inc()
}

func (m *Metrics) SimulationRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.simRunning.Set(1)
	} else {
		m.simRunning.Set(0)
	}
}

func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
}

func (m *Metrics) WSClients(delta int) {
	if m == nil {
		return
	}
	m.wsClients.Add(float64(delta))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
