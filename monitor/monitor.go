// monitor/monitor.go
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/session"
)

type Metrics struct {
	OnlineConnections  *prometheus.GaugeVec
	ActiveRooms        prometheus.Gauge
	SeatMutations      *prometheus.CounterVec
	MutationLatency    *prometheus.HistogramVec
	BroadcastDelivered *prometheus.CounterVec
	BroadcastDropped   *prometheus.CounterVec
	MessagesReceived   *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		OnlineConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_connections",
			Help:      "Number of live connections by type",
		}, []string{"type"}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms created and not deleted",
		}),
		SeatMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Coordinator operations by result code",
		}, []string{"op", "result"}),
		MutationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_latency_seconds",
			Help:      "Coordinator operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		BroadcastDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_delivered_total",
			Help:      "Events enqueued to live connections",
		}, []string{"event"}),
		BroadcastDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Events dropped on full or closed connections",
		}, []string{"event"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound websocket messages by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.OnlineConnections,
		m.ActiveRooms,
		m.SeatMutations,
		m.MutationLatency,
		m.BroadcastDelivered,
		m.BroadcastDropped,
		m.MessagesReceived,
	}
}

// Monitor owns a private registry so several instances can coexist in tests.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
}

func NewMonitor(namespace string) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace),
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}
	m.registry.MustRegister(m.metrics.collectors()...)
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the process started",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	}))
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveMutation records a coordinator operation.
func (m *Monitor) ObserveMutation(op string, code errs.Code, took time.Duration) {
	result := string(code)
	if result == "" {
		result = "ok"
	}
	m.metrics.SeatMutations.WithLabelValues(op, result).Inc()
	m.metrics.MutationLatency.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Monitor) RoomsChanged(delta int) {
	m.metrics.ActiveRooms.Add(float64(delta))
}

func (m *Monitor) SetActiveRooms(count int) {
	m.metrics.ActiveRooms.Set(float64(count))
}

// ObserveBroadcast records one fan-out.
func (m *Monitor) ObserveBroadcast(eventType string, delivered, dropped int) {
	m.metrics.BroadcastDelivered.WithLabelValues(eventType).Add(float64(delivered))
	if dropped > 0 {
		m.metrics.BroadcastDropped.WithLabelValues(eventType).Add(float64(dropped))
	}
}

func (m *Monitor) IncMessagesReceived(msgType string) {
	m.metrics.MessagesReceived.WithLabelValues(msgType).Inc()
}

// SetConnections publishes live connection counts per type.
func (m *Monitor) SetConnections(counts map[session.ConnectionType]int) {
	for connType, n := range counts {
		m.metrics.OnlineConnections.WithLabelValues(string(connType)).Set(float64(n))
	}
}
