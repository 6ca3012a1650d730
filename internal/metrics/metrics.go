// Package metrics holds the Prometheus collectors of the relay and the endpoint.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dialtone"

type Metrics struct {
	relayMessages  *prometheus.CounterVec
	connections    prometheus.Gauge
	onlineUsers    prometheus.Gauge
	offlineNotify  *prometheus.CounterVec
	routes         prometheus.Gauge
	rateLimited    prometheus.Counter
	callsEnded     *prometheus.CounterVec
	candidateDrops prometheus.Counter
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		relayMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Signaling messages handled by the relay, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open signaling connections.",
		}),
		onlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "online_users",
			Help:      "Users with a live connection.",
		}),
		offlineNotify: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "offline_notifications_total",
			Help:      "Offline notifier invocations, by outcome.",
		}, []string{"outcome"}),
		routes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "routes",
			Help:      "Rooms currently bound to two participants.",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rate_limited_total",
			Help:      "start-call messages rejected by the per-user rate limit.",
		}),
		callsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "calls_ended_total",
			Help:      "Calls that reached the ended phase, by reason.",
		}, []string{"reason"}),
		candidateDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "candidate_failures_total",
			Help:      "Remote ICE candidates that failed to apply and were skipped.",
		}),
	}
}

func (m *Metrics) RelayMessage(kind, outcome string) {
	if m == nil {
		return
	}
	m.relayMessages.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}

func (m *Metrics) OfflineNotification(outcome string) {
	if m == nil {
		return
	}
	m.offlineNotify.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetRoutes(n int) {
	if m == nil {
		return
	}
	m.routes.Set(float64(n))
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) CallEnded(reason string) {
	if m == nil {
		return
	}
	m.callsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) CandidateFailed() {
	if m == nil {
		return
	}
	m.candidateDrops.Inc()
}
