package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aero_pairing"

// Rate limiter names used as the limiter label.
const (
	LimiterConnection = "connection"
	LimiterMessage    = "message"
	LimiterFrame      = "frame"
)

// Metrics owns a private Prometheus registry with the coordinator's collectors.
// A nil *Metrics is valid and records nothing, which keeps tests and tools
// that do not care about metrics free of setup.
type Metrics struct {
	reg *prometheus.Registry

	events      *prometheus.CounterVec
	matches     prometheus.Counter
	terminated  *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	dropped     *prometheus.CounterVec

	online   prometheus.Gauge
	waiting  prometheus.Gauge
	chatting prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound duplex channel events accepted, by event name.",
		}, []string{"event"}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Rooms formed by the pairing engine.",
		}),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_terminated_total",
			Help:      "Rooms torn down, by reason.",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter.",
		}, []string{"limiter"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Inbound events dropped without delivery, by reason.",
		}, []string{"reason"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "Live duplex connections.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting",
			Help:      "Connections waiting in the queue.",
		}),
		chatting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chatting",
			Help:      "Connections currently in a room.",
		}),
	}
	m.reg.MustRegister(
		m.events, m.matches, m.terminated, m.rateLimited, m.dropped,
		m.online, m.waiting, m.chatting,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

func (m *Metrics) Match() {
	if m == nil {
		return
	}
	m.matches.Inc()
}

func (m *Metrics) Terminated(reason string) {
	if m == nil {
		return
	}
	m.terminated.WithLabelValues(reason).Inc()
}

func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(limiter).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// SetStats publishes the current online/waiting/chatting counts.
func (m *Metrics) SetStats(online, waiting, chatting int) {
	if m == nil {
		return
	}
	m.online.Set(float64(online))
	m.waiting.Set(float64(waiting))
	m.chatting.Set(float64(chatting))
}
