// Package metrics exposes the runtime's Prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatbot"

// Metrics groups every collector the bot updates. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	messages       *prometheus.CounterVec
	malformed      prometheus.Counter
	reconnects     *prometheus.CounterVec
	handovers      prometheus.Counter
	connsOpened    prometheus.Counter
	connsLost      *prometheus.CounterVec
	subCreates     *prometheus.CounterVec
	subscriptions  prometheus.Gauge
	apiCalls       *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	listenerPanics prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventsub", Name: "messages_total",
			Help: "Event bus messages received, by message type.",
		}, []string{"type"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventsub", Name: "malformed_messages_total",
			Help: "Event bus frames dropped because they failed validation.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventsub", Name: "reconnects_total",
			Help: "Reconnects started, by reason.",
		}, []string{"reason"}),
		handovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventsub", Name: "handovers_total",
			Help: "Completed connection handovers.",
		}),
		connsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventsub", Name: "connections_opened_total",
			Help: "Websocket connections established, including replacements.",
		}),
		connsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventsub", Name: "connections_lost_total",
			Help: "Tracked connections that ended without a handover, by read error kind.",
		}, []string{"kind"}),
		subCreates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventsub", Name: "subscription_creates_total",
			Help: "Subscription create attempts, by result.",
		}, []string{"result"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "eventsub", Name: "subscriptions",
			Help: "Subscriptions currently tracked.",
		}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "helix", Name: "requests_total",
			Help: "Platform API requests, by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "credential", Name: "refreshes_total",
			Help: "Access token refreshes, by result.",
		}, []string{"result"}),
		listenerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventsub", Name: "handler_panics_total",
			Help: "Panics recovered while handling a message.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.messages, m.malformed, m.reconnects, m.handovers,
			m.connsOpened, m.connsLost,
			m.subCreates, m.subscriptions, m.apiCalls, m.tokenRefreshes,
			m.listenerPanics,
		)
	}
	return m
}

func (m *Metrics) MessageReceived(messageType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(messageType).Inc()
}

func (m *Metrics) MessageMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) ReconnectStarted(reason string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) HandoverCompleted() {
	if m == nil {
		return
	}
	m.handovers.Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connsOpened.Inc()
}

func (m *Metrics) ConnectionLost(kind string) {
	if m == nil {
		return
	}
	m.connsLost.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriptionCreate(ok bool) {
	if m == nil {
		return
	}
	m.subCreates.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) SubscriptionsTracked(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *Metrics) APICall(endpoint string, status int) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.apiCalls.WithLabelValues(endpoint, code).Inc()
}

func (m *Metrics) TokenRefresh(ok bool) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) HandlerPanic() {
	if m == nil {
		return
	}
	m.listenerPanics.Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
