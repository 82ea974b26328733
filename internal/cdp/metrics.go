package cdp

import "github.com/prometheus/client_golang/prometheus"

// Scope labels distinguish browser-level traffic from session traffic.
const (
	scopeBrowser = "browser"
	scopeSession = "session"
)

// Drop reasons for inbound frames that were not delivered.
const (
	dropDecode         = "decode"
	dropUnknownID      = "unknown_id"
	dropUnknownSession = "unknown_session"
)

// Metrics holds the Prometheus collectors for one connection.
// A nil *Metrics records nothing.
type Metrics struct {
	commands *prometheus.CounterVec
	acks     *prometheus.CounterVec
	events   *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	pending  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpmux",
			Name:      "commands_sent_total",
			Help:      "Commands written, by scope.",
		}, []string{"scope"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpmux",
			Name:      "acks_received_total",
			Help:      "Command acknowledgements matched to a waiting caller, by scope.",
		}, []string{"scope"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpmux",
			Name:      "events_received_total",
			Help:      "Protocol events received, by scope.",
		}, []string{"scope"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpmux",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded, by reason.",
		}, []string{"reason"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpmux",
			Name:      "command_timeouts_total",
			Help:      "Commands abandoned after their deadline, by scope.",
		}, []string{"scope"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cdpmux",
			Name:      "commands_pending",
			Help:      "Commands waiting for an acknowledgement, by scope.",
		}, []string{"scope"}),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.acks, m.events, m.dropped, m.timeouts, m.pending)
	}
	return m
}

func (m *Metrics) commandSent(scope string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(scope).Inc()
	m.pending.WithLabelValues(scope).Inc()
}

func (m *Metrics) commandDone(scope string, timedOut bool) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(scope).Dec()
	if timedOut {
		m.timeouts.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) ackReceived(scope string) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(scope).Inc()
}

func (m *Metrics) eventReceived(scope string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(scope).Inc()
}

func (m *Metrics) frameDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}
