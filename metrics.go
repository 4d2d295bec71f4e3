package dxp

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts protocol traffic. A nil *Metrics records nothing.
type Metrics struct {
	messages  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	connected prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dxp",
			Name:      "messages_total",
			Help:      "Messages sent and received, by kind.",
		}, []string{"direction", "kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dxp",
			Name:      "decode_failures_total",
			Help:      "Fatal receive-side failures, by reason.",
		}, []string{"reason"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dxp",
			Name:      "sessions_connected",
			Help:      "Sessions with an established transport.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.failures, m.connected)
	}
	return m
}

func (m *Metrics) message(d Direction, op Opcode) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(d.String(), op.String()).Inc()
}

func (m *Metrics) failure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

func (m *Metrics) sessionUp() {
	if m == nil {
		return
	}
	m.connected.Inc()
}

func (m *Metrics) sessionDown() {
	if m == nil {
		return
	}
	m.connected.Dec()
}
