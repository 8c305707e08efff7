package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics exposes application-level instruments. A nil *Metrics is valid and
// records nothing, so services can take it as an optional dependency.
type Metrics struct {
	reconciles    *prometheus.CounterVec
	refunds       *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
}

// New registers the payment instruments on the default prometheus registry.
func New() (*Metrics, error) {
	m := &Metrics{
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_reconcile_total",
			Help: "Payment reconcile attempts by outcome.",
		}, []string{"outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_refund_total",
			Help: "Refund attempts by outcome.",
		}, []string{"outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_webhook_events_total",
			Help: "Gateway webhook notifications by reported status.",
		}, []string{"status"}),
	}

	for _, c := range []*prometheus.CounterVec{m.reconciles, m.refunds, m.webhookEvents} {
		if err := prometheus.Register(c); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			_ = already
		}
	}
	return m, nil
}

func (m *Metrics) RecordReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRefund(outcome string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordWebhookEvent(status string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(status).Inc()
}

// Module wires the prometheus instruments.
var Module = fx.Module("observability.metrics",
	fx.Provide(New),
)
