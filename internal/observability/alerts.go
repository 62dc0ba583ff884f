// Package observability wires tracing and operator-facing alerting. This
// file defines the AlertSink consumed by the sweeper and a Prometheus-backed
// implementation.
//
// An alert is an operator signal, not a user-facing error: the counter feeds
// dashboards/paging rules, while the full label set (which may be high
// cardinality, e.g. refund keys) goes to the structured log instead of the
// metric.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// AlertSink receives named operational alerts with contextual labels.
type AlertSink interface {
	RecordAlert(name string, labels map[string]string)
}

// alertsTotal counts alerts by name only, keeping metric cardinality bounded.
var alertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "credit_alerts_total",
		Help: "Total number of operational alerts raised, by alert name.",
	},
	[]string{"alert"},
)

func init() {
	prometheus.MustRegister(alertsTotal)
}

// PrometheusAlertSink increments the alert counter and logs the full label
// set at error level.
type PrometheusAlertSink struct {
	Log zerolog.Logger
}

// RecordAlert implements AlertSink.
func (s PrometheusAlertSink) RecordAlert(name string, labels map[string]string) {
	alertsTotal.WithLabelValues(name).Inc()
	ev := s.Log.Error().Str("alert", name)
	for k, v := range labels {
		ev = ev.Str(k, v)
	}
	ev.Msg("operational alert")
}
