package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// confirmationsTotal counts state-machine outcomes by kind.
	confirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_confirmations_total",
			Help: "Confirmation flow outcomes.",
		},
		[]string{"outcome"},
	)

	// reconcilerActions counts applied moderation actions.
	reconcilerActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_reconciler_actions_total",
			Help: "Moderation actions applied by the reconciler.",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(confirmationsTotal, reconcilerActions)
}
