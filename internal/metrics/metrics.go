// Package metrics exposes Prometheus metrics the engine updates during
// operation, served in text exposition format at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Orders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niftyshop_orders_total",
			Help: "Orders placed, by account, side and outcome (filled|unconfirmed|rejected).",
		},
		[]string{"account", "side", "outcome"},
	)

	Cycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niftyshop_cycles_total",
			Help: "Strategy cycles, by account and status (completed|failed|skipped).",
		},
		[]string{"account", "status"},
	)

	ReconcileActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niftyshop_reconcile_actions_total",
			Help: "Manual-close placeholders synthesized by reconciliation.",
		},
		[]string{"account"},
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niftyshop_api_retries_total",
			Help: "Broker API retries, split by rate-limited vs transient.",
		},
		[]string{"call", "reason"},
	)

	OpenPositions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "niftyshop_open_positions",
			Help: "Open positions per account at the end of the last cycle.",
		},
		[]string{"account"},
	)

	AvailableFunds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "niftyshop_available_funds",
			Help: "Broker-reported available balance at the end of the last cycle.",
		},
		[]string{"account"},
	)
)
