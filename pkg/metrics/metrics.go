// Package metrics registers the Prometheus collectors the scalper updates
// while running. They are served at /metrics by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EngineCycles counts poll cycles by the state they ran in.
	EngineCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_engine_cycles_total",
			Help: "Engine poll cycles by state",
		},
		[]string{"state"},
	)

	// CycleErrors counts cycles that ended early on a gateway or store error.
	CycleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scalper_cycle_errors_total",
			Help: "Poll cycles that ended with a logged error",
		},
	)

	// OrdersPlaced counts orders sent to the gateway.
	OrdersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_orders_total",
			Help: "Orders placed by side and leg",
		},
		[]string{"side", "leg"},
	)

	// BandBreaches counts forced exits after price left the band.
	BandBreaches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scalper_band_breaches_total",
			Help: "Forced market exits after a band breach",
		},
	)

	// FeedConnects counts successful feed (re)connections.
	FeedConnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scalper_feed_connects_total",
			Help: "Quote feed connections established",
		},
	)

	// TicksReceived counts touchline ticks applied to the cache.
	TicksReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scalper_ticks_received_total",
			Help: "Touchline ticks applied to the quote cache",
		},
	)

	// MTM exposes the current mark-to-market over open positions.
	MTM = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_mtm",
			Help: "Unrealized P&L across open positions",
		},
	)
)
