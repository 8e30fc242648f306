// Package metrics registers the operational metrics of the execution plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrderAttempts counts order placement attempts per venue
	OrderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_order_attempts_total",
		Help: "Order placement attempts per venue",
	}, []string{"venue"})

	// OrderSuccesses counts successful order placements per venue
	OrderSuccesses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_order_successes_total",
		Help: "Successful order placements per venue",
	}, []string{"venue"})

	// OrderFailures counts failed order placements per venue
	OrderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_order_failures_total",
		Help: "Failed order placements per venue",
	}, []string{"venue"})

	// RetryCount tracks how many retries each venue call needed
	RetryCount = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trader_venue_retries",
		Help:    "Retries per venue request",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7},
	}, []string{"venue"})

	// OcoEmulationFallbacks counts OCO placements emulated as two legs
	OcoEmulationFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_oco_emulation_fallbacks_total",
		Help: "OCO orders emulated as separate limit and stop legs",
	}, []string{"venue"})

	// CacheHits counts symbol info cache hits
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_symbolinfo_cache_hits_total",
		Help: "Symbol info cache hits",
	})

	// CacheMisses counts symbol info cache misses
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_symbolinfo_cache_misses_total",
		Help: "Symbol info cache misses",
	})

	// ReconciliationDrift counts order-state drift detected during sync
	ReconciliationDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_reconciliation_drift_total",
		Help: "Order status changes discovered during reconciliation",
	}, []string{"venue"})

	// PortfolioEquity tracks the latest portfolio equity
	PortfolioEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_portfolio_equity",
		Help: "Current portfolio equity",
	})
)
