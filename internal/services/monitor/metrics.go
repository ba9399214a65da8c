package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricewatch_runs_total", Help: "Monitor runs by result",
	}, []string{"result"})
	mRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricewatch_run_duration_seconds",
		Help:    "Duration of one monitor run",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})
	mItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricewatch_items_total", Help: "Items processed by result",
	}, []string{"result"})
	mOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricewatch_fetch_outcomes_total", Help: "Price observations by outcome",
	}, []string{"outcome"})
	mSourceCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricewatch_source_calls_total", Help: "Calls that reached the price source",
	})
	mCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricewatch_cache_requests_total", Help: "Price cache lookups",
	}, []string{"result"})
	mCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricewatch_cache_evictions_total", Help: "Price cache evictions and expirations",
	})
)
