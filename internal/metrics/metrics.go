// Package metrics holds the Prometheus collectors the trader updates while
// running. They are registered on the default registry in init() and served
// by the ops HTTP server at /metrics.
//
//   - trader_orders_total{side,channel}     orders accepted by the broker
//   - trader_triggers_total{entry_type}     entry triggers fired
//   - trader_stops_total{tier}              stop-loss exits (lot|position|close)
//   - trader_rejections_total{reason}       orders or intents refused
//   - trader_tick_duration_seconds          decision loop latency
//   - trader_price_cache_age_seconds        age of the oldest cached quote
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Orders accepted by the broker",
		},
		[]string{"side", "channel"},
	)

	mtxTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_triggers_total",
			Help: "Entry triggers fired",
		},
		[]string{"entry_type"}, // breakout|gap_up|pyramid
	)

	mtxStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_stops_total",
			Help: "Stop-loss exits split by tier",
		},
		[]string{"tier"},
	)

	mtxRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_rejections_total",
			Help: "Order intents refused, by reason",
		},
		[]string{"reason"},
	)

	mtxTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trader_tick_duration_seconds",
			Help:    "Duration of one decision loop tick",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	mtxPriceCacheAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_price_cache_age_seconds",
			Help: "Age of the oldest quote in the price cache",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxTriggers, mtxStops, mtxRejections)
	prometheus.MustRegister(mtxTickDuration, mtxPriceCacheAge)
}

func IncOrder(side, channel string)    { mtxOrders.WithLabelValues(side, channel).Inc() }
func IncTrigger(entryType string)      { mtxTriggers.WithLabelValues(entryType).Inc() }
func IncStop(tier string)              { mtxStops.WithLabelValues(tier).Inc() }
func IncRejection(reason string)       { mtxRejections.WithLabelValues(reason).Inc() }
func ObserveTick(d time.Duration)      { mtxTickDuration.Observe(d.Seconds()) }
func SetPriceCacheAge(d time.Duration) { mtxPriceCacheAge.Set(d.Seconds()) }
