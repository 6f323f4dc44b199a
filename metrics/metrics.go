// Package metrics exposes the daemon's prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coinwatch"

var (
	metricsInitOnce sync.Once
	sharedMetrics   *collectors
)

type collectors struct {
	registry *prometheus.Registry

	poolSize         prometheus.Gauge
	probeFailures    prometheus.Counter
	peerRemovals     prometheus.Counter
	peerReplacements *prometheus.CounterVec

	tickDuration   prometheus.Histogram
	ticksSkipped   prometheus.Counter
	syncFailures   prometheus.Counter
	coinStateTotal *prometheus.CounterVec

	reservationsLive prometheus.Gauge
	selections       *prometheus.CounterVec
}

func get() *collectors {
	metricsInitOnce.Do(func() {
		c := &collectors{
			registry: prometheus.NewRegistry(),
			poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "peer_pool_size",
				Help:      "Number of live peers held by the pool.",
			}),
			probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "peer_probe_failures_total",
				Help:      "Height probes that failed or timed out.",
			}),
			peerRemovals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "peer_removals_total",
				Help:      "Peers removed after a failed operation.",
			}),
			peerReplacements: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "peer_replacements_total",
					Help:      "Replacement dials by outcome.",
				}, []string{"result"},
			),
			tickDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "reconcile_tick_seconds",
					Help:      "Duration of reconciliation ticks.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_ticks_skipped_total",
				Help:      "Ticks dropped because a tick was running.",
			}),
			syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_address_failures_total",
				Help:      "Per-address reconciliation failures.",
			}),
			coinStateTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "coin_state_updates_total",
					Help:      "Coin status transitions by status.",
				}, []string{"status"},
			),
			reservationsLive: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reservations_live",
				Help:      "Unexpired coin reservations.",
			}),
			selections: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "coin_selections_total",
					Help:      "Coin selection outcomes.",
				}, []string{"result"},
			),
		}
		c.registry.MustRegister(
			c.poolSize, c.probeFailures, c.peerRemovals,
			c.peerReplacements, c.tickDuration, c.ticksSkipped,
			c.syncFailures, c.coinStateTotal, c.reservationsLive,
			c.selections,
			prometheus.NewGoCollector(),
		)
		sharedMetrics = c
	})

	return sharedMetrics
}

// SetPoolSize records the number of live peers.
func SetPoolSize(n int) {
	get().poolSize.Set(float64(n))
}

// ProbeFailed counts a failed height probe.
func ProbeFailed() {
	get().probeFailures.Inc()
}

// PeerRemoved counts a peer evicted by failover.
func PeerRemoved() {
	get().peerRemovals.Inc()
}

// PeerReplaced counts a replacement dial.
func PeerReplaced(ok bool) {
	result := "failed"
	if ok {
		result = "connected"
	}
	get().peerReplacements.WithLabelValues(result).Inc()
}

// ObserveTick records the duration of a reconciliation tick.
func ObserveTick(d time.Duration) {
	get().tickDuration.Observe(d.Seconds())
}

// TickSkipped counts a tick that was dropped.
func TickSkipped() {
	get().ticksSkipped.Inc()
}

// AddressSyncFailed counts a failed per-address reconciliation.
func AddressSyncFailed() {
	get().syncFailures.Inc()
}

// CoinStateUpdated counts a coin status transition.
func CoinStateUpdated(status string) {
	get().coinStateTotal.WithLabelValues(status).Inc()
}

// SetReservationsLive records the number of unexpired reservations.
func SetReservationsLive(n int) {
	get().reservationsLive.Set(float64(n))
}

// SelectionResult counts a coin selection outcome.
func SelectionResult(result string) {
	get().selections.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(get().registry, promhttp.HandlerOpts{})
}
