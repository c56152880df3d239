package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Prometheus metrics
	publishedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumppulse_events_published_total",
		Help: "Token events published to the feed, by source",
	}, []string{"source"})

	skippedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumppulse_events_skipped_total",
		Help: "Upstream messages skipped by the normalizer, by source and reason",
	}, []string{"source", "reason"})

	reconnectsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pumppulse_source_reconnects_total",
		Help: "Source reconnect attempts after a transport failure",
	}, []string{"source"})

	connectedMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pumppulse_source_connected",
		Help: "1 when the source's supervisor is in the connected state",
	}, []string{"source"})

	subscribersMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pumppulse_stream_subscribers",
		Help: "Currently attached feed subscribers",
	})

	feedSizeMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pumppulse_feed_size",
		Help: "Events currently held by the bounded feed",
	})

	droppedSubscribersMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pumppulse_dropped_subscribers_total",
		Help: "Subscribers dropped because their delivery buffer was full",
	})

	pollCyclesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pumppulse_poll_cycles_total",
		Help: "Completed REST listing poll cycles",
	})

	pollErrorsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pumppulse_poll_errors_total",
		Help: "Failed REST listing poll cycles",
	})

	// Internal counters for /health
	publishedTotal uint64
	skippedTotal   uint64
	lastPublished  atomic.Int64
	startTime      = time.Now()
)

func IncrementPublished(source string) {
	atomic.AddUint64(&publishedTotal, 1)
	lastPublished.Store(time.Now().UnixMilli())
	publishedMetric.WithLabelValues(source).Inc()
}

func IncrementSkipped(source, reason string) {
	atomic.AddUint64(&skippedTotal, 1)
	skippedMetric.WithLabelValues(source, reason).Inc()
}

func IncrementReconnects(source string) {
	reconnectsMetric.WithLabelValues(source).Inc()
}

func SetConnected(source string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	connectedMetric.WithLabelValues(source).Set(v)
}

func SetSubscribers(n int) {
	subscribersMetric.Set(float64(n))
}

func SetFeedSize(n int) {
	feedSizeMetric.Set(float64(n))
}

func IncrementDroppedSubscribers() {
	droppedSubscribersMetric.Inc()
}

func IncrementPollCycles() {
	pollCyclesMetric.Inc()
}

func IncrementPollErrors() {
	pollErrorsMetric.Inc()
}

func GetStats() (uint64, uint64, time.Time, time.Duration) {
	last := time.UnixMilli(lastPublished.Load())
	return atomic.LoadUint64(&publishedTotal),
		atomic.LoadUint64(&skippedTotal),
		last,
		time.Since(startTime)
}
