package sceneindex

import (
	"time"

	"github.com/aukilabs/sceneindex/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultLabel = "result"
)

var (
	indexPassEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sceneindex_pass_entries_total",
		Help: "The number of pending entries handled by frame maintenance passes, by result.",
	}, []string{resultLabel})

	indexPassLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sceneindex_pass_seconds",
		Help:    "The time to run a frame maintenance pass.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
	})

	indexOutOfBounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sceneindex_out_of_bounds_registrations_total",
		Help: "The number of objects registered outside of the static tree.",
	})

	indexStaleHandles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sceneindex_stale_handles_total",
		Help: "The number of stale handles filtered out of query results.",
	})
)

func instrumentPass(stats tracker.PassStats, duration time.Duration) {
	indexPassLatency.Observe(duration.Seconds())

	if stats.Popped == 0 {
		return
	}

	indexPassEntries.
		With(prometheus.Labels{resultLabel: "processed"}).
		Add(float64(stats.Processed - stats.Parked))
	indexPassEntries.
		With(prometheus.Labels{resultLabel: "parked"}).
		Add(float64(stats.Parked))
	indexPassEntries.
		With(prometheus.Labels{resultLabel: "requeued"}).
		Add(float64(stats.Requeued))
	indexPassEntries.
		With(prometheus.Labels{resultLabel: "dropped"}).
		Add(float64(stats.Dropped))
}

func instrumentOutOfBounds() {
	indexOutOfBounds.Inc()
}

func instrumentStaleHandle() {
	indexStaleHandles.Inc()
}
