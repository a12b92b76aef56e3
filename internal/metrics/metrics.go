// Package metrics exposes Prometheus collectors fed by the datastore
// adapter's per-event log (spec.md §4.4). This is ambient observability,
// not a replacement for that event log — the adapter still keeps its own
// Events() history independent of whether anything scrapes these.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hxhim",
		Subsystem: "datastore",
		Name:      "ops_total",
		Help:      "Number of bulk operations dispatched per datastore and kind.",
	}, []string{"datastore_id", "op"})

	opEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hxhim",
		Subsystem: "datastore",
		Name:      "op_entries_total",
		Help:      "Number of individual slots processed per datastore and kind.",
	}, []string{"datastore_id", "op"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hxhim",
		Subsystem: "datastore",
		Name:      "op_duration_seconds",
		Help:      "Wall time spent executing one bulk operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"datastore_id", "op"})
)

func init() {
	prometheus.MustRegister(opTotal, opEntries, opDuration)
}

// ObserveDatastoreOp records one bulk operation's size and duration.
func ObserveDatastoreOp(datastoreID int64, op string, entryCount int, duration time.Duration) {
	labels := prometheus.Labels{"datastore_id": strconv.FormatInt(datastoreID, 10), "op": op}
	opTotal.With(labels).Inc()
	opEntries.With(labels).Add(float64(entryCount))
	opDuration.With(labels).Observe(duration.Seconds())
}
