package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketpulse"

var (
	PollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_total",
		Help:      "Snapshot poll cycles by result (ok|error).",
	}, []string{"result"})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_duration_seconds",
		Help:      "Duration of a snapshot poll cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	WorkingSetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "working_set_instruments",
		Help:      "Instruments in the current working set.",
	})

	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Alerts emitted by kind.",
	}, []string{"kind"})

	RuleSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_skips_total",
		Help:      "Rules skipped because a denominator was absent or zero.",
	}, []string{"kind"})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Cache reads by cache name and result (hit|stale|miss|error).",
	}, []string{"cache", "result"})

	CacheRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_refreshes_total",
		Help:      "Background refreshes by cache name and result (ok|error).",
	}, []string{"cache", "result"})

	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_frames_total",
		Help:      "Push-feed frames by direction and type.",
	}, []string{"direction", "type"})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_reconnects_total",
		Help:      "Push-feed (re)connections established.",
	})

	LookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookup_total",
		Help:      "Lookup requests by kind and outcome (ok|stale|debounced|error).",
	}, []string{"kind", "outcome"})

	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_publish_total",
		Help:      "Alerts broadcast over NATS by result (ok|error|suppressed).",
	}, []string{"result"})

	ArchiveRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_rows_total",
		Help:      "Alert rows handed to ClickHouse by result (ok|dropped|error).",
	}, []string{"result"})

	CycleAlerts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_alerts",
		Help:      "Alerts produced per committed poll cycle.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
