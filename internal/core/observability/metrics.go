package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultDataset = "default"

var datasetLabel atomic.Value

func init() {
	datasetLabel.Store(defaultDataset)
	prometheus.MustRegister(all()...)
}

// SetDataset sets the dataset label attached to request and render metrics.
func SetDataset(s string) {
	if s == "" {
		s = defaultDataset
	}
	datasetLabel.Store(s)
}

func getDataset() string {
	if v := datasetLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return defaultDataset
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "dataset"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "dataset"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "dataset"},
	)

	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Remote file downloads by outcome.",
		},
		[]string{"outcome"},
	)

	downloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "download_bytes_total",
			Help: "Bytes written by remote file downloads.",
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of load, normalize and render stages.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"stage", "dataset"},
	)

	stageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_errors_total",
			Help: "Pipeline failures by stage.",
		},
		[]string{"stage"},
	)

	datasetLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_loads_total",
			Help: "Dataset loads by outcome.",
		},
		[]string{"outcome", "dataset"},
	)

	datasetInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dataset_info",
			Help: "Active dataset and version; the value is always 1.",
		},
		[]string{"dataset", "version"},
	)

	reloadPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reload_events_published_total",
			Help: "Reload events announced to other replicas by result.",
		},
		[]string{"op", "result"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache results by tier and outcome.",
		},
		[]string{"tier", "outcome", "dataset"},
	)

	reloadEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reload_events_total",
			Help: "Reload events consumed by result.",
		},
		[]string{"op", "result"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	d := getDataset()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, d).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, d).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, getDataset()).Observe(durationSeconds)
}

// ObserveDownload records a finished download; n is ignored on failure.
func ObserveDownload(ok bool, n int64) {
	if !ok {
		downloadsTotal.WithLabelValues("error").Inc()
		return
	}
	downloadsTotal.WithLabelValues("ok").Inc()
	downloadBytesTotal.Add(float64(n))
}

func ObserveStage(stage string, durationSeconds float64) {
	stageDurationSeconds.WithLabelValues(stage, getDataset()).Observe(durationSeconds)
}

func IncStageError(stage string) {
	stageErrorsTotal.WithLabelValues(stage).Inc()
}

func IncDatasetLoad(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	datasetLoadsTotal.WithLabelValues(outcome, getDataset()).Inc()
}

func IncCacheHit(tier string) {
	cacheResults.WithLabelValues(tier, "hit", getDataset()).Inc()
}

func IncCacheMiss(tier string) {
	cacheResults.WithLabelValues(tier, "miss", getDataset()).Inc()
}

func IncReloadEvent(op, result string) {
	reloadEventsTotal.WithLabelValues(op, result).Inc()
}

// SetActiveDataset replaces the dataset_info series with the active version.
func SetActiveDataset(name, version string) {
	datasetInfo.Reset()
	datasetInfo.WithLabelValues(name, version).Set(1)
}

func IncReloadPublished(op, result string) {
	reloadPublishedTotal.WithLabelValues(op, result).Inc()
}

var (
	cacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis cache operations by result.",
		},
		[]string{"op", "result"},
	)

	redisOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		downloadsTotal, downloadBytesTotal,
		stageDurationSeconds, stageErrorsTotal, datasetLoadsTotal,
		cacheResults, reloadEventsTotal, reloadPublishedTotal, datasetInfo,
		cacheOpsTotal, redisOpDurationSeconds,
	}
}

// Init registers every collector of this package on reg in addition to the
// default registry. Calling it again with the same registry is a no-op.
func Init(reg prometheus.Registerer) {
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpsTotal.WithLabelValues(op, result).Inc()
	redisOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}
