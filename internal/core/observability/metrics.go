// Package observability holds the Prometheus collectors for commands, tile
// builds, tile serving and the map server sidecar.
package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shapetiles_commands_total",
			Help: "Dispatcher commands by verb and outcome.",
		},
		[]string{"verb", "outcome"},
	)

	commandDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shapetiles_command_duration_seconds",
			Help:    "Dispatcher command duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"verb", "outcome"},
	)

	tileBuildSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shapetiles_tile_build_duration_seconds",
			Help:    "Wall time of ogr2ogr tile archive builds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27m
		},
		[]string{"outcome"},
	)

	tilesServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shapetiles_tiles_served_total",
			Help: "Tile requests by outcome (hit, miss, empty, not_found, error).",
		},
		[]string{"outcome"},
	)

	previewRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shapetiles_preview_records_total",
			Help: "Records produced by the preview pipeline by outcome.",
		},
		[]string{"outcome"},
	)

	sidecarUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shapetiles_sidecar_running",
		Help: "1 while the map server sidecar process is alive.",
	})

	sidecarLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shapetiles_sidecar_log_lines_total",
			Help: "Lines relayed from the map server sidecar.",
		},
		[]string{"stream"},
	)

	cacheOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation latency by operation and result.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	tileCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_hits_total",
		Help: "Tile cache hits.",
	})

	tileCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tile_cache_misses_total",
		Help: "Tile cache misses.",
	})

	eventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shapetiles_events_consumed_total",
			Help: "archive.published events consumed by outcome.",
		},
		[]string{"outcome"},
	)

	sidecarProxySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shapetiles_sidecar_proxy_duration_seconds",
			Help:    "Latency of requests proxied to the map server sidecar.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"status"},
	)

	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shapetiles_events_dropped_total",
		Help: "Events dropped because the publish queue was full.",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		commandsTotal, commandDurationSeconds,
		tileBuildSeconds, tilesServed, previewRecords,
		sidecarUp, sidecarLines, sidecarProxySeconds,
		cacheOpSeconds, tileCacheHits, tileCacheMisses,
		eventsDropped, eventsConsumed,
	}
}

// Init registers every collector with reg. With enabled=false the Observe
// functions still work but nothing is exported.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCommand(verb string, ok bool, d time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	commandsTotal.WithLabelValues(verb, outcome).Inc()
	commandDurationSeconds.WithLabelValues(verb, outcome).Observe(d.Seconds())
}

func ObserveTileBuild(outcome string, d time.Duration) {
	tileBuildSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

func IncTileServed(outcome string) {
	tilesServed.WithLabelValues(outcome).Inc()
}

func AddPreviewRecords(outcome string, n int) {
	if n > 0 {
		previewRecords.WithLabelValues(outcome).Add(float64(n))
	}
}

func SetSidecarRunning(up bool) {
	if up {
		sidecarUp.Set(1)
		return
	}
	sidecarUp.Set(0)
}

func IncSidecarLine(stream string) {
	sidecarLines.WithLabelValues(stream).Inc()
}

func ObserveCacheOp(op string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpSeconds.WithLabelValues(op, result).Observe(seconds)
}

func AddCacheHits(n int) {
	if n > 0 {
		tileCacheHits.Add(float64(n))
	}
}

func AddCacheMisses(n int) {
	if n > 0 {
		tileCacheMisses.Add(float64(n))
	}
}

func IncEventsDropped() { eventsDropped.Inc() }

func IncEventsConsumed(outcome string) { eventsConsumed.WithLabelValues(outcome).Inc() }

func ObserveSidecarProxy(status int, seconds float64) {
	sidecarProxySeconds.WithLabelValues(strconv.Itoa(status)).Observe(seconds)
}
