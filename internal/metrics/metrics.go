package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weathertracker_provider_calls_total",
			Help: "Total OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weathertracker_provider_latency_seconds",
			Help:    "OpenWeatherMap API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weathertracker_batches_total",
			Help: "Weather batches by outcome (ok, error, stale)",
		},
		[]string{"outcome"},
	)

	CityFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weathertracker_city_fetches_total",
			Help: "Per-city fetch attempts within batches",
		},
		[]string{"result"},
	)

	SnapshotQualityFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weathertracker_snapshot_quality_flags_total",
			Help: "Snapshots flagged by validation",
		},
		[]string{"flag"},
	)

	TrackedCities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "weathertracker_tracked_cities",
			Help: "Number of currently tracked cities",
		},
	)
)
