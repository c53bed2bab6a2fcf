package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homedash_openweather_calls_total",
			Help: "Total OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homedash_openweather_latency_seconds",
			Help:    "OpenWeatherMap API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ForecastDaysAggregated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "homedash_forecast_days_aggregated_total",
			Help: "Total daily summaries produced from raw forecast samples",
		},
	)

	DeviceCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homedash_device_commands_total",
			Help: "Total device control commands",
		},
		[]string{"command", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homedash_http_requests_total",
			Help: "Total HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)
