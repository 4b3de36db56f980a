package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epipolar_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epipolar_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Estimation metrics
	estimationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epipolar_estimations_total",
			Help: "Total number of estimations by outcome",
		},
		[]string{"method", "source", "outcome"}, // outcome: success or an error type
	)

	estimationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epipolar_estimation_duration_seconds",
			Help:    "Estimation duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method"},
	)

	inlierRatio = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epipolar_inlier_ratio",
			Help:    "Fraction of correspondences consistent with the estimate",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"method"},
	)

	ransacIterationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epipolar_ransac_iterations_total",
			Help: "Total number of RANSAC iterations evaluated",
		},
	)

	matchesPerRequest = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "epipolar_matches_per_request",
			Help:    "Number of correspondences per successful estimation",
			Buckets: prometheus.ExponentialBuckets(8, 2, 12),
		},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epipolar_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, matches
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "epipolar_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epipolar_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
