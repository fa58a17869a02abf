package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
)

// Label values of the source label.
const (
	sourceHTTP      = "http"
	sourceWebSocket = "websocket"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homography_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homography_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Registration metrics
	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homography_registrations_total",
			Help: "Registered pairs by outcome (ok or error kind)",
		},
		[]string{"source", "outcome"},
	)

	registrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homography_registration_duration_seconds",
			Help:    "Time spent in the registration stages of one pair",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	inlierRatio = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homography_inlier_ratio",
			Help:    "Inlier fraction of successful estimates",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"source"},
	)

	keypointsDetected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homography_keypoints",
			Help:    "Keypoints described per image",
			Buckets: []float64{0, 10, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"role"}, // role: reference, target
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homography_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "homography_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "homography_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homography_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// observeOutcome records the terminal state of one pair.
func observeOutcome(source string, o pipeline.Outcome) {
	outcome := "ok"
	if o.Err != nil {
		outcome = common.ErrorKind(o.Err)
	}
	registrationsTotal.WithLabelValues(source, outcome).Inc()

	res := o.Result
	if res == nil {
		return
	}
	registrationDuration.WithLabelValues(source).Observe(res.Timings.Total().Seconds())
	keypointsDetected.WithLabelValues("target").Observe(float64(len(res.Keypoints)))
	if res.Estimate != nil && o.Err == nil {
		inlierRatio.WithLabelValues(source).Observe(res.Estimate.InlierRatio())
	}
}
