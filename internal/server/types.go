// Package server exposes pairwise registration over HTTP and WebSocket.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	registrar   *pipeline.Registrar
	logger      *slog.Logger
	recorder    batch.Recorder
	rateLimiter *RateLimiter
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
}

// RateLimitConfig holds per-client limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	Pipeline    pipeline.Config
	RateLimit   RateLimitConfig
	Logger      *slog.Logger
	// Recorder, when set, persists every request as a run.
	Recorder batch.Recorder
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version,omitempty"`
	Time    string         `json:"time"`
	Config  map[string]any `json:"config,omitempty"`
}

// ReferenceSummary describes the prepared reference of a request.
type ReferenceSummary struct {
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Keypoints int    `json:"keypoints"`
}

// RegisterResponse is the JSON body of POST /register. Result is present whenever the
// target was accepted, including failed registrations.
type RegisterResponse struct {
	Success   bool              `json:"success"`
	Reference *ReferenceSummary `json:"reference,omitempty"`
	Result    *batch.TargetInfo `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`
}

// NewServer builds the registration pipeline and the server around it.
func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxUploadMB <= 0 {
		return nil, errors.New("max upload size must be positive")
	}

	reg, err := pipeline.NewBuilder().WithConfig(config.Pipeline).WithLogger(logger).Build()
	if err != nil {
		return nil, err
	}

	s := &Server{
		registrar:   reg,
		logger:      logger.With("component", "server"),
		recorder:    config.Recorder,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s, nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/register", s.corsMiddleware(s.rateLimitMiddleware(s.registerHandler)))
	// The upgrade needs the raw ResponseWriter, so the websocket route skips corsMiddleware.
	mux.HandleFunc("/ws/register", s.rateLimitMiddleware(s.registerWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}
