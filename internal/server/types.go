// Package server exposes fundamental matrix estimation over HTTP and
// WebSocket.
package server

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/matchio"
	"github.com/MeKo-Tech/epipolar/internal/report"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const rateLimitPruneInterval = 10 * time.Minute

// Server holds the HTTP server state and dependencies.
type Server struct {
	defaults      fundamental.Config
	corsOrigin    string
	maxBodyMB     int64
	maxIterations int
	timeoutSec    int
	version       string
	rateLimiter   *RateLimiter
	requestSeq    atomic.Uint64
}

// Config holds server configuration.
type Config struct {
	Host          string
	Port          int
	CORSOrigin    string
	MaxBodyMB     int64
	MaxIterations int
	TimeoutSec    int
	Version       string
	Estimator     fundamental.Config
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxMatchesPerDay  int
}

// EstimateRequest is the body of POST /v1/fundamental and of each
// WebSocket message. Unset fields fall back to the server defaults.
type EstimateRequest struct {
	Matches    []matchio.Entry `json:"matches"`
	Method     string          `json:"method,omitempty"` // "ransac" (default) or "linear"
	Iterations *int            `json:"iterations,omitempty"`
	Threshold  *float64        `json:"threshold,omitempty"`
	Seed       *uint64         `json:"seed,omitempty"`
	Workers    *int            `json:"workers,omitempty"`
	Metric     string          `json:"metric,omitempty"`
	Refine     *bool           `json:"refine,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
}

// EstimateResponse wraps a report or an error.
type EstimateResponse struct {
	Success   bool           `json:"success"`
	Report    *report.Report `json:"report,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// NewServer creates a new estimation server instance.
func NewServer(config Config) (*Server, error) {
	if err := config.Estimator.Validate(); err != nil {
		return nil, fmt.Errorf("invalid estimator defaults: %w", err)
	}
	if config.MaxBodyMB <= 0 {
		return nil, fmt.Errorf("max body size must be positive, got %d MB", config.MaxBodyMB)
	}
	if config.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", config.MaxIterations)
	}
	if config.Estimator.Iterations > config.MaxIterations {
		return nil, fmt.Errorf("default iterations %d exceed max iterations %d",
			config.Estimator.Iterations, config.MaxIterations)
	}
	if config.TimeoutSec <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %d s", config.TimeoutSec)
	}

	s := &Server{
		defaults:      config.Estimator,
		corsOrigin:    config.CORSOrigin,
		maxBodyMB:     config.MaxBodyMB,
		maxIterations: config.MaxIterations,
		timeoutSec:    config.TimeoutSec,
		version:       config.Version,
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxMatchesPerDay)
		s.rateLimiter.Start(rateLimitPruneInterval)
	}
	return s, nil
}

// Close stops the rate limiter's background pruning.
func (s *Server) Close() error {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/fundamental", s.corsMiddleware(s.rateLimitMiddleware(s.estimateHandler)))
	mux.HandleFunc("/ws/fundamental", s.webSocketHandler)
}

// Handler returns a mux with all routes installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
