package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/MeKo-Tech/epipolar/internal/common"
	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/matchio"
	"github.com/MeKo-Tech/epipolar/internal/report"
)

// errMalformedRequest marks request bodies that are not valid JSON for the
// expected shape.
var errMalformedRequest = errors.New("malformed request")

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// estimateHandler runs one estimation per POST request.
func (s *Server) estimateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyMB*1024*1024)
	req, err := decodeEstimateRequest(json.NewDecoder(r.Body))
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.ConsumeMatches(getClientIP(r), len(req.Matches)); err != nil {
			recordRateLimitHit(err)
			s.handleRateLimitError(w, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	rep, err := s.estimate(ctx, req, "http")
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EstimateResponse{Success: true, Report: rep})
}

func decodeEstimateRequest(dec *json.Decoder) (EstimateRequest, error) {
	dec.DisallowUnknownFields()

	var req EstimateRequest
	if err := dec.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return req, err
		}
		return req, fmt.Errorf("%w: %v", errMalformedRequest, err)
	}
	return req, nil
}

// estimate validates req against the server limits and runs the requested
// estimator. source labels the metrics ("http" or "websocket").
func (s *Server) estimate(ctx context.Context, req EstimateRequest, source string) (*report.Report, error) {
	method := report.Method(strings.ToLower(strings.TrimSpace(req.Method)))
	if method == "" {
		method = report.MethodRANSAC
	}

	rep, err := s.runEstimate(ctx, req, method)
	if err != nil {
		_, errType := classifyError(err)
		estimationsTotal.WithLabelValues(string(method), source, errType).Inc()
		slog.Debug("Estimation failed", "method", method, "source", source, "error", err)
		return nil, err
	}

	estimationsTotal.WithLabelValues(string(method), source, "success").Inc()
	estimationDuration.WithLabelValues(string(method)).Observe(rep.ElapsedMs / 1000)
	inlierRatio.WithLabelValues(string(method)).Observe(rep.InlierRatio)
	matchesPerRequest.Observe(float64(rep.Matches))
	if rep.RANSAC != nil {
		ransacIterationsTotal.Add(float64(rep.RANSAC.Iterations))
	}
	return rep, nil
}

func (s *Server) runEstimate(ctx context.Context, req EstimateRequest, method report.Method) (*report.Report, error) {
	if method != report.MethodRANSAC && method != report.MethodLinear {
		return nil, fmt.Errorf("%w: unknown method %q", fundamental.ErrInvalidParameters, req.Method)
	}

	matches, err := matchio.FromEntries(req.Matches)
	if err != nil {
		return nil, err
	}
	cfg, err := s.estimatorConfig(req)
	if err != nil {
		return nil, err
	}

	timer := common.NewTimer()
	var rep report.Report
	if method == report.MethodLinear {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := fundamental.EstimateLinear(matches)
		if err != nil {
			return nil, err
		}
		rep = report.FromLinear(f, matches, cfg.Metric, timer.Stop())
	} else {
		est, err := fundamental.NewEstimator(cfg)
		if err != nil {
			return nil, err
		}
		res, err := est.Estimate(ctx, matches)
		if err != nil {
			return nil, err
		}
		rep = report.FromResult(res, matches, est.Config().Metric, timer.Stop())
	}
	return &rep, nil
}

// estimatorConfig applies request overrides to the server defaults.
func (s *Server) estimatorConfig(req EstimateRequest) (fundamental.Config, error) {
	cfg := s.defaults
	if req.Iterations != nil {
		cfg.Iterations = *req.Iterations
	}
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if req.Workers != nil {
		cfg.Workers = *req.Workers
	}
	if req.Metric != "" {
		cfg.Metric = fundamental.ResidualMetric(req.Metric)
	}
	if req.Refine != nil {
		cfg.Refine = *req.Refine
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	cfg.Metric, _ = fundamental.ParseResidualMetric(string(cfg.Metric))
	if cfg.Iterations > s.maxIterations {
		return cfg, fmt.Errorf("%w: iterations %d exceed the server limit of %d",
			fundamental.ErrInvalidParameters, cfg.Iterations, s.maxIterations)
	}
	cfg.Workers = min(cfg.Workers, runtime.GOMAXPROCS(0))
	return cfg, nil
}

// classifyError maps an estimation error to an HTTP status and a stable
// error type string.
func classifyError(err error) (int, string) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.Is(err, fundamental.ErrInsufficientCorrespondences):
		return http.StatusUnprocessableEntity, "insufficient_correspondences"
	case errors.Is(err, fundamental.ErrDegenerateInput):
		return http.StatusUnprocessableEntity, "degenerate_input"
	case errors.Is(err, fundamental.ErrNoConsensus):
		return http.StatusUnprocessableEntity, "no_consensus"
	case errors.Is(err, fundamental.ErrInvalidParameters):
		return http.StatusBadRequest, "invalid_parameters"
	case errors.Is(err, matchio.ErrInvalidInput), errors.Is(err, errMalformedRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeErrorResponse writes a JSON error response for err.
func (s *Server) writeErrorResponse(w http.ResponseWriter, err error) {
	status, errType := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Estimation request failed", "status", status, "error", err)
	}
	writeJSON(w, status, EstimateResponse{
		Success:   false,
		Error:     err.Error(),
		ErrorType: errType,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Log error, but can't send another response
		slog.Error("Failed to encode response", "status", status, "error", err)
	}
}
