package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"

	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"github.com/MeKo-Tech/epipolar/internal/matchio"
	"github.com/MeKo-Tech/epipolar/internal/report"
	"github.com/MeKo-Tech/epipolar/internal/testutil"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "invalid estimator", mutate: func(c *Config) { c.Estimator.Threshold = 0 }},
		{name: "zero body size", mutate: func(c *Config) { c.MaxBodyMB = 0 }},
		{name: "zero max iterations", mutate: func(c *Config) { c.MaxIterations = 0 }},
		{name: "defaults above cap", mutate: func(c *Config) { c.MaxIterations = c.Estimator.Iterations - 1 }},
		{name: "zero timeout", mutate: func(c *Config) { c.TimeoutSec = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewServer(cfg)
			require.Error(t, err)
		})
	}

	t.Run("rate limiter only when enabled", func(t *testing.T) {
		assert.Nil(t, newTestServer(t, nil).rateLimiter)
		s := newTestServer(t, func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true, RequestsPerMinute: 5} })
		assert.NotNil(t, s.rateLimiter)
		assert.NoError(t, s.Close())
		assert.NoError(t, s.Close())

		select {
		case <-s.rateLimiter.stop:
		default:
			t.Fatal("Close did not stop the rate limiter")
		}
	})
}

func TestServer_HealthHandler(t *testing.T) {
	server := newTestServer(t, nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
		checkResponse  bool
	}{
		{name: "GET request success", method: http.MethodGet, expectedStatus: http.StatusOK, checkResponse: true},
		{name: "POST request not allowed", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "PUT request not allowed", method: http.MethodPut, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			server.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.checkResponse {
				var response HealthResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, "test", response.Version)
				assert.NotEmpty(t, response.Time)
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestServer_EstimateHandler_Success(t *testing.T) {
	server := newTestServer(t, nil)

	w := postEstimate(t, server, estimateRequest(testutil.DemoMatches(), 100))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Error)
	require.NotNil(t, resp.Report)
	assert.Equal(t, report.MethodRANSAC, resp.Report.Method)
	assert.Equal(t, 10, resp.Report.InlierCount)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, resp.Report.Inliers)
	require.NotNil(t, resp.Report.RANSAC)
	assert.Equal(t, 200, resp.Report.RANSAC.Iterations)
	assert.Equal(t, uint64(42), resp.Report.RANSAC.Seed)
}

func TestServer_EstimateHandler_Reproducible(t *testing.T) {
	server := newTestServer(t, nil)
	scene := testutil.NewScene(testutil.SceneConfig{Inliers: 30, Outliers: 8, Noise: 0.3, Seed: 9})
	body := EstimateRequest{
		Matches:    matchio.ToEntries(scene.Matches),
		Iterations: ptr(150),
		Threshold:  ptr(0.05),
		Seed:       ptr(uint64(77)),
		Metric:     "algebraic",
	}

	first := decodeResponse(t, postEstimate(t, server, body))
	second := decodeResponse(t, postEstimate(t, server, body))

	require.True(t, first.Success, first.Error)
	assert.Equal(t, first.Report.F, second.Report.F)
	assert.Equal(t, first.Report.Inliers, second.Report.Inliers)
	assert.Equal(t, 150, first.Report.RANSAC.Iterations)
}

func TestServer_EstimateHandler_Linear(t *testing.T) {
	server := newTestServer(t, nil)
	scene := testutil.NewScene(testutil.SceneConfig{Inliers: 16, Seed: 4})
	body := EstimateRequest{Matches: matchio.ToEntries(scene.Matches), Method: "Linear", Metric: "sampson"}

	w := postEstimate(t, server, body)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeResponse(t, w)
	assert.Equal(t, report.MethodLinear, resp.Report.Method)
	assert.Equal(t, "sampson", resp.Report.Metric)
	assert.Nil(t, resp.Report.RANSAC)
	assert.Equal(t, 16, resp.Report.InlierCount)
}

func TestServer_RunEstimate_LinearLargeSet(t *testing.T) {
	server := newTestServer(t, nil)
	scene := testutil.NewScene(testutil.SceneConfig{Inliers: 20000, Seed: 12})
	req := EstimateRequest{Matches: matchio.ToEntries(scene.Matches)}

	rep, err := server.runEstimate(context.Background(), req, report.MethodLinear)
	require.NoError(t, err)
	assert.Equal(t, 20000, rep.Matches)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = server.runEstimate(ctx, req, report.MethodLinear)
	require.ErrorIs(t, err, context.Canceled)
}

func TestServer_EstimateHandler_Errors(t *testing.T) {
	demo := testutil.DemoMatches()
	coincident := make([]geometry.Match2D2D, 8)
	for i := range coincident {
		coincident[i] = geometry.NewMatch(5, 5, float64(i), float64(2*i))
	}
	noisy := testutil.NewScene(testutil.SceneConfig{Inliers: 20, Noise: 1, Seed: 47})

	tests := []struct {
		name     string
		body     any
		status   int
		errType  string
		contains string
	}{
		{
			name:    "too few correspondences",
			body:    estimateRequest(demo[:7], 100),
			status:  http.StatusUnprocessableEntity,
			errType: "insufficient_correspondences",
		},
		{
			name:    "coincident view 1",
			body:    estimateRequest(coincident, 100),
			status:  http.StatusUnprocessableEntity,
			errType: "degenerate_input",
		},
		{
			name:    "no consensus",
			body:    estimateRequest(noisy.Matches, 1e-30),
			status:  http.StatusUnprocessableEntity,
			errType: "no_consensus",
		},
		{
			name:     "iterations above server cap",
			body:     EstimateRequest{Matches: matchio.ToEntries(demo), Iterations: ptr(5001)},
			status:   http.StatusBadRequest,
			errType:  "invalid_parameters",
			contains: "server limit of 5000",
		},
		{
			name:    "negative threshold",
			body:    estimateRequest(demo, -1),
			status:  http.StatusBadRequest,
			errType: "invalid_parameters",
		},
		{
			name:    "unknown metric",
			body:    EstimateRequest{Matches: matchio.ToEntries(demo), Metric: "median"},
			status:  http.StatusBadRequest,
			errType: "invalid_parameters",
		},
		{
			name:    "unknown method",
			body:    EstimateRequest{Matches: matchio.ToEntries(demo), Method: "lmeds"},
			status:  http.StatusBadRequest,
			errType: "invalid_parameters",
		},
		{
			name:    "malformed json",
			body:    `{"matches": [`,
			status:  http.StatusBadRequest,
			errType: "invalid_request",
		},
		{
			name:    "unknown field",
			body:    `{"matches": [], "iters": 5}`,
			status:  http.StatusBadRequest,
			errType: "invalid_request",
		},
		{
			name:     "bad point arity",
			body:     `{"matches": [{"p1": [1, 2, 3], "p2": [1, 2]}]}`,
			status:   http.StatusBadRequest,
			errType:  "invalid_request",
			contains: "entry 0",
		},
		{
			name:    "body too large",
			body:    `{"matches": [` + strings.Repeat(`{"p1": [1, 2], "p2": [3, 4]},`, 60000) + `]}`,
			status:  http.StatusRequestEntityTooLarge,
			errType: "body_too_large",
		},
	}

	server := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postEstimate(t, server, tt.body)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Report)
			assert.Equal(t, tt.errType, resp.ErrorType)
			assert.NotEmpty(t, resp.Error)
			if tt.contains != "" {
				assert.Contains(t, resp.Error, tt.contains)
			}
		})
	}
}

func TestServer_EstimateHandler_MethodNotAllowed(t *testing.T) {
	server := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/fundamental", nil)
	w := httptest.NewRecorder()
	server.estimateHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_EstimatorConfig(t *testing.T) {
	server := newTestServer(t, nil)

	cfg, err := server.estimatorConfig(EstimateRequest{
		Iterations: ptr(321),
		Threshold:  ptr(0.5),
		Seed:       ptr(uint64(9)),
		Workers:    ptr(1 << 20),
		Metric:     " Sampson ",
		Refine:     ptr(true),
	})
	require.NoError(t, err)

	assert.Equal(t, 321, cfg.Iterations)
	assert.InDelta(t, 0.5, cfg.Threshold, 0)
	assert.Equal(t, uint64(9), cfg.Seed)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Workers, "workers are capped at GOMAXPROCS")
	assert.Equal(t, fundamental.ResidualSampson, cfg.Metric)
	assert.True(t, cfg.Refine)

	defaults, err := server.estimatorConfig(EstimateRequest{})
	require.NoError(t, err)
	assert.Equal(t, server.defaults.Iterations, defaults.Iterations)
	assert.Equal(t, uint64(42), defaults.Seed)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		errType string
	}{
		{fmt.Errorf("wrap: %w", fundamental.ErrNoConsensus), http.StatusUnprocessableEntity, "no_consensus"},
		{fmt.Errorf("ransac: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{fmt.Errorf("ransac: %w", context.Canceled), http.StatusServiceUnavailable, "canceled"},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge, "body_too_large"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.errType, func(t *testing.T) {
			status, errType := classifyError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.errType, errType)
		})
	}
}

func TestServer_Routes(t *testing.T) {
	server := newTestServer(t, nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	before := promtestutil.ToFloat64(estimationsTotal.WithLabelValues("ransac", "http", "success"))

	body, err := json.Marshal(estimateRequest(testutil.DemoMatches(), 100))
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/v1/fundamental", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	after := promtestutil.ToFloat64(estimationsTotal.WithLabelValues("ransac", "http", "success"))
	assert.InDelta(t, before+1, after, 0)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	metrics, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "epipolar_estimations_total")
	assert.Contains(t, string(metrics), "epipolar_ransac_iterations_total")
	assert.Contains(t, string(metrics), "epipolar_http_requests_total")
}
