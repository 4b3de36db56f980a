package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"github.com/MeKo-Tech/epipolar/internal/matchio"
	"github.com/stretchr/testify/require"
)

// testConfig returns a server configuration suitable for unit tests.
func testConfig() Config {
	est := fundamental.DefaultConfig()
	est.Iterations = 200
	est.Seed = 42
	return Config{
		Host:          "localhost",
		Port:          0,
		CORSOrigin:    "*",
		MaxBodyMB:     1,
		MaxIterations: 5000,
		TimeoutSec:    10,
		Version:       "test",
		Estimator:     est,
	}
}

// newTestServer builds a server from testConfig after applying mutate.
func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// estimateRequest builds a request body for matches with an explicit threshold.
func estimateRequest(matches []geometry.Match2D2D, threshold float64) EstimateRequest {
	return EstimateRequest{
		Matches:   matchio.ToEntries(matches),
		Threshold: &threshold,
	}
}

// postEstimate sends body to the estimate handler through the middleware chain.
func postEstimate(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/fundamental", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// decodeResponse decodes an EstimateResponse body.
func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) EstimateResponse {
	t.Helper()
	var resp EstimateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// mockWebSocketConn records messages written by the WebSocket handlers.
type mockWebSocketConn struct {
	sentMessages [][]byte
}

func (m *mockWebSocketConn) WriteMessage(_ int, data []byte) error {
	m.sentMessages = append(m.sentMessages, data)
	return nil
}

func (m *mockWebSocketConn) responses(t *testing.T) []WebSocketResponse {
	t.Helper()
	out := make([]WebSocketResponse, len(m.sentMessages))
	for i, data := range m.sentMessages {
		require.NoError(t, json.Unmarshal(data, &out[i]))
	}
	return out
}

func ptr[T any](v T) *T { return &v }
