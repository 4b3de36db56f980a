package support

import (
	"fmt"
	"net/http/httptest"
	"net/url"
	"strconv"

	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/server"
)

// HTTPTestServerWrapper wraps httptest.Server for integration tests.
type HTTPTestServerWrapper struct {
	Server     *httptest.Server
	TestServer *server.Server
}

// testServerConfig returns the server configuration used by HTTP scenarios.
// The estimator seed is fixed so responses are reproducible.
func testServerConfig() server.Config {
	est := fundamental.DefaultConfig()
	est.Seed = 42
	est.Iterations = 200
	return server.Config{
		Host:          "127.0.0.1",
		CORSOrigin:    "*",
		MaxBodyMB:     1,
		MaxIterations: 10000,
		TimeoutSec:    10,
		Version:       "integration",
		Estimator:     est,
	}
}

// createTestHTTPServer runs the real handlers behind an httptest server.
func (testCtx *TestContext) createTestHTTPServer(mutate func(*server.Config)) error {
	cfg := testServerConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	estServer, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ts := httptest.NewServer(estServer.Handler())

	u, err := url.Parse(ts.URL)
	if err != nil {
		ts.Close()
		return fmt.Errorf("failed to parse server URL: %w", err)
	}

	testCtx.ServerHost = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		testCtx.ServerPort, _ = strconv.Atoi(portStr)
	}

	testCtx.HTTPTestServer = &HTTPTestServerWrapper{
		Server:     ts,
		TestServer: estServer,
	}

	return nil
}

// stopTestHTTPServer stops the httptest server.
func (testCtx *TestContext) stopTestHTTPServer() error {
	if testCtx.HTTPTestServer == nil {
		return nil
	}
	if testCtx.HTTPTestServer.Server != nil {
		testCtx.HTTPTestServer.Server.Close()
	}
	err := testCtx.HTTPTestServer.TestServer.Close()
	testCtx.HTTPTestServer = nil
	return err
}
