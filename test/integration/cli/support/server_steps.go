package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MeKo-Tech/epipolar/internal/matchio"
	"github.com/MeKo-Tech/epipolar/internal/server"
	"github.com/MeKo-Tech/epipolar/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

// theEstimationServerIsRunning starts the real handlers in-process.
func (testCtx *TestContext) theEstimationServerIsRunning() error {
	return testCtx.createTestHTTPServer(nil)
}

// theEstimationServerIsRunningWithCORSOrigin restricts CORS and WebSocket origins.
func (testCtx *TestContext) theEstimationServerIsRunningWithCORSOrigin(origin string) error {
	return testCtx.createTestHTTPServer(func(c *server.Config) { c.CORSOrigin = origin })
}

// theEstimationServerIsRunningWithMatchQuota enables a daily correspondence quota.
func (testCtx *TestContext) theEstimationServerIsRunningWithMatchQuota(quota int) error {
	return testCtx.createTestHTTPServer(func(c *server.Config) {
		c.RateLimit = server.RateLimitConfig{Enabled: true, MaxMatchesPerDay: quota}
	})
}

// demoRequest builds a request for the first n demo correspondences.
func demoRequest(n int, threshold float64) server.EstimateRequest {
	demo := testutil.DemoMatches()
	return server.EstimateRequest{
		Matches:   matchio.ToEntries(demo[:min(n, len(demo))]),
		Threshold: &threshold,
	}
}

// iPOSTTheDemoCorrespondencesTo posts all ten demo correspondences.
func (testCtx *TestContext) iPOSTTheDemoCorrespondencesTo(path, thresholdStr string) error {
	threshold, err := strconv.ParseFloat(thresholdStr, 64)
	if err != nil {
		return fmt.Errorf("invalid threshold %q: %w", thresholdStr, err)
	}
	body, err := json.Marshal(demoRequest(10, threshold))
	if err != nil {
		return err
	}
	return testCtx.doRequest(http.MethodPost, path, body)
}

// iPOSTTheFirstDemoCorrespondencesTo posts a prefix of the demo correspondences.
func (testCtx *TestContext) iPOSTTheFirstDemoCorrespondencesTo(n int, path string) error {
	body, err := json.Marshal(demoRequest(n, 100))
	if err != nil {
		return err
	}
	return testCtx.doRequest(http.MethodPost, path, body)
}

// iPOSTToWithBody posts a raw docstring body.
func (testCtx *TestContext) iPOSTToWithBody(path string, body *godog.DocString) error {
	return testCtx.doRequest(http.MethodPost, path, []byte(body.Content))
}

// iGET sends a GET request.
func (testCtx *TestContext) iGET(path string) error {
	return testCtx.doRequest(http.MethodGet, path, nil)
}

// iMakeAnOPTIONSRequestTo sends a CORS preflight request.
func (testCtx *TestContext) iMakeAnOPTIONSRequestTo(path string) error {
	return testCtx.doRequest(http.MethodOptions, path, nil)
}

// doRequest sends a request to the running server and records the response.
func (testCtx *TestContext) doRequest(method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, testCtx.GetServerURL()+path, reader) //nolint:noctx // test client
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodOptions {
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing response body: %v\n", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

// theResponseStatusShouldBe verifies the last HTTP status.
func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d\nBody: %s",
			status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

// responseJSON decodes the last HTTP response body.
func (testCtx *TestContext) responseJSON() (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &data); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w\nBody: %s", err, testCtx.LastHTTPResponse)
	}
	return data, nil
}

// theResponseShouldBeValidJSON verifies the response body parses.
func (testCtx *TestContext) theResponseShouldBeValidJSON() error {
	_, err := testCtx.responseJSON()
	return err
}

// theResponseJSONFieldShouldBe compares a field of the response body.
func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, expected string) error {
	data, err := testCtx.responseJSON()
	if err != nil {
		return err
	}
	return fieldShouldBe(data, field, expected)
}

// theResponseShouldContain verifies the raw response body.
func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain %q\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseHeaderShouldBe verifies a response header.
func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	got, ok := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]
	if !ok {
		return fmt.Errorf("response has no %s header", name)
	}
	if got != expected {
		return fmt.Errorf("header %s = %q, want %q", name, got, expected)
	}
	return nil
}

// iSendTheDemoCorrespondencesOverTheWebSocket sends one request message and
// collects replies until a terminal status arrives.
func (testCtx *TestContext) iSendTheDemoCorrespondencesOverTheWebSocket(thresholdStr string) error {
	threshold, err := strconv.ParseFloat(thresholdStr, 64)
	if err != nil {
		return fmt.Errorf("invalid threshold %q: %w", thresholdStr, err)
	}
	req := demoRequest(10, threshold)
	req.RequestID = "integration"
	return testCtx.exchangeWebSocket(req)
}

// iSendAnInvalidWebSocketMessage sends a message that is not JSON.
func (testCtx *TestContext) iSendAnInvalidWebSocketMessage() error {
	return testCtx.exchangeWebSocket("not json")
}

func (testCtx *TestContext) exchangeWebSocket(msg any) error {
	url := "ws" + strings.TrimPrefix(testCtx.GetServerURL(), "http") + "/ws/fundamental"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	defer func() { _ = conn.Close() }()

	switch m := msg.(type) {
	case string:
		err = conn.WriteMessage(websocket.TextMessage, []byte(m))
	default:
		err = conn.WriteJSON(m)
	}
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	testCtx.LastWebSocketReplies = nil
	if err := conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	for {
		var reply map[string]any
		if err := conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("failed to read reply: %w", err)
		}
		testCtx.LastWebSocketReplies = append(testCtx.LastWebSocketReplies, reply)
		if status, _ := reply["status"].(string); status != server.StatusProcessing {
			return nil
		}
	}
}

// theWebSocketRepliesShouldBe compares the sequence of reply statuses.
func (testCtx *TestContext) theWebSocketRepliesShouldBe(expected string) error {
	statuses := make([]string, len(testCtx.LastWebSocketReplies))
	for i, r := range testCtx.LastWebSocketReplies {
		statuses[i], _ = r["status"].(string)
	}
	if got := strings.Join(statuses, ","); got != expected {
		return fmt.Errorf("websocket replies %q, want %q", got, expected)
	}
	return nil
}

// theLastWebSocketReplyFieldShouldBe compares a field of the final reply.
func (testCtx *TestContext) theLastWebSocketReplyFieldShouldBe(field, expected string) error {
	if len(testCtx.LastWebSocketReplies) == 0 {
		return errors.New("no websocket replies received")
	}
	return fieldShouldBe(testCtx.LastWebSocketReplies[len(testCtx.LastWebSocketReplies)-1], field, expected)
}

// iStartTheServerWith starts the CLI server process.
func (testCtx *TestContext) iStartTheServerWith(command string) error {
	return testCtx.StartServer(command)
}

// iStartTheServerOnAFreePort starts the CLI server on a port chosen by the kernel.
func (testCtx *TestContext) iStartTheServerOnAFreePort() error {
	port, err := freePort()
	if err != nil {
		return fmt.Errorf("failed to find a free port: %w", err)
	}
	return testCtx.StartServer(fmt.Sprintf("epipolar serve --host 127.0.0.1 --port %d", port))
}

// theHealthEndpointShouldRespondWithStatus verifies health endpoint response.
func (testCtx *TestContext) theHealthEndpointShouldRespondWithStatus(status int) error {
	if err := testCtx.iGET("/health"); err != nil {
		return err
	}
	return testCtx.theResponseStatusShouldBe(status)
}

// iSendSignalToTheServer sends SIGTERM or SIGINT to the server process.
func (testCtx *TestContext) iSendSignalToTheServer(name string) error {
	switch name {
	case "SIGTERM":
		return testCtx.SendSignalToServer(syscall.SIGTERM)
	case "SIGINT":
		return testCtx.SendSignalToServer(syscall.SIGINT)
	default:
		return fmt.Errorf("unsupported signal: %s", name)
	}
}

// theServerShouldShutdownGracefully waits for a clean exit.
func (testCtx *TestContext) theServerShouldShutdownGracefully() error {
	if err := testCtx.waitForServerExit(10 * time.Second); err != nil {
		return fmt.Errorf("server did not shut down cleanly: %w", err)
	}
	testCtx.ServerProcess = nil
	return nil
}

// theServerShouldStopListeningForNewRequests verifies the port is closed.
func (testCtx *TestContext) theServerShouldStopListeningForNewRequests() error {
	if testCtx.isServerHealthy() {
		return errors.New("server still answers health checks")
	}
	return nil
}

// RegisterServerSteps registers server-related step definitions.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	// In-process server
	sc.Step(`^the estimation server is running$`, testCtx.theEstimationServerIsRunning)
	sc.Step(`^the estimation server is running with CORS origin "([^"]*)"$`,
		testCtx.theEstimationServerIsRunningWithCORSOrigin)
	sc.Step(`^the estimation server is running with a daily match quota of (\d+)$`,
		testCtx.theEstimationServerIsRunningWithMatchQuota)

	// HTTP requests
	sc.Step(`^I POST the demo correspondences to "([^"]*)" with threshold ([0-9.eE+-]+)$`,
		testCtx.iPOSTTheDemoCorrespondencesTo)
	sc.Step(`^I POST the first (\d+) demo correspondences to "([^"]*)"$`,
		testCtx.iPOSTTheFirstDemoCorrespondencesTo)
	sc.Step(`^I POST to "([^"]*)" with body:$`, testCtx.iPOSTToWithBody)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I make an OPTIONS request to "([^"]*)"$`, testCtx.iMakeAnOPTIONSRequestTo)

	// HTTP responses
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should be valid JSON$`, testCtx.theResponseShouldBeValidJSON)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)

	// WebSocket
	sc.Step(`^I send the demo correspondences over the websocket with threshold ([0-9.eE+-]+)$`,
		testCtx.iSendTheDemoCorrespondencesOverTheWebSocket)
	sc.Step(`^I send an invalid websocket message$`, testCtx.iSendAnInvalidWebSocketMessage)
	sc.Step(`^the websocket replies should be "([^"]*)"$`, testCtx.theWebSocketRepliesShouldBe)
	sc.Step(`^the last websocket reply field "([^"]*)" should be "([^"]*)"$`,
		testCtx.theLastWebSocketReplyFieldShouldBe)

	// Server process lifecycle
	sc.Step(`^I start the server with "([^"]*)"$`, testCtx.iStartTheServerWith)
	sc.Step(`^I start the server on a free port$`, testCtx.iStartTheServerOnAFreePort)
	sc.Step(`^the health endpoint should respond with status (\d+)$`, testCtx.theHealthEndpointShouldRespondWithStatus)
	sc.Step(`^I send (SIGTERM|SIGINT) to the server$`, testCtx.iSendSignalToTheServer)
	sc.Step(`^the server should shutdown gracefully$`, testCtx.theServerShouldShutdownGracefully)
	sc.Step(`^the server should stop listening for new requests$`, testCtx.theServerShouldStopListeningForNewRequests)
}
