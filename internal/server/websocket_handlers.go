package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MeKo-Tech/epipolar/internal/report"
	"github.com/gorilla/websocket"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
	wsQueueSize  = 8
)

// WebSocket message statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketResponse is one server message on /ws/fundamental.
type WebSocketResponse struct {
	Type      string         `json:"type"`   // "estimate_response" or "error"
	Status    string         `json:"status"` // "processing", "completed", "error"
	Report    *report.Report `json:"report,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// checkOrigin accepts any origin when CORS is open and otherwise requires
// the configured origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return s.corsOrigin == "" || s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
}

// webSocketHandler upgrades the connection and serves estimation requests
// until the client disconnects.
func (s *Server) webSocketHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(conn, getClientIP(r))
}

// handleWebSocketConnection processes messages from a WebSocket connection.
func (s *Server) handleWebSocketConnection(conn *websocket.Conn, clientID string) {
	conn.SetReadLimit(s.maxBodyMB * 1024 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	// Requests are answered in order by one worker so the read loop keeps
	// running and notices a disconnect while an estimate is in flight.
	ctx, cancel := context.WithCancel(context.Background())
	requests := make(chan []byte, wsQueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for data := range requests {
			s.handleWebSocketMessage(ctx, conn, clientID, data)
		}
	}()
	defer func() {
		cancel()
		close(requests)
		wg.Wait()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			requests <- data
		}
	}
}

// handleWebSocketMessage answers one estimation request with a processing
// message followed by a completed or error message. ctx ends with the
// connection.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, clientID string, data []byte) {
	req, err := decodeEstimateRequest(json.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		s.sendWebSocketError(conn, s.nextRequestID(), err)
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = s.nextRequestID()
	}

	if s.rateLimiter != nil {
		err := s.rateLimiter.Allow(clientID)
		if err == nil {
			err = s.rateLimiter.ConsumeMatches(clientID, len(req.Matches))
		}
		if err != nil {
			recordRateLimitHit(err)
			s.sendWebSocketError(conn, requestID, err)
			return
		}
	}

	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "estimate_response",
		Status:    StatusProcessing,
		RequestID: requestID,
	})

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	rep, err := s.estimate(ctx, req, "websocket")
	if err != nil {
		s.sendWebSocketError(conn, requestID, err)
		return
	}

	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "estimate_response",
		Status:    StatusCompleted,
		Report:    rep,
		RequestID: requestID,
	})
}

func (s *Server) nextRequestID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + strconv.FormatUint(s.requestSeq.Add(1), 10)
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID string, err error) {
	var errType string
	var rle *RateLimitError
	var qe *QuotaExceededError
	switch {
	case errors.As(err, &rle):
		errType = "rate_limit_exceeded"
	case errors.As(err, &qe):
		errType = "quota_exceeded"
	default:
		_, errType = classifyError(err)
	}

	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "error",
		Status:    StatusError,
		Error:     err.Error(),
		ErrorType: errType,
		RequestID: requestID,
	})
}
