package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for the status feed
const (
	// Client -> Server messages
	MsgTypeAnalyze = "analyze"
	MsgTypePing    = "ping"

	// Server -> Client messages
	MsgTypeStatus = "status"
	MsgTypeError  = "error"
	MsgTypePong   = "pong"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 4 * 1024
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WebSocketHandler pushes session snapshots to WebSocket clients and accepts
// analyze triggers from them.
type WebSocketHandler struct {
	sessions SessionManager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket status handler
func NewWebSocketHandler(sessions SessionManager, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger.With(slog.String("component", "websocket")),
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msgType string, payload interface{}) error {
	msg := WSMessage{
		Type:      msgType,
		Payload:   mustJSON(payload),
		Timestamp: time.Now().UnixMilli(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// HandleWebSocket upgrades the connection and streams the session's snapshots
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id := c.Param("id")

	feed, cancel, err := wsh.sessions.Subscribe(id)
	if err != nil {
		return sessionError(id, err)
	}
	defer cancel()

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		return nil
	}
	defer ws.Close()

	conn := &wsConn{ws: ws}
	ws.SetReadLimit(wsMaxMessage)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	wsh.logger.Debug("status feed opened", slog.String("session", id))

	done := make(chan struct{})
	go func() {
		defer close(done)
		wsh.readLoop(conn, id)
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-feed:
			if !ok {
				conn.send(MsgTypeError, WSErrorResponse{Code: "SESSION_CLOSED", Message: "session closed"})
				return nil
			}
			if err := conn.send(MsgTypeStatus, snap); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return nil
			}
		case <-done:
			wsh.logger.Debug("status feed closed", slog.String("session", id))
			return nil
		}
	}
}

func (wsh *WebSocketHandler) readLoop(conn *wsConn, id string) {
	for {
		var msg WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case MsgTypePing:
			conn.send(MsgTypePong, nil)
		case MsgTypeAnalyze:
			// Status changes arrive through the subscription
			if _, err := wsh.sessions.Analyze(id); err != nil {
				apiErr := sessionError(id, err)
				conn.send(MsgTypeError, WSErrorResponse{Code: apiErr.Code, Message: apiErr.Message})
			}
		default:
			conn.send(MsgTypeError, WSErrorResponse{Code: "UNKNOWN_MESSAGE", Message: "unknown message type: " + msg.Type})
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
