// handlers_session.go - Dashboard session handlers
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/machine-monitor/backend/internal/models"
	"github.com/machine-monitor/backend/internal/session"
	"github.com/machine-monitor/backend/internal/storage"
)

const (
	streamTimeout   = 30 * time.Minute
	streamHeartbeat = 15 * time.Second
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	store    storage.Store
	sessions SessionManager
	policy   FilePolicy
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(store storage.Store, sessions SessionManager, policy FilePolicy, logger *slog.Logger) SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandlerImpl{
		store:    store,
		sessions: sessions,
		policy:   policy,
		logger:   logger.With(slog.String("component", "api")),
	}
}

// HandleCreateSession starts a session in READY
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	return c.JSON(http.StatusCreated, h.sessions.Create())
}

// HandleGetSession returns the current snapshot
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	snap, ok := h.sessions.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, snap)
}

// HandleDeleteSession drops an idle session
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if err := h.sessions.Delete(id); err != nil {
		return sessionError(id, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSelectFile selects a previously uploaded file as the session input
func (h *SessionHandlerImpl) HandleSelectFile(c echo.Context) error {
	id := c.Param("id")

	var req selectFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	info, err := h.store.Get(req.FileID)
	if err != nil {
		return NewNotFoundError("file", req.FileID)
	}

	snap, err := h.sessions.SelectFile(id, *info)
	if err != nil {
		return sessionError(id, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// HandleUploadAndSelect stores a multipart upload and selects it in one step
func (h *SessionHandlerImpl) HandleUploadAndSelect(c echo.Context) error {
	id := c.Param("id")

	snap, ok := h.sessions.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	if snap.Status == models.StatusAnalyzing {
		return sessionError(id, session.ErrAnalysisInFlight)
	}

	info, err := saveUpload(c, h.store, h.policy)
	if err != nil {
		return err
	}

	snap, err = h.sessions.SelectFile(id, *info)
	if err != nil {
		return sessionError(id, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// HandleSetOptions replaces the delimiter and transpose options
func (h *SessionHandlerImpl) HandleSetOptions(c echo.Context) error {
	id := c.Param("id")

	var req setOptionsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	snap, err := h.sessions.SetOptions(id, models.AnalysisOptions{
		Delimiter: req.Delimiter,
		Transpose: req.Transpose,
	})
	if err != nil {
		return sessionError(id, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// HandleAnalyze starts the analysis pipeline. The result is delivered
// through the session snapshot, the status stream or the WebSocket feed.
func (h *SessionHandlerImpl) HandleAnalyze(c echo.Context) error {
	id := c.Param("id")

	snap, err := h.sessions.Analyze(id)
	if err != nil {
		return sessionError(id, err)
	}
	return c.JSON(http.StatusAccepted, snap)
}

// HandleResultMsgpack exports a COMPLETE session's result as msgpack
func (h *SessionHandlerImpl) HandleResultMsgpack(c echo.Context) error {
	id := c.Param("id")
	snap, ok := h.sessions.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	if snap.Status != models.StatusComplete {
		return NewConflictError("NOT_COMPLETE", fmt.Sprintf("session is %s", snap.Status))
	}

	result := models.AnalysisResult{
		SessionID:   snap.ID,
		RunID:       snap.RunID,
		SampleCount: snap.SampleCount,
		Transposed:  snap.Options.Transpose,
		Label:       snap.Label,
		Features:    snap.Features,
	}
	if snap.File != nil {
		result.FileName = snap.File.Name
	}

	data, err := msgpack.Marshal(&result)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleStatusStream streams session snapshots via SSE until the client
// goes away, the session is removed, or the stream times out.
func (h *SessionHandlerImpl) HandleStatusStream(c echo.Context) error {
	id := c.Param("id")

	feed, cancel, err := h.sessions.Subscribe(id)
	if err != nil {
		return sessionError(id, err)
	}
	defer cancel()

	// The server's WriteTimeout would end the stream early; streamTimeout bounds it instead.
	if err := http.NewResponseController(c.Response()).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to clear stream write deadline", slog.String("session", id), slog.String("error", err.Error()))
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	timeout := time.NewTimer(streamTimeout)
	defer timeout.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case snap, ok := <-feed:
			if !ok {
				sendSSEEvent(c, "error", map[string]string{"error": "session closed"})
				return nil
			}
			sendSSEEvent(c, "status", snap)

		case <-heartbeat.C:
			fmt.Fprint(c.Response(), ": ping\n\n")
			c.Response().Flush()

		case <-timeout.C:
			sendSSEEvent(c, "error", map[string]string{"error": "stream timeout"})
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

// HandleSessionKeepAlive extends the session's idle timeout
func (h *SessionHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.Touch(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

func sendSSEEvent(c echo.Context, event string, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, jsonData)
	c.Response().Flush()
}

// Request types

type selectFileRequest struct {
	FileID string `json:"fileId" validate:"required"`
}

type setOptionsRequest struct {
	Delimiter string `json:"delimiter" validate:"max=16,excludesall=\r\n"`
	Transpose bool   `json:"transpose"`
}
