package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// HistoryHandlerImpl implements the HistoryHandler interface
type HistoryHandlerImpl struct {
	history RunHistory
}

// NewHistoryHandler creates a history handler. history may be nil when the
// ledger is disabled.
func NewHistoryHandler(history RunHistory) HistoryHandler {
	return &HistoryHandlerImpl{history: history}
}

// HandleRecentAnalyses returns the most recent runs and per-outcome counts
func (h *HistoryHandlerImpl) HandleRecentAnalyses(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("analysis history is disabled")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return NewValidationError("limit")
		}
		limit = n
	}

	ctx := c.Request().Context()
	runs, err := h.history.Recent(ctx, limit)
	if err != nil {
		return NewInternalError("failed to read analysis history", err)
	}
	summary, err := h.history.Summarize(ctx)
	if err != nil {
		return NewInternalError("failed to summarize analysis history", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":    runs,
		"summary": summary,
	})
}
