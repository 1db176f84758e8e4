// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/machine-monitor/backend/internal/history"
	"github.com/machine-monitor/backend/internal/models"
)

// HealthHandler handles health check and catalog operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
	HandleCatalog(c echo.Context) error
}

// FileHandler handles file upload operations
type FileHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
}

// SessionHandler handles dashboard session operations
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleSelectFile(c echo.Context) error
	HandleUploadAndSelect(c echo.Context) error
	HandleSetOptions(c echo.Context) error
	HandleAnalyze(c echo.Context) error
	HandleResultMsgpack(c echo.Context) error
	HandleStatusStream(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
}

// HistoryHandler handles the analysis run ledger
type HistoryHandler interface {
	HandleRecentAnalyses(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Create() models.SessionSnapshot
	Get(id string) (models.SessionSnapshot, bool)
	Touch(id string) bool
	Delete(id string) error
	SelectFile(id string, file models.FileInfo) (models.SessionSnapshot, error)
	SetOptions(id string, opts models.AnalysisOptions) (models.SessionSnapshot, error)
	Analyze(id string) (models.SessionSnapshot, error)
	Subscribe(id string) (<-chan models.SessionSnapshot, func(), error)
}

// RunHistory reads recorded analysis runs
type RunHistory interface {
	Recent(ctx context.Context, limit int) ([]models.AnalysisRun, error)
	Summarize(ctx context.Context) (*history.Summary, error)
}
