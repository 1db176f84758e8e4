// handlers_health.go - Health check and catalog handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/machine-monitor/backend/internal/models"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version      string
	predictorURL string
	catalog      *models.Catalog
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, predictorURL string, catalog *models.Catalog) HealthHandler {
	return &HealthHandlerImpl{
		version:      version,
		predictorURL: predictorURL,
		catalog:      catalog,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"predictor": h.predictorURL,
	})
}

type statusIndicator struct {
	Status models.AnalysisStatus `json:"status"`
	Color  string                `json:"color"`
}

// HandleCatalog returns the label set, placeholder feature names and the
// status indicator colors in lifecycle order.
func (h *HealthHandlerImpl) HandleCatalog(c echo.Context) error {
	indicators := make([]statusIndicator, 0, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		indicators = append(indicators, statusIndicator{Status: s, Color: h.catalog.StatusColor(s)})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"labels":              h.catalog.Labels,
		"placeholderFeatures": h.catalog.PlaceholderNames,
		"statuses":            indicators,
	})
}
