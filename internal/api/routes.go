// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/machine-monitor/backend/internal/logging"
	"github.com/machine-monitor/backend/internal/models"
	"github.com/machine-monitor/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store        storage.Store
	Sessions     SessionManager
	History      RunHistory // optional
	Catalog      *models.Catalog
	Policy       FilePolicy
	PredictorURL string
	Version      string
	Logger       *slog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Files     FileHandler
	Session   SessionHandler
	History   HistoryHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.PredictorURL, deps.Catalog),
		Files:     NewUploadHandler(deps.Store, deps.Policy),
		Session:   NewSessionHandler(deps.Store, deps.Sessions, deps.Policy, deps.Logger),
		History:   NewHistoryHandler(deps.History),
		WebSocket: NewWebSocketHandler(deps.Sessions, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check and display catalog
	apiGroup.GET("/health", handlers.Health.HandleHealth)
	apiGroup.GET("/catalog", handlers.Health.HandleCatalog)

	// File management
	fileGroup := apiGroup.Group("/files")
	fileGroup.POST("/upload", handlers.Files.HandleUploadFile)
	fileGroup.GET("/recent", handlers.Files.HandleGetRecentFiles)
	fileGroup.GET("/:id", handlers.Files.HandleGetFile)
	fileGroup.DELETE("/:id", handlers.Files.HandleDeleteFile)

	// Dashboard sessions
	sessionGroup := apiGroup.Group("/sessions")
	sessionGroup.POST("", handlers.Session.HandleCreateSession)
	sessionGroup.GET("/:id", handlers.Session.HandleGetSession)
	sessionGroup.DELETE("/:id", handlers.Session.HandleDeleteSession)
	sessionGroup.PUT("/:id/file", handlers.Session.HandleSelectFile)
	sessionGroup.POST("/:id/file", handlers.Session.HandleUploadAndSelect)
	sessionGroup.PUT("/:id/options", handlers.Session.HandleSetOptions)
	sessionGroup.POST("/:id/analyze", handlers.Session.HandleAnalyze)
	sessionGroup.GET("/:id/result/msgpack", handlers.Session.HandleResultMsgpack)
	sessionGroup.GET("/:id/stream", handlers.Session.HandleStatusStream)
	sessionGroup.POST("/:id/keepalive", handlers.Session.HandleSessionKeepAlive)

	// WebSocket status feed
	apiGroup.GET("/ws/sessions/:id", handlers.WebSocket.HandleWebSocket)

	// Analysis history
	apiGroup.GET("/analyses/recent", handlers.History.HandleRecentAnalyses)
}

// MiddlewareConfig carries the server settings the middleware stack needs
type MiddlewareConfig struct {
	Logger            *slog.Logger
	RequestLogging    bool
	RequestTimeout    time.Duration
	BodyLimit         string
	EnableCompression bool
	CompressionLevel  int
	EnableCORS        bool
	AllowOrigins      string
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpLogger := logger.With(slog.String("component", "http"))

	// Use custom error handler and validator
	e.HTTPErrorHandler = ErrorHandler
	e.Validator = NewRequestValidator()

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.RequestLogging {
				return true
			}
			return c.Request().URL.Path == "/api/health"
		},
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			httpLogger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			httpLogger.Error("handler panicked",
				slog.String("error", err.Error()),
				slog.String("stack", string(stack)),
			)
			return err
		},
	}))

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout:      cfg.RequestTimeout,
			Skipper:      isStreaming,
			ErrorMessage: "Request timeout",
		}))
	}

	// Compression middleware
	if cfg.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level:   cfg.CompressionLevel,
			Skipper: isStreaming,
		}))
	}

	// Body limit middleware
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	// CORS configuration
	if cfg.EnableCORS {
		origins := strings.Split(cfg.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}

// isStreaming matches SSE and WebSocket requests, which must not be
// buffered or cut off.
func isStreaming(c echo.Context) bool {
	req := c.Request()
	return strings.HasSuffix(req.URL.Path, "/stream") ||
		strings.HasPrefix(req.URL.Path, "/api/ws/") ||
		req.Header.Get("Accept") == "text/event-stream" ||
		strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}
