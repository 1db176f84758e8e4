package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/machine-monitor/backend/internal/api"
	"github.com/machine-monitor/backend/internal/config"
	"github.com/machine-monitor/backend/internal/history"
	"github.com/machine-monitor/backend/internal/logging"
	"github.com/machine-monitor/backend/internal/metrics"
	"github.com/machine-monitor/backend/internal/models"
	"github.com/machine-monitor/backend/internal/parser"
	"github.com/machine-monitor/backend/internal/predict"
	"github.com/machine-monitor/backend/internal/session"
	"github.com/machine-monitor/backend/internal/storage"
	"github.com/machine-monitor/backend/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "machine monitor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	configPath := filepath.Join(filepath.Dir(exePath), config.FileName)

	// Load XML configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(cfg.Advanced.LogLevel, cfg.Advanced.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	catalog, err := parser.LoadCatalog(cfg.Advanced.CatalogFile)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	predictor, err := predict.New(predict.Options{
		BaseURL:           cfg.Predictor.BaseURL,
		Timeout:           cfg.PredictTimeout(),
		RequestsPerSecond: cfg.Predictor.RequestsPerSecond,
		Burst:             cfg.Predictor.Burst,
		MaxResponseBytes:  cfg.Predictor.MaxResponseBytes,
	}, logger)
	if err != nil {
		return err
	}

	ledger, err := history.NewLedger(logger)
	if err != nil {
		return fmt.Errorf("failed to open analysis history: %w", err)
	}
	defer ledger.Close()

	sessionOpts := []session.Option{
		session.WithLogger(logger),
		session.WithRecorder(ledger),
		session.WithDefaultOptions(models.AnalysisOptions{
			Delimiter: cfg.Analysis.DefaultDelimiter,
			Transpose: cfg.Analysis.DefaultTranspose,
		}),
	}

	registry := prometheus.NewRegistry()
	if cfg.Advanced.EnableMetrics {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector, err := metrics.New(registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		sessionOpts = append(sessionOpts, session.WithMetrics(collector))
	}

	sessionMgr := session.NewManager(fileStore, predictor, sessionOpts...)
	defer sessionMgr.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		Logger:            logger,
		RequestLogging:    cfg.Advanced.EnableRequestLogging,
		RequestTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		BodyLimit:         cfg.Server.BodyLimit,
		EnableCompression: cfg.Processing.EnableCompression,
		CompressionLevel:  cfg.Processing.CompressionLevel,
		EnableCORS:        cfg.Server.EnableCORS,
		AllowOrigins:      cfg.Server.AllowOrigins,
	})

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:    fileStore,
		Sessions: sessionMgr,
		History:  ledger,
		Catalog:  catalog,
		Policy: api.FilePolicy{
			AllowedTypes:      storage.ParseAllowedTypes(cfg.Security.AllowedFileTypes),
			AllowFileDeletion: cfg.Security.AllowFileDeletion,
		},
		PredictorURL: predictor.URL(),
		Version:      Version,
		Logger:       logger,
	}))

	if cfg.Advanced.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	// Register embedded frontend if available
	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			logger.Warn("failed to register static routes", slog.String("error", err.Error()))
		}
	}

	// Configure server with settings from XML config
	srv := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("machine monitor starting",
		slog.String("version", Version),
		slog.String("build_time", BuildTime),
		slog.String("config", configPath),
		slog.String("listen", cfg.GetServerAddr()),
		slog.String("data_dir", cfg.GetDataDir()),
		slog.String("predictor", predictor.URL()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Background session cleanup
	g.Go(func() error {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sessionMgr.CleanupOldSessions(cfg.SessionTimeout())
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
