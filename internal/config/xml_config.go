// Package config provides XML-based configuration management for air-gapped deployment.
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// FileName is the configuration file created next to the executable.
const FileName = "MachineMonitor.exe.config"

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"MachineMonitor"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Defaults for new sessions
	Analysis AnalysisConfig `xml:"Analysis"`

	// Remote prediction service
	Predictor PredictorConfig `xml:"Predictor"`

	// Processing configuration
	Processing ProcessingConfig `xml:"Processing"`

	// Security configuration
	Security SecurityConfig `xml:"Security"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	UploadsDirectory string `xml:"UploadsDirectory"`
	MaxUploadSize    string `xml:"MaxUploadSize"`
}

// AnalysisConfig holds the options a new session starts with
type AnalysisConfig struct {
	DefaultDelimiter string `xml:"DefaultDelimiter"`
	DefaultTranspose bool   `xml:"DefaultTranspose"`
}

// PredictorConfig points at the prediction service
type PredictorConfig struct {
	BaseURL           string  `xml:"BaseURL"`
	TimeoutSeconds    int     `xml:"TimeoutSeconds"`
	RequestsPerSecond float64 `xml:"RequestsPerSecond"`
	Burst             int     `xml:"Burst"`
	MaxResponseBytes  int64   `xml:"MaxResponseBytes"`
}

// ProcessingConfig contains session lifecycle settings
type ProcessingConfig struct {
	SessionTimeoutMinutes  int  `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int  `xml:"CleanupIntervalMinutes"`
	EnableCompression      bool `xml:"EnableCompression"`
	CompressionLevel       int  `xml:"CompressionLevel"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	AllowFileDeletion bool   `xml:"AllowFileDeletion"`
	AllowedFileTypes  string `xml:"AllowedFileTypes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	LogFormat            string `xml:"LogFormat"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	EnableMetrics        bool   `xml:"EnableMetrics"`
	CatalogFile          string `xml:"CatalogFile"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 90,
			IdleTimeout:  120,
			BodyLimit:    "64M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			MaxUploadSize:    "64M",
		},
		Analysis: AnalysisConfig{
			DefaultDelimiter: ",",
			DefaultTranspose: false,
		},
		Predictor: PredictorConfig{
			BaseURL:           "http://localhost:8000",
			TimeoutSeconds:    60,
			RequestsPerSecond: 0,
			Burst:             1,
			MaxResponseBytes:  1 << 20,
		},
		Processing: ProcessingConfig{
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			EnableCompression:      true,
			CompressionLevel:       5,
		},
		Security: SecurityConfig{
			AllowFileDeletion: true,
			AllowedFileTypes:  ".csv",
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "text",
			EnableRequestLogging: true,
			EnableMetrics:        true,
			CatalogFile:          "",
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	if err := config.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Machine Monitoring Dashboard Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("Server.Port %d out of range", c.Server.Port))
	}
	if c.Analysis.DefaultDelimiter == "" {
		errs = append(errs, errors.New("Analysis.DefaultDelimiter must not be empty"))
	}
	if c.Predictor.BaseURL == "" {
		errs = append(errs, errors.New("Predictor.BaseURL is required"))
	} else if u, err := url.Parse(c.Predictor.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("Predictor.BaseURL %q is not an http(s) URL", c.Predictor.BaseURL))
	}
	if c.Predictor.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("Predictor.TimeoutSeconds must not be negative"))
	}
	if c.Predictor.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("Predictor.RequestsPerSecond must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.UploadsDirectory) {
		c.Storage.UploadsDirectory = filepath.Join(configDir, c.Storage.UploadsDirectory)
	}
	if c.Advanced.CatalogFile != "" && !filepath.IsAbs(c.Advanced.CatalogFile) {
		c.Advanced.CatalogFile = filepath.Join(configDir, c.Advanced.CatalogFile)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// PredictTimeout returns the prediction request timeout.
func (c *AppConfig) PredictTimeout() time.Duration {
	return time.Duration(c.Predictor.TimeoutSeconds) * time.Second
}

// SessionTimeout returns how long an idle session is kept.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Processing.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often idle sessions are swept.
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Processing.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Processing.CleanupIntervalMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
