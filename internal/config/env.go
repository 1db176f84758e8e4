package config

import (
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DASHBOARD"

// envOverrides lists the settings that may be overridden from the
// environment. Unset variables leave the field nil.
type envOverrides struct {
	Port           *int           `envconfig:"PORT"`
	DataDir        *string        `envconfig:"DATA_DIR"`
	APIURL         *string        `envconfig:"API_URL"`
	LogLevel       *string        `envconfig:"LOG_LEVEL"`
	LogFormat      *string        `envconfig:"LOG_FORMAT"`
	PredictTimeout *time.Duration `envconfig:"PREDICT_TIMEOUT"`
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if env.Port != nil {
		c.Server.Port = *env.Port
	}
	if env.DataDir != nil {
		c.Storage.DataDirectory = *env.DataDir
		c.Storage.UploadsDirectory = filepath.Join(*env.DataDir, "uploads")
	}
	if env.APIURL != nil {
		c.Predictor.BaseURL = *env.APIURL
	}
	if env.LogLevel != nil {
		c.Advanced.LogLevel = *env.LogLevel
	}
	if env.LogFormat != nil {
		c.Advanced.LogFormat = *env.LogFormat
	}
	if env.PredictTimeout != nil {
		c.Predictor.TimeoutSeconds = int(math.Ceil(env.PredictTimeout.Seconds()))
	}
	return nil
}
