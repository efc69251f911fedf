// Package config loads the YAML configuration file and applies CHAOS_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/JohnathanBurchill/chaos/internal/trace"
)

// Config is the complete program configuration.
type Config struct {
	CoefficientDir string          `yaml:"coefficient_dir"`
	Residuals      ResidualsConfig `yaml:"residuals"`
	Trace          TraceConfig     `yaml:"trace"`
	Server         ServerConfig    `yaml:"server"`
}

// ResidualsConfig controls the residual calculator.
type ResidualsConfig struct {
	// Skip is the number of samples between exact evaluations.
	Skip   int    `yaml:"skip"`
	Output string `yaml:"output"`
}

// TraceConfig holds tracer options and the sky-map worker count.
type TraceConfig struct {
	Direction     int     `yaml:"direction"`
	Accuracy      float64 `yaml:"accuracy_km"`
	Speed         float64 `yaml:"speed_km_s"`
	MaxSteps      int     `yaml:"max_steps"`
	MinAltitudeKm float64 `yaml:"min_altitude_km"`
	MaxAltitudeKm float64 `yaml:"max_altitude_km"`
	Workers       int     `yaml:"workers"`
}

// ServerConfig holds HTTP service settings.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	AuthEnabled  bool   `yaml:"auth_enabled"`
	AuthToken    string `yaml:"auth_token"`
	CacheEntries int    `yaml:"cache_entries"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CoefficientDir: ".",
		Residuals:      ResidualsConfig{Skip: 1},
		Trace: TraceConfig{
			Direction:     1,
			Accuracy:      trace.DefaultAccuracy,
			Speed:         trace.DefaultSpeed,
			MaxSteps:      trace.DefaultMaxSteps,
			MinAltitudeKm: 0,
			MaxAltitudeKm: 1000,
			Workers:       runtime.NumCPU(),
		},
		Server: ServerConfig{
			Addr:         ":8080",
			CacheEntries: 64,
		},
	}
}

// Load reads filename over the defaults. An empty filename returns the
// defaults unchanged.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate reports settings no command could run with.
func (c *Config) Validate() error {
	switch {
	case c.CoefficientDir == "":
		return errors.New("coefficient_dir is required")
	case c.Residuals.Skip < 1:
		return fmt.Errorf("residuals.skip must be at least 1, got %d", c.Residuals.Skip)
	case c.Trace.Direction != 1 && c.Trace.Direction != -1:
		return fmt.Errorf("trace.direction must be 1 or -1, got %d", c.Trace.Direction)
	case !(c.Trace.Accuracy > 0) || !(c.Trace.Speed > 0):
		return errors.New("trace.accuracy_km and trace.speed_km_s must be positive")
	case c.Trace.MaxSteps < 1:
		return fmt.Errorf("trace.max_steps must be at least 1, got %d", c.Trace.MaxSteps)
	case !(c.Trace.MinAltitudeKm < c.Trace.MaxAltitudeKm):
		return fmt.Errorf("trace altitude band [%v, %v] is empty", c.Trace.MinAltitudeKm, c.Trace.MaxAltitudeKm)
	case c.Trace.Workers < 1:
		return fmt.Errorf("trace.workers must be at least 1, got %d", c.Trace.Workers)
	case c.Server.AuthEnabled && c.Server.AuthToken == "":
		return errors.New("server.auth_token is required when auth is enabled")
	}
	return nil
}

// TraceOptions converts the trace settings to tracer options.
func (c *Config) TraceOptions() trace.Options {
	return trace.Options{
		Direction: c.Trace.Direction,
		Accuracy:  c.Trace.Accuracy,
		Speed:     c.Trace.Speed,
		MaxSteps:  c.Trace.MaxSteps,
		MinAltKm:  c.Trace.MinAltitudeKm,
		MaxAltKm:  c.Trace.MaxAltitudeKm,
	}
}

// ApplyEnv overrides cfg from CHAOS_* environment variables. Invalid
// values are logged and ignored, except for the auth settings, which
// return an error.
func ApplyEnv(cfg *Config, logger *slog.Logger) error {
	if v := os.Getenv("CHAOS_COEFFICIENT_DIR"); v != "" {
		cfg.CoefficientDir = v
	}
	if v := os.Getenv("CHAOS_RESIDUALS_OUTPUT"); v != "" {
		cfg.Residuals.Output = v
	}
	if v := os.Getenv("CHAOS_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}

	envInt(logger, "CHAOS_RESIDUALS_SKIP", &cfg.Residuals.Skip, 1)
	envInt(logger, "CHAOS_TRACE_MAX_STEPS", &cfg.Trace.MaxSteps, 1)
	envInt(logger, "CHAOS_TRACE_WORKERS", &cfg.Trace.Workers, 1)
	envInt(logger, "CHAOS_CACHE_ENTRIES", &cfg.Server.CacheEntries, 1)
	envFloat(logger, "CHAOS_TRACE_ACCURACY", &cfg.Trace.Accuracy, true)
	envFloat(logger, "CHAOS_TRACE_SPEED", &cfg.Trace.Speed, true)
	envFloat(logger, "CHAOS_TRACE_MIN_ALT", &cfg.Trace.MinAltitudeKm, false)
	envFloat(logger, "CHAOS_TRACE_MAX_ALT", &cfg.Trace.MaxAltitudeKm, false)

	if v := os.Getenv("CHAOS_TRACE_DIRECTION"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || (n != 1 && n != -1) {
			logger.Warn("invalid CHAOS_TRACE_DIRECTION value, using default", "value", v, "default", cfg.Trace.Direction)
		} else {
			cfg.Trace.Direction = n
		}
	}

	if v := os.Getenv("CHAOS_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("CHAOS_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Server.AuthEnabled = enabled
	}
	if v := os.Getenv("CHAOS_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if cfg.Server.AuthEnabled && cfg.Server.AuthToken == "" {
		return errors.New("CHAOS_AUTH_TOKEN is required when auth is enabled")
	}

	logger.Info("config",
		"coefficient_dir", cfg.CoefficientDir,
		"residuals_skip", cfg.Residuals.Skip,
		"trace_direction", cfg.Trace.Direction,
		"trace_accuracy_km", cfg.Trace.Accuracy,
		"trace_speed_km_s", cfg.Trace.Speed,
		"trace_max_steps", cfg.Trace.MaxSteps,
		"trace_altitude_band_km", []float64{cfg.Trace.MinAltitudeKm, cfg.Trace.MaxAltitudeKm},
		"trace_workers", cfg.Trace.Workers,
		"http_addr", cfg.Server.Addr,
		"auth_enabled", cfg.Server.AuthEnabled,
		"cache_entries", cfg.Server.CacheEntries,
	)
	return nil
}

func envInt(logger *slog.Logger, name string, dst *int, min int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func envFloat(logger *slog.Logger, name string, dst *float64, positive bool) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || (positive && !(f > 0)) {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = f
}
