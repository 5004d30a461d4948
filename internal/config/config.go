// Package config loads engine configuration from an optional YAML file and
// the environment. Environment variables override file values.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSystem       = "generic"
	defaultStageDir     = "stage"
	defaultDBPath       = "crucible.db"
	defaultListenAddr   = ":8080"
	defaultConcurrency  = 4
	defaultPollInterval = 100 * time.Millisecond
	defaultJobTimeout   = 30 * time.Second

	envConfigPath   = "CRUCIBLE_CONFIG"
	envSystem       = "CRUCIBLE_SYSTEM"
	envStageDir     = "CRUCIBLE_STAGE_DIR"
	envDBPath       = "CRUCIBLE_DB_PATH"
	envListenAddr   = "CRUCIBLE_LISTEN_ADDR"
	envConcurrency  = "CRUCIBLE_CONCURRENCY"
	envPollInterval = "CRUCIBLE_POLL_INTERVAL"
	envJobTimeout   = "CRUCIBLE_JOB_TIMEOUT"
	envLogLevel     = "CRUCIBLE_LOG_LEVEL"
	envServeAPI     = "CRUCIBLE_SERVE_API"
)

// Config holds engine configuration.
type Config struct {
	// System is the name the run executes on, matched against case
	// validity filters and reference tables.
	System string

	// StageDir is the root under which per-case working directories are
	// created.
	StageDir string

	DBPath     string
	ListenAddr string

	// ServeAPI enables the status HTTP server for the duration of a run.
	ServeAPI bool

	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	LogLevel     slog.Level
}

// fileConfig is the YAML form of the config file.
type fileConfig struct {
	System       string `yaml:"system"`
	StageDir     string `yaml:"stage_dir"`
	DBPath       string `yaml:"db_path"`
	ListenAddr   string `yaml:"listen_addr"`
	ServeAPI     bool   `yaml:"serve_api"`
	Concurrency  int    `yaml:"concurrency"`
	PollInterval string `yaml:"poll_interval"`
	JobTimeout   string `yaml:"job_timeout"`
	LogLevel     string `yaml:"log_level"`
}

// Load reads configuration from the file named by CRUCIBLE_CONFIG (if set)
// and then from environment variables, which take precedence.
func Load() (Config, error) {
	cfg := Config{
		System:       defaultSystem,
		StageDir:     defaultStageDir,
		DBPath:       defaultDBPath,
		ListenAddr:   defaultListenAddr,
		Concurrency:  defaultConcurrency,
		PollInterval: defaultPollInterval,
		JobTimeout:   defaultJobTimeout,
		LogLevel:     slog.LevelInfo,
	}

	if path := os.Getenv(envConfigPath); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.System != "" {
		c.System = fc.System
	}
	if fc.StageDir != "" {
		c.StageDir = fc.StageDir
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.ServeAPI {
		c.ServeAPI = true
	}
	if fc.Concurrency > 0 {
		c.Concurrency = fc.Concurrency
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("parse poll_interval: %w", err)
		}
		c.PollInterval = d
	}
	if fc.JobTimeout != "" {
		d, err := time.ParseDuration(fc.JobTimeout)
		if err != nil {
			return fmt.Errorf("parse job_timeout: %w", err)
		}
		c.JobTimeout = d
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envSystem); v != "" {
		c.System = v
	}
	if v := os.Getenv(envStageDir); v != "" {
		c.StageDir = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envServeAPI); v != "" {
		c.ServeAPI = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv(envConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid %s: %q", envConcurrency, v)
		}
		c.Concurrency = n
	}
	if v := os.Getenv(envPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", envPollInterval, v)
		}
		c.PollInterval = d
	}
	if v := os.Getenv(envJobTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", envJobTimeout, v)
		}
		c.JobTimeout = d
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured
// level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
