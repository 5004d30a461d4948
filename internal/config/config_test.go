package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.System != defaultSystem {
		t.Errorf("System = %q, want %q", cfg.System, defaultSystem)
	}
	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.Concurrency != defaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, defaultConcurrency)
	}
	if cfg.JobTimeout != defaultJobTimeout {
		t.Errorf("JobTimeout = %v, want %v", cfg.JobTimeout, defaultJobTimeout)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.ServeAPI {
		t.Error("ServeAPI should default to false")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envSystem, "daint")
	t.Setenv(envStageDir, "/scratch/stage")
	t.Setenv(envConcurrency, "8")
	t.Setenv(envJobTimeout, "2m")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envServeAPI, "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.System != "daint" {
		t.Errorf("System = %q, want daint", cfg.System)
	}
	if cfg.StageDir != "/scratch/stage" {
		t.Errorf("StageDir = %q, want /scratch/stage", cfg.StageDir)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.JobTimeout != 2*time.Minute {
		t.Errorf("JobTimeout = %v, want 2m", cfg.JobTimeout)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if !cfg.ServeAPI {
		t.Error("ServeAPI = false, want true")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
system: dom
stage_dir: /tmp/stage
concurrency: 2
poll_interval: 250ms
log_level: warn
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.System != "dom" {
		t.Errorf("System = %q, want dom", cfg.System)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want 2", cfg.Concurrency)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v, want warn", cfg.LogLevel)
	}
	// Unset fields keep their defaults.
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want default", cfg.DBPath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("system: dom\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, path)
	t.Setenv(envSystem, "daint")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.System != "daint" {
		t.Errorf("System = %q, want env to win over file", cfg.System)
	}
}

func TestLoadInvalidConcurrency(t *testing.T) {
	t.Setenv(envConcurrency, "zero")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric concurrency")
	}

	t.Setenv(envConcurrency, "-1")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative concurrency")
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
