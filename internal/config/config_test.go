package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cliparr/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndEnv(t *testing.T) {
	t.Setenv("SONARR_API_KEY", "test-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "cliparr", "staging")
	if cfg.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.StagingDir, wantStaging)
	}
	if cfg.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.APIBind)
	}
	if cfg.SonarrAPIKey != "test-key" {
		t.Fatalf("expected sonarr api key from env, got %q", cfg.SonarrAPIKey)
	}
	if cfg.ImportMode != "auto" {
		t.Fatalf("expected default import_mode auto, got %q", cfg.ImportMode)
	}
	if cfg.WorkflowHeartbeatInterval != config.Default().WorkflowHeartbeatInterval {
		t.Fatalf("unexpected heartbeat interval: %d", cfg.WorkflowHeartbeatInterval)
	}
	if cfg.WorkflowHeartbeatTimeout != config.Default().WorkflowHeartbeatTimeout {
		t.Fatalf("unexpected heartbeat timeout: %d", cfg.WorkflowHeartbeatTimeout)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.StagingDir, cfg.OutputDirectory, cfg.TempDir, cfg.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "cliparr.toml")

	type payload struct {
		SonarrAPIKey              string `toml:"sonarr_api_key"`
		OutputDirectory           string `toml:"output_directory"`
		WorkflowHeartbeatInterval int    `toml:"workflow_heartbeat_interval"`
		WorkflowHeartbeatTimeout  int    `toml:"workflow_heartbeat_timeout"`
	}
	custom := payload{
		SonarrAPIKey:              "abc123",
		OutputDirectory:           filepath.Join(tempDir, "custom-output"),
		WorkflowHeartbeatInterval: 20,
		WorkflowHeartbeatTimeout:  200,
	}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.SonarrAPIKey != "abc123" {
		t.Fatalf("expected sonarr api key from file, got %q", cfg.SonarrAPIKey)
	}
	if cfg.OutputDirectory != filepath.Join(tempDir, "custom-output") {
		t.Fatalf("expected custom output directory, got %q", cfg.OutputDirectory)
	}
	if cfg.WorkflowHeartbeatInterval != 20 {
		t.Fatalf("expected heartbeat interval 20, got %d", cfg.WorkflowHeartbeatInterval)
	}
	if cfg.WorkflowHeartbeatTimeout != 200 {
		t.Fatalf("expected heartbeat timeout 200, got %d", cfg.WorkflowHeartbeatTimeout)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_sonarr_api_key_here") {
		t.Fatalf("sample config missing placeholder sonarr key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.StagingDir, "cliparr") {
		t.Fatalf("expected staging dir to contain cliparr, got %q", cfg.StagingDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.WorkflowHeartbeatInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive heartbeat interval")
	}

	cfg = config.Default()
	cfg.WorkflowHeartbeatTimeout = cfg.WorkflowHeartbeatInterval
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when timeout <= interval")
	}

	cfg = config.Default()
	cfg.MinConfidenceThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for min_confidence_threshold out of range")
	}

	cfg = config.Default()
	cfg.PollingInterval = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for polling_interval below 60")
	}

	cfg = config.Default()
	cfg.CPUWorkerLimit = 99
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for cpu_worker_limit above 16")
	}

	cfg = config.Default()
	cfg.GPUWorkerLimit = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative gpu_worker_limit")
	}

	cfg = config.Default()
	cfg.ImportMode = "nonsense"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid import_mode")
	}

	cfg = config.Default()
	cfg.CohortCommonFraction = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for cohort_common_fraction out of range")
	}
}
