package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cliparr/internal/config"
	"cliparr/internal/daemon"
	"cliparr/internal/ipc"
	"cliparr/internal/logging"
	"cliparr/internal/notifications"
	"cliparr/internal/stage"
	"cliparr/internal/store"
	"cliparr/internal/testsupport"
	"cliparr/internal/workflow"
)

type noopStage struct{}

func (noopStage) Prepare(context.Context, *store.ProcessingJob) error { return nil }
func (noopStage) Execute(context.Context, *store.ProcessingJob) error { return nil }
func (noopStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("noop")
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	baseDir    string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	configPath := filepath.Join(homeDir, ".config", "cliparr", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)

	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, st, logger)
	mgr.ConfigureStages(workflow.StageSet{
		Processor:     noopStage{},
		Extractor:     noopStage{},
		Fingerprinter: noopStage{},
		Detector:      noopStage{},
		Trimmer:       noopStage{},
	})

	logPath := filepath.Join(cfg.LogDir, "cliparr-test.log")
	hub := logging.NewStreamHub(16)
	d, err := daemon.New(cfg, st, logger, mgr, logPath, hub, nil, notifications.NewService(cfg))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	env := &cliTestEnv{
		cfg:        cfg,
		store:      st,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
	}

	t.Cleanup(func() {
		d.Stop(context.Background())
		cancel()
		srv.Close()
		d.Close()
	})

	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := strings.Join([]string{
		`staging_dir = "` + cfg.StagingDir + `"`,
		`output_directory = "` + cfg.OutputDirectory + `"`,
		`temp_dir = "` + cfg.TempDir + `"`,
		`log_dir = "` + cfg.LogDir + `"`,
		`api_bind = "` + cfg.APIBind + `"`,
		`sonarr_url = "` + cfg.SonarrURL + `"`,
		`sonarr_api_key = "` + cfg.SonarrAPIKey + `"`,
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
