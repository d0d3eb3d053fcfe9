package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"cliparr/internal/broker"
	"cliparr/internal/config"
	"cliparr/internal/daemon"
	"cliparr/internal/deps"
	"cliparr/internal/detector"
	"cliparr/internal/extractor"
	"cliparr/internal/fingerprinter"
	"cliparr/internal/ipc"
	"cliparr/internal/logging"
	"cliparr/internal/notifications"
	"cliparr/internal/processor"
	"cliparr/internal/progress"
	"cliparr/internal/store"
	"cliparr/internal/trimmer"
	"cliparr/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the cliparr daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.LogDir, fmt.Sprintf("cliparr-%s.log", runID))
	eventsPath := filepath.Join(cfg.LogDir, fmt.Sprintf("cliparr-%s.events", runID))
	logHub := logging.NewStreamHub(4096)
	eventArchive, archiveErr := logging.NewEventArchive(eventsPath)
	if archiveErr != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to initialize log archive: %v\n", archiveErr)
	} else if eventArchive != nil {
		logHub.AddSink(eventArchive)
	}

	logger, err := logging.New(logging.Options{
		Level:            opts.LogLevel,
		Format:           cfg.LogFormat,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update cliparr.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, 14,
		logging.RetentionTarget{Dir: cfg.LogDir, Pattern: "cliparr-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: cfg.LogDir, Pattern: "cliparr-*.events", Exclude: []string{eventsPath}},
	)

	pidPath := filepath.Join(cfg.LogDir, "cliparr.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer st.Close()

	notifier := notifications.NewService(cfg)
	workflowManager := workflow.NewManagerWithOptions(cfg, st, logger, notifier, logHub)

	d, err := daemon.New(cfg, st, logger, workflowManager, logPath, logHub, eventArchive, notifier)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	registerStages(workflowManager, cfg, st, logger, d.Broker(), d.Progress())

	socketPath := filepath.Join(cfg.LogDir, "cliparr.sock")
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration, Sonarr connectivity, and required binaries"),
			logging.String(logging.FieldImpact, "daemon will not process the episode queue"),
		)
		return err
	}

	<-signalCtx.Done()
	d.Stop(context.Background())
	logger.Info("cliparr daemon shutting down")
	return nil
}

func registerStages(mgr *workflow.Manager, cfg *config.Config, st *store.Store, logger *slog.Logger, b *broker.Broker, pub *progress.Broadcaster) {
	if mgr == nil || cfg == nil {
		return
	}

	mgr.ConfigureStages(workflow.StageSet{
		Processor:     processor.New(st, logger),
		Extractor:     extractor.New(cfg, st, logger, b, pub),
		Fingerprinter: fingerprinter.New(cfg, st, logger, b, pub),
		Detector:      detector.New(cfg, st, logger, b),
		Trimmer:       trimmer.New(cfg, st, logger, b, pub),
	})
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "cliparr.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	ffmpeg := deps.CheckFFmpeg(cfg.FFmpegBinary())
	ffprobe := deps.CheckFFprobe(cfg.FFprobeBinary())
	fpcalc := deps.CheckFpcalc(cfg.FpcalcBinary())
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("sonarr_configured", cfg.SonarrURL != ""),
		logging.Bool("ffmpeg_available", ffmpeg.Available),
		logging.String("ffmpeg_binary", ffmpeg.Command),
		logging.Bool("ffprobe_available", ffprobe.Available),
		logging.Bool("fpcalc_available", fpcalc.Available),
		logging.Bool("ntfy_configured", cfg.NtfyTopic != ""),
	)
}
