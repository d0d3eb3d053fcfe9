package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"cliparr/internal/broker"
	"cliparr/internal/config"
	"cliparr/internal/jobs"
	"cliparr/internal/logging"
	"cliparr/internal/metrics"
	"cliparr/internal/notifications"
	"cliparr/internal/preflight"
	"cliparr/internal/progress"
	"cliparr/internal/sonarr"
	"cliparr/internal/store"
	"cliparr/internal/workflow"
)

// Daemon is the long-running Cliparr process: the workflow manager's worker
// pools, the Sonarr import poller, the shared coordination broker, the
// progress broadcaster, the metrics endpoint, and the HTTP API server, all
// under one PID-file lock.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	workflow   *workflow.Manager
	logPath    string
	logHub     *logging.StreamHub
	logArchive *logging.EventArchive
	apiSrv     *apiServer

	broker      *broker.Broker
	orchestrator *jobs.Orchestrator
	progress    *progress.Broadcaster
	metricsSrv  *metrics.Server
	syncer      *sonarr.Syncer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	depsMu       sync.RWMutex
	dependencies []DependencyStatus
	notifier     notifications.Service
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	Dependencies []DependencyStatus
	PID          int
}

// DependencyStatus reports the availability of an external requirement.
type DependencyStatus struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, wf *workflow.Manager, logPath string, hub *logging.StreamHub, archive *logging.EventArchive, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}
	if strings.TrimSpace(logPath) == "" {
		return nil, errors.New("daemon requires log path")
	}

	lockPath := filepath.Join(cfg.LogDir, "cliparr.lock")
	b := broker.New(cfg)
	orchestrator := jobs.New(st, b, cfg)
	sonarrClient := sonarr.NewClient(cfg.SonarrURL, cfg.SonarrAPIKey, 30*time.Second)
	syncer := sonarr.NewSyncer(sonarrClient, st, orchestrator, notifier, cfg, logger)

	d := &Daemon{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		workflow:     wf,
		logPath:      logPath,
		logHub:       hub,
		logArchive:   archive,
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
		notifier:     notifier,
		broker:       b,
		orchestrator: orchestrator,
		progress:     progress.NewBroadcaster(b, logger),
		metricsSrv:   metrics.NewServer(cfg.MetricsBind),
		syncer:       syncer,
	}

	apiSrv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.apiSrv = apiSrv

	return d, nil
}

// Start launches the workflow manager and acquires the daemon lock.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cliparr daemon instance is already running")
	}

	if err := d.runDependencyChecks(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}

	go d.syncer.Run(d.ctx)
	go d.progress.Run(d.ctx)

	if d.metricsSrv != nil {
		if err := d.metricsSrv.Start(); err != nil {
			d.logger.Warn("metrics server failed to start; /metrics disabled", logging.Error(err))
		}
	}

	if d.apiSrv != nil {
		if err := d.apiSrv.start(d.ctx); err != nil {
			d.workflow.Stop()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			_ = d.lock.Unlock()
			return fmt.Errorf("start api server: %w", err)
		}
	}

	d.running.Store(true)
	d.logger.Info("cliparr daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
// The passed context is used as the parent for shutdown timeouts;
// pass context.Background() if no external cancellation is needed.
func (d *Daemon) Stop(ctx context.Context) {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.apiSrv != nil {
		d.apiSrv.stop()
	}
	if d.metricsSrv != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		d.metricsSrv.Stop(stopCtx)
		cancel()
	}
	d.workflow.Stop()

	// Reclaim jobs still mid-stage so a crash or restart doesn't leave a
	// job permanently stuck past its heartbeat deadline.
	if d.store != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if count, err := d.store.ReclaimStaleProcessing(shutdownCtx, time.Now()); err != nil {
			d.logger.Warn("failed to reclaim active jobs on shutdown",
				logging.Error(err),
				logging.String(logging.FieldEventType, "shutdown_reclaim_error"),
				logging.String(logging.FieldImpact, "jobs may remain stuck until the next heartbeat sweep"))
		} else if count > 0 {
			d.logger.Info("reclaimed active jobs on shutdown",
				logging.Int64("count", count),
				logging.String(logging.FieldEventType, "shutdown_reclaim"),
			)
		}
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_lock_release_failed"),
			logging.String(logging.FieldImpact, "stale lock may block future daemon starts"),
			logging.String(logging.FieldErrorHint, "Run cliparr stop again or remove the lock file manually"))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("cliparr daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stop"),
	)
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop(context.Background())
	if d.logArchive != nil {
		_ = d.logArchive.Close()
	}
	if d.broker != nil {
		_ = d.broker.Close()
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Store exposes the job store for packages that build their own API
// services on top of the daemon, such as internal/ipc.
func (d *Daemon) Store() *store.Store { return d.store }

// Orchestrator exposes the job lifecycle orchestrator.
func (d *Daemon) Orchestrator() *jobs.Orchestrator { return d.orchestrator }

// Workflow exposes the workflow manager.
func (d *Daemon) Workflow() *workflow.Manager { return d.workflow }

// Broker exposes the coordination broker.
func (d *Daemon) Broker() *broker.Broker { return d.broker }

// Progress exposes the process-wide progress broadcaster.
func (d *Daemon) Progress() *progress.Broadcaster { return d.progress }

// Syncer exposes the Sonarr import syncer.
func (d *Daemon) Syncer() *sonarr.Syncer { return d.syncer }

// Config exposes the daemon's configuration.
func (d *Daemon) Config() *config.Config { return d.cfg }

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	if d == nil {
		return ""
	}
	return d.logPath
}

// LogStream exposes the live log event hub.
func (d *Daemon) LogStream() *logging.StreamHub {
	if d == nil {
		return nil
	}
	return d.logHub
}

// LogArchive exposes the on-disk event archive used for API history.
func (d *Daemon) LogArchive() *logging.EventArchive {
	if d == nil {
		return nil
	}
	return d.logArchive
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	summary := d.workflow.Status(ctx)

	d.depsMu.RLock()
	dependencies := make([]DependencyStatus, len(d.dependencies))
	copy(dependencies, d.dependencies)
	d.depsMu.RUnlock()

	return Status{
		Running:      d.running.Load(),
		Workflow:     summary,
		QueueDBPath:  filepath.Join(d.cfg.LogDir, "cliparr.db"),
		LockFilePath: d.lockPath,
		Dependencies: dependencies,
		PID:          os.Getpid(),
	}
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTestNotification, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

func (d *Daemon) runDependencyChecks(ctx context.Context) error {
	results := preflight.CheckSystemDeps(d.cfg)
	d.depsMu.Lock()
	d.dependencies = make([]DependencyStatus, len(results))
	for i, result := range results {
		d.dependencies[i] = DependencyStatus{
			Name:        result.Name,
			Command:     result.Command,
			Description: result.Description,
			Optional:    result.Optional,
			Available:   result.Available,
			Detail:      result.Detail,
		}
	}
	d.depsMu.Unlock()

	for _, status := range results {
		if status.Available {
			continue
		}
		fields := []logging.Attr{
			logging.String("dependency", status.Name),
			logging.String("command", status.Command),
		}
		if status.Detail != "" {
			fields = append(fields, logging.String("detail", status.Detail))
		}
		if status.Optional {
			fields = append(fields,
				logging.Bool("optional", true),
				logging.String(logging.FieldEventType, "dependency_unavailable"),
				logging.String(logging.FieldErrorHint, "install the dependency or disable the feature in config"),
			)
			d.logger.Warn("optional dependency unavailable; related features disabled", logging.Args(fields...)...)
		} else {
			fields = append(fields,
				logging.String(logging.FieldEventType, "dependency_unavailable"),
				logging.String(logging.FieldErrorHint, "install the dependency and make sure it is on PATH"),
			)
			d.logger.Error("required dependency unavailable; daemon startup blocked", logging.Args(fields...)...)
			if d.notifier != nil {
				_ = d.notifier.Publish(ctx, notifications.EventError, notifications.Payload{
					"context": fmt.Sprintf("dependency %s", status.Name),
					"error":   status.Detail,
				})
			}
		}
	}
	missing := make([]string, 0)
	for _, status := range results {
		if status.Available || status.Optional {
			continue
		}
		missing = append(missing, status.Name)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}
