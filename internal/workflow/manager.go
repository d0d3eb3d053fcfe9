package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"cliparr/internal/config"
	"cliparr/internal/logging"
	"cliparr/internal/notifications"
	"cliparr/internal/services"
	"cliparr/internal/store"
)

// Manager coordinates job processing using registered stage handlers.
type Manager struct {
	cfg               *config.Config
	store             *store.Store
	logger            *slog.Logger
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	notifier          notifications.Service
	logHub            *logging.StreamHub
	heartbeat         *HeartbeatMonitor
	backgroundLog     *BackgroundLogger

	pools     map[poolKind]*poolState
	poolOrder []poolKind

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *store.ProcessingJob

	queueActive bool
	queueStart  time.Time

	pauseFlags map[poolKind]*atomic.Bool
}

// NewManager constructs a new workflow manager.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger) *Manager {
	return NewManagerWithOptions(cfg, st, logger, notifications.NewService(cfg), nil)
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier (used in tests).
func NewManagerWithNotifier(cfg *config.Config, st *store.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	return NewManagerWithOptions(cfg, st, logger, notifier, nil)
}

// NewManagerWithOptions constructs a workflow manager with full configuration.
func NewManagerWithOptions(cfg *config.Config, st *store.Store, logger *slog.Logger, notifier notifications.Service, logHub *logging.StreamHub) *Manager {
	heartbeatInterval := time.Duration(cfg.WorkflowHeartbeatInterval) * time.Second
	heartbeatTimeout := time.Duration(cfg.WorkflowHeartbeatTimeout) * time.Second
	return &Manager{
		cfg:               cfg,
		store:             st,
		logger:            logger,
		notifier:          notifier,
		logHub:            logHub,
		pollInterval:      time.Duration(cfg.PollingInterval) * time.Second,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		heartbeat:         NewHeartbeatMonitor(st, logger, heartbeatInterval, heartbeatTimeout),
		backgroundLog:     NewBackgroundLogger(cfg, logHub),
		pools:             make(map[poolKind]*poolState),
	}
}

func (m *Manager) poolLogger(pool *poolState) *slog.Logger {
	if m.logger == nil {
		return logging.NewNop()
	}
	name := pool.name
	if name == "" {
		name = string(pool.kind)
	}
	return m.logger.With(
		logging.String("component", fmt.Sprintf("workflow-%s-pool", name)),
		logging.String("pool", name),
	)
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *store.ProcessingJob) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}

func withStageContext(ctx context.Context, pool *poolState, stageName string, job *store.ProcessingJob, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if job != nil {
		ctx = services.WithItemID(ctx, job.ID)
	}
	if stageName != "" {
		ctx = services.WithStage(ctx, stageName)
	}
	if pool != nil {
		label := strings.TrimSpace(pool.name)
		if label == "" {
			label = string(pool.kind)
		}
		ctx = services.WithLane(ctx, label)
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}

func deriveStageLabel(status store.Status) string {
	if status == "" {
		return ""
	}
	parts := strings.Fields(strings.ReplaceAll(string(status), "_", " "))
	for i, part := range parts {
		if part == "" {
			continue
		}
		runes := []rune(strings.ToLower(part))
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}

func sanitizeSlug(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	var builder strings.Builder
	builder.Grow(len(value))
	lastDash := false
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(unicode.ToLower(r))
			lastDash = false
		default:
			if !lastDash {
				builder.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(builder.String(), "-")
	return slug
}
