package stage

import (
	"context"
	"log/slog"

	"cliparr/internal/store"
)

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *store.ProcessingJob) error
	Execute(context.Context, *store.ProcessingJob) error
	HealthCheck(context.Context) Health
}

// LoggerAware is implemented by stages that accept a per-item logger.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}
