package main

import (
	"context"
	"fmt"

	"cliparr/internal/daemonrun"
)

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
	}
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts := daemonrun.Options{
		LogLevel:    ctx.resolvedLogLevel(cfg),
		Development: ctx.logDevelopment(cfg),
	}
	return daemonrun.Run(cmdCtx, cfg, opts)
}
