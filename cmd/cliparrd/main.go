// Command cliparrd is the long-running Cliparr daemon: it polls Sonarr for
// newly imported episodes, fingerprints and clusters them by cohort, detects
// intro/credits boundaries, and trims the output, all driven by
// internal/daemonrun.
package main

import (
	"context"
	"fmt"
	"os"

	"cliparr/internal/config"
	"cliparr/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "ensure directories: %v\n", err)
		os.Exit(1)
	}

	opts := daemonrun.Options{LogLevel: cfg.LogLevel}
	if err := daemonrun.Run(context.Background(), cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "cliparrd: %v\n", err)
		os.Exit(1)
	}
}
