package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cliparr/internal/config"
	"cliparr/internal/ipc"
	"cliparr/internal/preflight"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the cliparr daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			if client, err := ctx.dialClient(); err == nil {
				defer client.Close()
				fmt.Fprintln(stdout, "Daemon already running")
				return nil
			}

			fmt.Fprintln(stdout, "Daemon not running, launching...")
			if err := launchDaemonProcess(ctx); err != nil {
				return err
			}
			client, err := waitForDaemonClient(ctx.socketPath(), 10*time.Second)
			if err != nil {
				return err
			}
			defer client.Close()
			fmt.Fprintln(stdout, "Daemon started")
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the cliparr daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ctx.dialClient()
			if err != nil {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			resp, err := client.Stop()
			_ = client.Close()
			if err != nil {
				return err
			}
			if resp.Stopped {
				fmt.Fprintln(stdout, "Daemon stopped")
			} else {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if cfg == nil {
				return errors.New("configuration not available")
			}
			stdout := cmd.OutOrStdout()

			status := &ipc.StatusResponse{}
			client, err := ctx.dialClient()
			if err == nil {
				defer client.Close()
				if resp, statusErr := client.Status(); statusErr == nil {
					status = resp
				}
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, status.Status)
			}

			colorize := shouldColorize(stdout)
			fmt.Fprintln(stdout, "System Status")
			if status.Status.Running {
				fmt.Fprintln(stdout, renderStatusLine("Cliparr", statusOK, fmt.Sprintf("Running (pid %d)", status.Status.PID), colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Cliparr", statusWarn, "Not running (run `cliparr start`)", colorize))
			}
			if strings.TrimSpace(cfg.SonarrURL) != "" {
				fmt.Fprintln(stdout, renderStatusLine("Sonarr", statusOK, cfg.SonarrURL, colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Sonarr", statusWarn, "Not configured", colorize))
			}
			if strings.TrimSpace(cfg.NtfyTopic) != "" {
				fmt.Fprintln(stdout, renderStatusLine("Notifications", statusOK, "Configured", colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Notifications", statusWarn, "Not configured", colorize))
			}

			dependencies := status.Status.Dependencies
			if len(dependencies) == 0 {
				dependencies = dependencyStatuses(cfg)
			}
			for _, line := range dependencyLines(dependencies, colorize) {
				fmt.Fprintln(stdout, line)
			}

			for _, dir := range []struct{ label, path string }{
				{"Output", cfg.OutputDirectory},
				{"Staging", cfg.StagingDir},
				{"Temp", cfg.TempDir},
			} {
				fmt.Fprintln(stdout, directoryStatusLine(dir.label, dir.path, colorize))
			}

			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, "Queue Status")
			queueStats := status.Status.Workflow.QueueStats
			rows := buildQueueStatusRows(queueStats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			fmt.Fprint(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the cliparr daemon in the foreground (internal)",
		Hidden:       true,
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
	return cmd
}

func dependencyStatuses(cfg *config.Config) []ipc.DependencyStatus {
	statuses := preflight.CheckSystemDeps(cfg)
	out := make([]ipc.DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, ipc.DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		})
	}
	return out
}

func dependencyLines(dependencies []ipc.DependencyStatus, colorize bool) []string {
	if len(dependencies) == 0 {
		return nil
	}
	lines := make([]string, 0, len(dependencies))
	for _, dep := range dependencies {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func directoryStatusLine(label, path string, colorize bool) string {
	if strings.TrimSpace(path) == "" {
		return renderStatusLine(label, statusWarn, "Not configured", colorize)
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return renderStatusLine(label, statusError, fmt.Sprintf("%s (missing)", path), colorize)
	case !info.IsDir():
		return renderStatusLine(label, statusError, fmt.Sprintf("%s (not a directory)", path), colorize)
	default:
		return renderStatusLine(label, statusOK, path, colorize)
	}
}

func buildQueueStatusRows(stats map[string]int) [][]string {
	order := []string{
		"scanning", "extracting_audio", "fingerprinting", "awaiting_cohort",
		"detecting", "detected", "verified", "trimming", "completed", "failed",
	}
	rows := make([][]string, 0, len(stats))
	seen := make(map[string]bool, len(stats))
	for _, status := range order {
		if count, ok := stats[status]; ok {
			rows = append(rows, []string{status, fmt.Sprintf("%d", count)})
			seen[status] = true
		}
	}
	for status, count := range stats {
		if !seen[status] {
			rows = append(rows, []string{status, fmt.Sprintf("%d", count)})
		}
	}
	return rows
}

func launchDaemonProcess(ctx *commandContext) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	args := []string{"daemon"}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			args = append(args, "--socket", socket)
		}
	}
	if ctx.configFlag != nil {
		if cfgPath := strings.TrimSpace(*ctx.configFlag); cfgPath != "" {
			args = append(args, "--config", cfgPath)
		}
	}
	proc := exec.Command(exe, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

func waitForDaemonClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}
