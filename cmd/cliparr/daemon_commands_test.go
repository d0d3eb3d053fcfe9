package main

import (
	"testing"
)

func TestStatusCommandReportsRunning(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	requireContains(t, stdout, "Cliparr")
	requireContains(t, stdout, "Running")
}

func TestStopCommandWhenNotRunning(t *testing.T) {
	stdout, _, err := runCLI(t, []string{"stop"}, "/nonexistent/cliparr.sock", "")
	if err != nil {
		t.Fatalf("stop command failed: %v", err)
	}
	requireContains(t, stdout, "not running")
}

func TestTestNotifyCommandReportsOutcome(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, []string{"test-notify"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("test-notify command failed: %v", err)
	}
	if stdout == "" {
		t.Fatalf("expected notification message in stdout")
	}
}
