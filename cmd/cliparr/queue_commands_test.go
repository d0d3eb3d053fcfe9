package main

import (
	"strconv"
	"testing"

	"cliparr/internal/testsupport"
)

func TestQueueListAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	job := testsupport.NewJob(t, env.store, "Test Show", 1, 1)

	stdout, _, err := runCLI(t, []string{"queue", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
	requireContains(t, stdout, "Test Show")

	stdout, _, err = runCLI(t, []string{"queue", "show", strconv.FormatInt(job.ID, 10)}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue show failed: %v", err)
	}
	requireContains(t, stdout, "Test Show")
	requireContains(t, stdout, "S01E01")
}

func TestQueueShowMissingJob(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, []string{"queue", "show", "999999"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue show failed: %v", err)
	}
	requireContains(t, stdout, "not found")
}

func TestQueuePauseResume(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, []string{"queue", "pause", "cpu"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue pause failed: %v", err)
	}
	requireContains(t, stdout, "CPU pool paused")

	stdout, _, err = runCLI(t, []string{"queue", "status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue status failed: %v", err)
	}
	requireContains(t, stdout, "paused")

	stdout, _, err = runCLI(t, []string{"queue", "resume", "cpu"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue resume failed: %v", err)
	}
	requireContains(t, stdout, "CPU pool resumed")
}
