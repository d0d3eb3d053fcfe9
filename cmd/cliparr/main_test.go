package main

import "testing"

func TestRootCommandHelp(t *testing.T) {
	stdout, _, err := runCLI(t, []string{"--help"}, "", "")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	requireContains(t, stdout, "cliparr")
}

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, []string{"config", "validate"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config validate failed: %v", err)
	}
	requireContains(t, stdout, "Configuration valid")
}
