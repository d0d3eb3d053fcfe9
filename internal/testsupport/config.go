package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"cliparr/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.SonarrAPIKey = "test"
	cfgVal.StagingDir = filepath.Join(base, "staging")
	cfgVal.OutputDirectory = filepath.Join(base, "output")
	cfgVal.TempDir = filepath.Join(base, "tmp")
	cfgVal.LogDir = filepath.Join(base, "logs")
	cfgVal.APIBind = "127.0.0.1:0"
	cfgVal.MetricsBind = "127.0.0.1:0"
	// Point at a throwaway redis db so tests never collide with a real broker.
	cfgVal.RedisAddr = "127.0.0.1:6379"
	cfgVal.RedisDB = 15

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSonarr overrides the Sonarr URL and API key on the test config.
func WithSonarr(url, key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.SonarrURL = url
		b.cfg.SonarrAPIKey = key
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default Cliparr external
// binaries are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "fpcalc"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.StagingDir)
}
