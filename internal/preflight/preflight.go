package preflight

import (
	"context"

	"cliparr/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Staging directory", cfg.StagingDir))
	results = append(results, CheckDirectoryAccess("Output directory", cfg.OutputDirectory))
	results = append(results, CheckDirectoryAccess("Temp directory", cfg.TempDir))

	if cfg.SonarrURL != "" {
		results = append(results, CheckSonarr(ctx, cfg.SonarrURL, cfg.SonarrAPIKey))
	}

	for _, dep := range CheckSystemDeps(cfg) {
		results = append(results, Result{
			Name:   dep.Name,
			Passed: dep.Available,
			Detail: dep.Detail,
		})
	}

	return results
}
