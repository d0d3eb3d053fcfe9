package daemonrun

import (
	"context"
	"testing"

	"cliparr/internal/logging"
	"cliparr/internal/testsupport"
	"cliparr/internal/workflow"
)

func TestRegisterStagesWiresAllFiveStages(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	mgr := workflow.NewManager(cfg, st, logger)
	registerStages(mgr, cfg, st, logger, nil, nil)

	health := mgr.Status(context.Background()).StageHealth
	for _, name := range []string{"processor", "extractor", "fingerprinter", "detector", "trimmer"} {
		if _, ok := health[name]; !ok {
			t.Fatalf("expected stage %q to be registered, got %#v", name, health)
		}
	}
}
