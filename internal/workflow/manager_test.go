package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cliparr/internal/config"
	"cliparr/internal/notifications"
	"cliparr/internal/services"
	"cliparr/internal/stage"
	"cliparr/internal/store"
	"cliparr/internal/testsupport"
	"cliparr/internal/workflow"
)

type stubNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (s *stubNotifier) Publish(ctx context.Context, event notifications.Event, payload notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubNotifier) count(event notifications.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

// stubStage advances a job from its start status to a target status, or
// fails, according to the behavior configured by the test.
type stubStage struct {
	mu                sync.Mutex
	calls             int32
	prepareErr        error
	executeErr        error
	transientFailures int32
	onExecute         func(*store.ProcessingJob)
}

func (s *stubStage) Prepare(_ context.Context, job *store.ProcessingJob) error {
	return s.prepareErr
}

func (s *stubStage) Execute(_ context.Context, job *store.ProcessingJob) error {
	call := atomic.AddInt32(&s.calls, 1)
	if s.executeErr != nil {
		return s.executeErr
	}
	if call <= s.transientFailures {
		return services.Wrap(services.ErrTransient, "stub", "execute", "transient stub failure", nil)
	}
	if s.onExecute != nil {
		s.onExecute(job)
	}
	return nil
}

func (s *stubStage) HealthCheck(context.Context) stage.Health {
	return stage.Health{Name: "stub", Ready: true}
}

func (s *stubStage) callCount() int {
	return int(atomic.LoadInt32(&s.calls))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.StagingDir = filepath.Join(base, "staging")
	cfg.OutputDirectory = filepath.Join(base, "output")
	cfg.TempDir = filepath.Join(base, "tmp")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.PollingInterval = 0
	cfg.ErrorRetryInterval = 0
	cfg.WorkflowHeartbeatInterval = 1
	cfg.WorkflowHeartbeatTimeout = 60
	cfg.CPUWorkerLimit = 2
	cfg.GPUWorkerLimit = 0
	// No automatic retries unless a test opts in: fail-fast keeps the
	// failure-path assertions deterministic.
	cfg.MaxRetries = 0
	cfg.RetryBackoffSeconds = 0
	return &cfg
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestManager_AdvancesJobThroughConfiguredStage(t *testing.T) {
	cfg := testConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, s, "Example Show", 1, 1)

	job.Status = store.StatusExtractingAudio
	if err := s.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	extractor := &stubStage{}
	notifier := &stubNotifier{}
	mgr := workflow.NewManagerWithNotifier(cfg, s, slog.Default(), notifier)
	mgr.ConfigureStages(workflow.StageSet{Extractor: extractor})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, time.Second, func() bool {
		updated, err := s.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		return updated.Status == store.StatusFingerprinting
	})

	if extractor.callCount() != 1 {
		t.Fatalf("expected extractor to run once, got %d", extractor.callCount())
	}
}

func TestManager_StageFailureMarksJobFailed(t *testing.T) {
	cfg := testConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, s, "Example Show", 1, 1)

	fingerprinter := &stubStage{executeErr: errors.New("fpcalc exploded")}
	mgr := workflow.NewManager(cfg, s, slog.Default())
	mgr.ConfigureStages(workflow.StageSet{Fingerprinter: fingerprinter})

	job.Status = store.StatusFingerprinting
	if err := s.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, time.Second, func() bool {
		updated, err := s.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		return updated.Status == store.StatusFailed
	})

	updated, err := s.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if updated.ErrorMessage == "" {
		t.Fatal("expected error message to be recorded")
	}
}

func TestManager_NoConfiguredStagesRefusesToStart(t *testing.T) {
	cfg := testConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, s, slog.Default())

	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail with no configured stages")
	}
}

func TestManager_StatusReportsStageHealth(t *testing.T) {
	cfg := testConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	detector := &stubStage{}
	mgr := workflow.NewManager(cfg, s, slog.Default())
	mgr.ConfigureStages(workflow.StageSet{Detector: detector})

	summary := mgr.Status(context.Background())
	health, ok := summary.StageHealth["detector"]
	if !ok {
		t.Fatal("expected detector health entry")
	}
	if !health.Ready {
		t.Fatalf("expected detector to report ready, got %+v", health)
	}
}

func TestManager_RetryableFailureReEnqueuesWithBackoff(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 2
	s := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, s, "Example Show", 1, 1)
	job.Status = store.StatusExtractingAudio
	if err := s.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	extractor := &stubStage{transientFailures: 1}
	mgr := workflow.NewManager(cfg, s, slog.Default())
	mgr.ConfigureStages(workflow.StageSet{Extractor: extractor})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, 3*time.Second, func() bool {
		updated, err := s.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		return updated.Status == store.StatusFingerprinting
	})

	if extractor.callCount() != 2 {
		t.Fatalf("expected a retry after the transient failure, got %d calls", extractor.callCount())
	}
	updated, err := s.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if updated.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", updated.RetryCount)
	}
}

func TestManager_RetriesExhaustedTerminalizesJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 1
	s := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, s, "Example Show", 1, 1)
	job.Status = store.StatusExtractingAudio
	if err := s.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	extractor := &stubStage{transientFailures: 5}
	mgr := workflow.NewManager(cfg, s, slog.Default())
	mgr.ConfigureStages(workflow.StageSet{Extractor: extractor})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, 3*time.Second, func() bool {
		updated, err := s.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		return updated.Status == store.StatusFailed
	})

	if extractor.callCount() != 2 {
		t.Fatalf("expected the initial attempt plus one retry, got %d calls", extractor.callCount())
	}
}

func TestManager_ValidationFailureDoesNotRetry(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 3
	s := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, s, "Example Show", 1, 1)
	job.Status = store.StatusExtractingAudio
	if err := s.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	extractor := &stubStage{executeErr: services.Wrap(services.ErrValidation, "stub", "execute", "no_audio", nil)}
	mgr := workflow.NewManager(cfg, s, slog.Default())
	mgr.ConfigureStages(workflow.StageSet{Extractor: extractor})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, time.Second, func() bool {
		updated, err := s.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		return updated.Status == store.StatusFailed
	})

	if extractor.callCount() != 1 {
		t.Fatalf("validation failures must not retry, got %d calls", extractor.callCount())
	}
}
