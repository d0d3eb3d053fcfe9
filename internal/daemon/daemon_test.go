package daemon

import (
	"context"
	"testing"
)

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency status to be populated")
	}
	for _, dep := range status.Dependencies {
		if !dep.Available && !dep.Optional {
			t.Fatalf("expected dependency %s to be available, got detail %q", dep.Name, dep.Detail)
		}
	}

	// Second start should fail.
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop(context.Background())
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonStopWhenNotRunning(t *testing.T) {
	d := newTestDaemon(t)
	// Stop should be a no-op when the daemon was never started.
	d.Stop(context.Background())
	if d.Status(context.Background()).Running {
		t.Fatal("expected daemon to remain stopped")
	}
}
