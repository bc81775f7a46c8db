package daemon_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"opal/internal/api"
	"opal/internal/daemon"
	"opal/internal/queue"
	"opal/internal/stage"
	"opal/internal/testsupport"
	"opal/internal/workflow"
)

type noopStage struct{}

func (noopStage) Name() string                                 { return "noop" }
func (noopStage) Queue() string                                { return queue.Jobs }
func (noopStage) Handle(context.Context, *queue.Message) error { return nil }
func (noopStage) HealthCheck(context.Context) stage.Health     { return stage.Healthy("noop") }

func newDaemon(t *testing.T, srv *api.Server) (*daemon.Daemon, *workflow.Manager) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	transport := testsupport.MustOpenTransport(t, cfg)
	mgr := workflow.NewManager(cfg, transport, nil)
	mgr.ConfigureStages(noopStage{})
	d, err := daemon.New(cfg, mgr, srv, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, mgr
}

func TestDaemonStartStop(t *testing.T) {
	d, _ := newDaemon(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("expected daemon and workflow running, got %+v", status)
	}
	if status.LockFilePath == "" {
		t.Fatal("expected lock path")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running || status.Workflow.Running {
		t.Fatal("expected daemon to be stopped")
	}

	// The lock is released, so the daemon can start again.
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestDaemonLockRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	transport := testsupport.MustOpenTransport(t, cfg)
	build := func() *daemon.Daemon {
		mgr := workflow.NewManager(cfg, transport, nil)
		mgr.ConfigureStages(noopStage{})
		d, err := daemon.New(cfg, mgr, nil, nil)
		if err != nil {
			t.Fatalf("daemon.New: %v", err)
		}
		t.Cleanup(d.Stop)
		return d
	}
	first, second := build(), build()
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected the lock to reject a second daemon")
	}
	if second.Status(ctx).Workflow.Running {
		t.Fatal("rejected daemon must not start its lanes")
	}
}

func TestDaemonRunServesProbesUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	transport := testsupport.MustOpenTransport(t, cfg)
	mgr := workflow.NewManager(cfg, transport, nil)
	mgr.ConfigureStages(noopStage{})
	srv := api.NewServer(api.ServerOptions{Bind: "127.0.0.1:0", Workflow: mgr})
	d, err := daemon.New(cfg, mgr, srv, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == "" || !mgr.Running() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("daemon did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/readyz")
	if err != nil {
		cancel()
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("readyz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if mgr.Running() {
		t.Fatal("expected workflow stopped")
	}
}
