package workflow_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"opal/internal/jobs"
	"opal/internal/pipeline"
	"opal/internal/queue"
	"opal/internal/services"
	"opal/internal/stage"
	"opal/internal/testsupport"
	"opal/internal/workflow"
)

type stubStage struct {
	name  string
	queue string
	err   error
	calls atomic.Int64
}

func (s *stubStage) Name() string  { return s.name }
func (s *stubStage) Queue() string { return s.queue }

func (s *stubStage) Handle(context.Context, *queue.Message) error {
	s.calls.Add(1)
	return s.err
}

func (s *stubStage) HealthCheck(context.Context) stage.Health { return stage.Healthy(s.name) }

func TestManagerRequiresStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	transport := testsupport.MustOpenTransport(t, cfg)
	mgr := workflow.NewManager(cfg, transport, nil)
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error when no stages are configured")
	}
	if _, err := mgr.ProcessOnce(context.Background()); err == nil {
		t.Fatal("expected ProcessOnce error when no stages are configured")
	}
}

func TestManagerProcessOnceSettlesEachOutcome(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithParallelism(4))
	transport := testsupport.MustOpenTransport(t, cfg)
	ctx := context.Background()

	ok := &stubStage{name: "ok", queue: queue.Jobs}
	flaky := &stubStage{name: "flaky", queue: queue.Upscale, err: services.Wrap(services.ErrTransient, "flaky", "call", "timeout", nil)}
	poison := &stubStage{name: "poison", queue: queue.Exports, err: services.Wrap(services.ErrPoison, "poison", "decode", "bad", nil)}
	for _, q := range []string{queue.Jobs, queue.Jobs, queue.Upscale, queue.Exports} {
		if err := transport.Send(ctx, q, []byte(`{}`)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	mgr := workflow.NewManager(cfg, transport, nil)
	mgr.ConfigureStages(ok, flaky, poison, nil)
	handled, err := mgr.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if handled != 4 {
		t.Fatalf("handled = %d, want 4", handled)
	}

	status := mgr.Status(ctx)
	if len(status.Lanes) != 3 {
		t.Fatalf("expected 3 lanes, got %d", len(status.Lanes))
	}
	want := map[string]workflow.LaneStatus{
		"ok":     {Stage: "ok", Queue: queue.Jobs, Completed: 2},
		"flaky":  {Stage: "flaky", Queue: queue.Upscale, Abandoned: 1},
		"poison": {Stage: "poison", Queue: queue.Exports, DeadLettered: 1},
	}
	for _, lane := range status.Lanes {
		if lane != want[lane.Stage] {
			t.Fatalf("lane %s = %+v, want %+v", lane.Stage, lane, want[lane.Stage])
		}
	}
	if status.LastError == "" {
		t.Fatal("expected the last handler error to be recorded")
	}
	if !stage.AllReady(status.StageHealth) {
		t.Fatalf("expected healthy stages, got %+v", status.StageHealth)
	}

	stats := map[string]queue.Stats{}
	for _, s := range status.QueueStats {
		stats[s.Queue] = s
	}
	if stats[queue.Jobs].Active != 0 || stats[queue.Upscale].Active != 1 || stats[queue.Exports].Dead != 1 {
		t.Fatalf("unexpected queue stats %+v", status.QueueStats)
	}
}

func TestManagerRunsPipelineEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithParallelism(2))
	store := testsupport.MustOpenStore(t, cfg)
	transport := testsupport.MustOpenTransport(t, cfg)
	blobs := testsupport.MustBlobClient(t, cfg)
	pipe := pipeline.New(pipeline.Options{
		Store:      store,
		Transport:  transport,
		Blobs:      blobs,
		Containers: pipeline.Containers{Raw: cfg.Blob.RawContainer, Outputs: cfg.Blob.OutputsContainer},
		Policy:     testsupport.RetryPolicy(cfg),
	})

	opts := jobs.Options{RemoveBackground: true, Upscale: true}
	job, item := testsupport.SeedItem(t, cfg, store, blobs, opts, []byte("raw"))
	bg := &testsupport.FakeTransformer{Tag: "+bg"}
	up := &testsupport.FakeTransformer{Tag: "+up"}

	mgr := workflow.NewManager(cfg, transport, nil)
	mgr.ConfigureStages(
		pipe.Coordinator(),
		pipe.Worker(pipeline.StageBackground, bg),
		pipe.Worker(pipeline.StageScene, nil),
		pipe.Worker(pipeline.StageUpscale, up),
		pipe.Exporter(nil, time.Hour),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mgr.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}
	defer mgr.Stop()

	req := pipeline.Request{TenantID: item.TenantID, JobID: job.ID, ItemID: item.ID}
	if err := queue.SendJSON(ctx, transport, queue.Jobs, req); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		got := testsupport.MustGetItem(t, store, item.ID)
		if got.Status == jobs.ItemCompleted {
			data, err := blobs.Get(ctx, cfg.Blob.OutputsContainer, got.OutputBlobPath)
			if err != nil || string(data) != "raw+bg+up" {
				t.Fatalf("final output %q, %v", data, err)
			}
			break
		}
		if got.Status == jobs.ItemFailed {
			t.Fatalf("item failed: %s", got.ErrorMessage)
		}
		if time.Now().After(deadline) {
			t.Fatalf("item did not complete; status %s", got.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The export lane drains the notice shortly after completion.
	deadline = time.Now().Add(5 * time.Second)
	for {
		var completed int64
		for _, lane := range mgr.Status(ctx).Lanes {
			if lane.Stage == string(pipeline.StageExport) {
				completed = lane.Completed
			}
		}
		if completed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("export lane never completed the notice")
		}
		time.Sleep(20 * time.Millisecond)
	}

	mgr.Stop()
	if mgr.Running() {
		t.Fatal("expected manager stopped")
	}
}

func TestManagerProcessOnceReportsReceiveErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	transport := testsupport.MustOpenTransport(t, cfg)
	mgr := workflow.NewManager(cfg, transport, nil)
	stub := &stubStage{name: "ok", queue: queue.Jobs}
	mgr.ConfigureStages(stub)
	if err := transport.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := mgr.ProcessOnce(context.Background()); err == nil {
		t.Fatal("expected receive error from a closed transport")
	}
	if stub.calls.Load() != 0 {
		t.Fatal("handler ran without a delivery")
	}
}
