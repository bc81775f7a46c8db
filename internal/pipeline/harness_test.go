package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"opal/internal/blob"
	"opal/internal/config"
	"opal/internal/jobs"
	"opal/internal/notifications"
	"opal/internal/pipeline"
	"opal/internal/queue"
	"opal/internal/testsupport"
)

var testColor = color.NRGBA{R: 200, G: 40, B: 40, A: 255}

type harness struct {
	cfg       *config.Config
	store     *jobs.SQLiteStore
	transport *queue.SQLiteTransport
	blobs     *blob.Client
	pipe      *pipeline.Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	transport := testsupport.MustOpenTransport(t, cfg)
	blobs := testsupport.MustBlobClient(t, cfg)
	pipe := pipeline.New(pipeline.Options{
		Store:     store,
		Transport: transport,
		Blobs:     blobs,
		Containers: pipeline.Containers{
			Raw:     cfg.Blob.RawContainer,
			Outputs: cfg.Blob.OutputsContainer,
		},
		Policy: testsupport.RetryPolicy(cfg),
	})
	return &harness{cfg: cfg, store: store, transport: transport, blobs: blobs, pipe: pipe}
}

// drain receives and completes everything currently on queueName.
func (h *harness) drain(t *testing.T, queueName string) []*queue.Message {
	t.Helper()
	ctx := context.Background()
	var out []*queue.Message
	for {
		msgs, err := h.transport.Receive(ctx, queueName, 10, 0)
		if err != nil {
			t.Fatalf("Receive(%s): %v", queueName, err)
		}
		if len(msgs) == 0 {
			return out
		}
		for _, msg := range msgs {
			if err := h.transport.Complete(ctx, msg); err != nil {
				t.Fatalf("Complete(%s): %v", queueName, err)
			}
		}
		out = append(out, msgs...)
	}
}

// expectOne drains queueName and fails unless exactly one message was there.
func (h *harness) expectOne(t *testing.T, queueName string) *queue.Message {
	t.Helper()
	msgs := h.drain(t, queueName)
	if len(msgs) != 1 {
		t.Fatalf("expected one message on %s, got %d", queueName, len(msgs))
	}
	return msgs[0]
}

func (h *harness) expectQuiet(t *testing.T) {
	t.Helper()
	for _, name := range queue.Names() {
		if msgs := h.drain(t, name); len(msgs) != 0 {
			t.Fatalf("expected %s to be empty, got %d message(s)", name, len(msgs))
		}
	}
}

func (h *harness) setStatus(t *testing.T, itemID string, status jobs.ItemStatus) {
	t.Helper()
	applied, err := h.store.UpdateItem(context.Background(), itemID, jobs.ItemUpdate{Status: status})
	if err != nil || !applied {
		t.Fatalf("UpdateItem(%s): applied=%v err=%v", status, applied, err)
	}
}

func (h *harness) job(t *testing.T, id string) *jobs.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	if err != nil || job == nil {
		t.Fatalf("GetJob: job=%v err=%v", job, err)
	}
	return job
}

func (h *harness) output(t *testing.T, path string) []byte {
	t.Helper()
	data, err := h.blobs.Get(context.Background(), h.cfg.Blob.OutputsContainer, path)
	if err != nil {
		t.Fatalf("Get(%s): %v", path, err)
	}
	return data
}

// outputCount counts every blob written to the outputs container.
func (h *harness) outputCount(t *testing.T) int {
	t.Helper()
	root := filepath.Join(h.cfg.Blob.Root, h.cfg.Blob.OutputsContainer)
	count := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatalf("walk outputs: %v", err)
	}
	return count
}

func stageMessage(job *jobs.Job, item *jobs.Item, opts jobs.Options) pipeline.Message {
	return pipeline.Message{
		JobID:             job.ID,
		ItemID:            item.ID,
		TenantID:          item.TenantID,
		CorrelationID:     "corr-test",
		RawBlobPath:       item.RawBlobPath,
		ProcessingOptions: opts,
	}
}

func envelope(t *testing.T, queueName string, payload any) *queue.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queue.Message{ID: "msg-test", Queue: queueName, Body: body, DeliveryCount: 1}
}

func decodeMessage(t *testing.T, msg *queue.Message) pipeline.Message {
	t.Helper()
	m, err := pipeline.DecodeMessage("test", msg.Body)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	return m
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	err    error
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) Sinks() []string { return []string{"recorder"} }

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) Events() []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...)
}

// rebuild returns a pipeline over the harness collaborators with store and
// transport swapped in.
func (h *harness) rebuild(store jobs.Store, transport queue.Transport) *pipeline.Pipeline {
	return pipeline.New(pipeline.Options{
		Store:     store,
		Transport: transport,
		Blobs:     h.blobs,
		Containers: pipeline.Containers{
			Raw:     h.cfg.Blob.RawContainer,
			Outputs: h.cfg.Blob.OutputsContainer,
		},
		Policy: testsupport.RetryPolicy(h.cfg),
	})
}

var errFlaky = errors.New("transient outage")

// flakyTransport fails the first send to one queue.
type flakyTransport struct {
	queue.Transport
	failQueue string

	mu     sync.Mutex
	failed bool
}

func (f *flakyTransport) Send(ctx context.Context, queueName string, body []byte) error {
	f.mu.Lock()
	fail := queueName == f.failQueue && !f.failed
	if fail {
		f.failed = true
	}
	f.mu.Unlock()
	if fail {
		return errFlaky
	}
	return f.Transport.Send(ctx, queueName, body)
}

// flakyStore fails the first job status write to one status.
type flakyStore struct {
	jobs.Store
	failStatus jobs.JobStatus

	mu     sync.Mutex
	failed bool
}

func (f *flakyStore) UpdateJobStatus(ctx context.Context, id string, status jobs.JobStatus) error {
	f.mu.Lock()
	fail := status == f.failStatus && !f.failed
	if fail {
		f.failed = true
	}
	f.mu.Unlock()
	if fail {
		return errFlaky
	}
	return f.Store.UpdateJobStatus(ctx, id, status)
}

func redelivery(msg *queue.Message, count int) *queue.Message {
	again := *msg
	again.DeliveryCount = count
	return &again
}
