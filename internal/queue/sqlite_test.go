package queue_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"opal/internal/queue"
)

func openTransport(t *testing.T, opts queue.SQLiteOptions) *queue.SQLiteTransport {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	transport, err := queue.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "queue.db"), opts)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = transport.Close() })
	return transport
}

func TestSendReceiveCompleteRemovesMessage(t *testing.T) {
	ctx := context.Background()
	transport := openTransport(t, queue.SQLiteOptions{})

	if err := transport.Send(ctx, queue.BackgroundRemoval, []byte(`{"n":1}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := transport.Send(ctx, queue.BackgroundRemoval, []byte(`{"n":2}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msgs, err := transport.Receive(ctx, queue.BackgroundRemoval, 10, 0)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if string(msgs[0].Body) != `{"n":1}` || msgs[0].DeliveryCount != 1 {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}

	again, err := transport.Receive(ctx, queue.BackgroundRemoval, 10, 0)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("locked messages must be invisible, got %d", len(again))
	}

	for _, msg := range msgs {
		if err := transport.Complete(ctx, msg); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
	}
	if err := transport.Complete(ctx, msgs[0]); !errors.Is(err, queue.ErrLockLost) {
		t.Fatalf("expected ErrLockLost on double complete, got %v", err)
	}

	stats, err := transport.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	for _, s := range stats {
		if s.Active+s.Locked+s.Dead != 0 {
			t.Fatalf("expected empty queues, got %+v", s)
		}
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	ctx := context.Background()
	transport := openTransport(t, queue.SQLiteOptions{})

	if err := transport.Send(ctx, queue.Upscale, []byte(`{}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msgs, err := transport.Receive(ctx, queue.SceneGeneration, 10, 0)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages on scene-gen, got %d", len(msgs))
	}
}

func TestAbandonMakesMessageVisibleAgain(t *testing.T) {
	ctx := context.Background()
	transport := openTransport(t, queue.SQLiteOptions{})

	if err := transport.Send(ctx, queue.Jobs, []byte(`{}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	first, err := transport.Receive(ctx, queue.Jobs, 1, 0)
	if err != nil || len(first) != 1 {
		t.Fatalf("Receive failed: %v (%d)", err, len(first))
	}
	if err := transport.Abandon(ctx, first[0]); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}

	second, err := transport.Receive(ctx, queue.Jobs, 1, 0)
	if err != nil || len(second) != 1 {
		t.Fatalf("Receive after abandon failed: %v (%d)", err, len(second))
	}
	if second[0].ID != first[0].ID || second[0].DeliveryCount != 2 {
		t.Fatalf("expected redelivery of same message, got %+v", second[0])
	}
	if err := transport.Complete(ctx, first[0]); !errors.Is(err, queue.ErrLockLost) {
		t.Fatalf("stale lock token must not settle, got %v", err)
	}
}

func TestExpiredLockIsRedelivered(t *testing.T) {
	ctx := context.Background()
	transport := openTransport(t, queue.SQLiteOptions{LockDuration: 20 * time.Millisecond})

	if err := transport.Send(ctx, queue.Exports, []byte(`{}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	first, err := transport.Receive(ctx, queue.Exports, 1, 0)
	if err != nil || len(first) != 1 {
		t.Fatalf("Receive failed: %v (%d)", err, len(first))
	}

	second, err := transport.Receive(ctx, queue.Exports, 1, time.Second)
	if err != nil || len(second) != 1 {
		t.Fatalf("expected redelivery after lock expiry: %v (%d)", err, len(second))
	}
	if second[0].DeliveryCount != 2 {
		t.Fatalf("expected delivery count 2, got %d", second[0].DeliveryCount)
	}
}

func TestRenewLockKeepsMessageInvisible(t *testing.T) {
	ctx := context.Background()
	transport := openTransport(t, queue.SQLiteOptions{LockDuration: 30 * time.Millisecond})

	if err := transport.Send(ctx, queue.Upscale, []byte(`{}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msgs, err := transport.Receive(ctx, queue.Upscale, 1, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Receive failed: %v (%d)", err, len(msgs))
	}
	before := msgs[0].LockedUntil
	if err := transport.RenewLock(ctx, msgs[0], time.Minute); err != nil {
		t.Fatalf("RenewLock failed: %v", err)
	}
	if !msgs[0].LockedUntil.After(before) {
		t.Fatalf("expected lock deadline to move forward")
	}

	time.Sleep(50 * time.Millisecond)
	again, err := transport.Receive(ctx, queue.Upscale, 1, 0)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("renewed message must stay invisible")
	}
	if err := transport.Complete(ctx, msgs[0]); err != nil {
		t.Fatalf("Complete after renew failed: %v", err)
	}
}

func TestDeadLetterAndMaxDelivery(t *testing.T) {
	ctx := context.Background()
	transport := openTransport(t, queue.SQLiteOptions{MaxDeliveryCount: 2})

	if err := transport.Send(ctx, queue.SceneGeneration, []byte(`not json`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := transport.Send(ctx, queue.SceneGeneration, []byte(`{"retry":true}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msgs, err := transport.Receive(ctx, queue.SceneGeneration, 2, 0)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("Receive failed: %v (%d)", err, len(msgs))
	}
	if err := transport.DeadLetter(ctx, msgs[0], "MalformedPayload", "decode failed"); err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}
	if err := transport.Abandon(ctx, msgs[1]); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}

	second, err := transport.Receive(ctx, queue.SceneGeneration, 2, 0)
	if err != nil || len(second) != 1 {
		t.Fatalf("expected one redelivery: %v (%d)", err, len(second))
	}
	if err := transport.Abandon(ctx, second[0]); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}

	third, err := transport.Receive(ctx, queue.SceneGeneration, 2, 0)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(third) != 0 {
		t.Fatalf("message past max delivery count must not be delivered, got %d", len(third))
	}

	dead, err := transport.DeadLetters(ctx, queue.SceneGeneration, 10)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(dead) != 2 {
		t.Fatalf("expected 2 dead letters, got %d", len(dead))
	}
	reasons := map[string]bool{}
	for _, rec := range dead {
		reasons[rec.Reason] = true
	}
	if !reasons["MalformedPayload"] || !reasons[queue.ReasonMaxDelivery] {
		t.Fatalf("unexpected dead letter reasons: %+v", dead)
	}

	purged, err := transport.PurgeDead(ctx, queue.SceneGeneration)
	if err != nil || purged != 2 {
		t.Fatalf("PurgeDead = %d, %v", purged, err)
	}
}

func TestReceiveWaitsForLateMessage(t *testing.T) {
	ctx := context.Background()
	transport := openTransport(t, queue.SQLiteOptions{})

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = transport.Send(context.Background(), queue.Jobs, []byte(`{}`))
	}()
	msgs, err := transport.Receive(ctx, queue.Jobs, 10, 2*time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected late message to be received, got %d", len(msgs))
	}
}

func TestReceiveHonoursCancellation(t *testing.T) {
	transport := openTransport(t, queue.SQLiteOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := transport.Receive(ctx, queue.Jobs, 1, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSendJSONEncodesPayload(t *testing.T) {
	ctx := context.Background()
	transport := openTransport(t, queue.SQLiteOptions{})

	payload := map[string]string{"job_id": "job_1"}
	if err := queue.SendJSON(ctx, transport, queue.Exports, payload); err != nil {
		t.Fatalf("SendJSON failed: %v", err)
	}
	msgs, err := transport.Receive(ctx, queue.Exports, 1, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Receive failed: %v (%d)", err, len(msgs))
	}
	if string(msgs[0].Body) != `{"job_id":"job_1"}` {
		t.Fatalf("unexpected body %s", msgs[0].Body)
	}
}

func TestStatsListsExtraQueuesInNameOrder(t *testing.T) {
	ctx := context.Background()
	transport := openTransport(t, queue.SQLiteOptions{})

	for _, name := range []string{"zeta", "alpha", "mid", queue.Exports} {
		if err := transport.Send(ctx, name, []byte(`{}`)); err != nil {
			t.Fatalf("Send(%s) failed: %v", name, err)
		}
	}
	for i := 0; i < 5; i++ {
		stats, err := transport.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		var got []string
		for _, s := range stats {
			got = append(got, s.Queue)
		}
		want := append(queue.Names(), "alpha", "mid", "zeta")
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Fatalf("queue order = %v, want %v", got, want)
		}
	}
}
