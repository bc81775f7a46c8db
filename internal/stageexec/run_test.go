package stageexec_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"opal/internal/queue"
	"opal/internal/services"
	"opal/internal/stage"
	"opal/internal/stageexec"
	"opal/internal/testsupport"
)

type stubHandler struct {
	err   error
	delay time.Duration
	calls int
}

func (s *stubHandler) Name() string  { return "stub" }
func (s *stubHandler) Queue() string { return queue.Jobs }

func (s *stubHandler) Handle(ctx context.Context, _ *queue.Message) error {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *stubHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy("stub") }

// countingTransport records settle and renew calls.
type countingTransport struct {
	mu        sync.Mutex
	renewals  int
	completed int
	abandoned int
	dead      []string
}

func (c *countingTransport) Send(context.Context, string, []byte) error { return nil }

func (c *countingTransport) Receive(context.Context, string, int, time.Duration) ([]*queue.Message, error) {
	return nil, nil
}

func (c *countingTransport) Complete(context.Context, *queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
	return nil
}

func (c *countingTransport) Abandon(context.Context, *queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandoned++
	return nil
}

func (c *countingTransport) DeadLetter(_ context.Context, _ *queue.Message, reason, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = append(c.dead, reason)
	return nil
}

func (c *countingTransport) RenewLock(context.Context, *queue.Message, time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renewals++
	return nil
}

func (c *countingTransport) Close() error { return nil }

func (c *countingTransport) Renewals() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewals
}

func TestRunSettlesByHandlerResult(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome stageexec.Outcome
	}{
		{"success", nil, stageexec.OutcomeCompleted},
		{"poison", services.Wrap(services.ErrPoison, "stub", "decode", "bad json", nil), stageexec.OutcomeDeadLettered},
		{"transient", services.Wrap(services.ErrTransient, "stub", "call", "503", nil), stageexec.OutcomeAbandoned},
		{"plain error", errors.New("boom"), stageexec.OutcomeAbandoned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &countingTransport{}
			handler := &stubHandler{err: tt.err}
			outcome, err := stageexec.Run(context.Background(), stageexec.Options{
				Transport: transport,
				Handler:   handler,
				Message:   &queue.Message{ID: "m1", Queue: queue.Jobs},
			})
			if outcome != tt.outcome {
				t.Fatalf("outcome = %s, want %s", outcome, tt.outcome)
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected handler error %v, got %v", tt.err, err)
			}
			switch tt.outcome {
			case stageexec.OutcomeCompleted:
				if transport.completed != 1 {
					t.Fatalf("expected complete, got %+v", transport)
				}
			case stageexec.OutcomeDeadLettered:
				if len(transport.dead) != 1 || transport.dead[0] != stageexec.ReasonPoison {
					t.Fatalf("expected poison dead-letter, got %v", transport.dead)
				}
			case stageexec.OutcomeAbandoned:
				if transport.abandoned != 1 {
					t.Fatalf("expected abandon, got %+v", transport)
				}
			}
		})
	}
}

func TestRunAbandonsOnShutdown(t *testing.T) {
	transport := &countingTransport{}
	ctx, cancel := context.WithCancel(context.Background())
	handler := &stubHandler{delay: time.Second}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	outcome, err := stageexec.Run(ctx, stageexec.Options{
		Transport: transport,
		Handler:   handler,
		Message:   &queue.Message{ID: "m1", Queue: queue.Jobs},
	})
	if outcome != stageexec.OutcomeInterrupted || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected interrupted, got %s %v", outcome, err)
	}
	if transport.abandoned != 1 {
		t.Fatalf("expected the message to be abandoned, got %d", transport.abandoned)
	}
}

func TestRunRenewsLockWhileHandling(t *testing.T) {
	transport := &countingTransport{}
	handler := &stubHandler{delay: 120 * time.Millisecond}

	if _, err := stageexec.Run(context.Background(), stageexec.Options{
		Transport:    transport,
		Handler:      handler,
		Message:      &queue.Message{ID: "m1", Queue: queue.Jobs},
		LockDuration: 40 * time.Millisecond,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transport.Renewals() < 2 {
		t.Fatalf("expected repeated lock renewals, got %d", transport.Renewals())
	}
}

func TestRunStopsRenewingAtCap(t *testing.T) {
	transport := &countingTransport{}
	handler := &stubHandler{delay: 200 * time.Millisecond}

	if _, err := stageexec.Run(context.Background(), stageexec.Options{
		Transport:    transport,
		Handler:      handler,
		Message:      &queue.Message{ID: "m1", Queue: queue.Jobs},
		LockDuration: 20 * time.Millisecond,
		KeepAliveCap: 35 * time.Millisecond,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := transport.Renewals(); got > 4 {
		t.Fatalf("renewals continued past the cap: %d", got)
	}
}

func TestRunDeadLettersOnSQLiteTransport(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	transport := testsupport.MustOpenTransport(t, cfg)
	ctx := context.Background()
	if err := transport.Send(ctx, queue.Jobs, []byte(`{`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs, err := transport.Receive(ctx, queue.Jobs, 1, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Receive: %v (%d)", err, len(msgs))
	}

	handler := &stubHandler{err: services.Wrap(services.ErrPoison, "stub", "decode message", "payload is not valid JSON", nil)}
	if outcome, _ := stageexec.Run(ctx, stageexec.Options{Transport: transport, Handler: handler, Message: msgs[0]}); outcome != stageexec.OutcomeDeadLettered {
		t.Fatalf("outcome = %s", outcome)
	}
	dead, err := transport.DeadLetters(ctx, queue.Jobs, 10)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].Reason != stageexec.ReasonPoison {
		t.Fatalf("unexpected dead letters %+v", dead)
	}
}

func TestRunRequiresCollaborators(t *testing.T) {
	if _, err := stageexec.Run(context.Background(), stageexec.Options{}); err == nil {
		t.Fatal("expected error without a handler")
	}
}
