package pipeline

import (
	"context"
	"fmt"
	"time"

	"opal/internal/blob"
	"opal/internal/jobs"
	"opal/internal/logging"
	"opal/internal/providers"
	"opal/internal/queue"
	"opal/internal/services"
	"opal/internal/stage"
)

// Worker is the transformation stage handler. One implementation serves
// background removal, scene generation, and upscaling; they differ only in
// the Stage they are built for and the provider they call.
type Worker struct {
	p        *Pipeline
	stage    Stage
	provider providers.Transformer
}

// Worker returns the handler for transformation stage s. A nil provider
// makes the stage a passthrough.
func (p *Pipeline) Worker(s Stage, provider providers.Transformer) *Worker {
	return &Worker{p: p, stage: s, provider: provider}
}

// Name implements stage.Handler.
func (w *Worker) Name() string { return string(w.stage) }

// Queue implements stage.Handler.
func (w *Worker) Queue() string { return w.stage.Queue() }

// Handle implements stage.Handler.
func (w *Worker) Handle(ctx context.Context, msg *queue.Message) error {
	m, err := DecodeMessage(w.Name(), msg.Body)
	if err != nil {
		return err
	}
	ctx = withItemContext(ctx, w.stage, m.TenantID, m.JobID, m.ItemID, m.CorrelationID)
	logger := logging.WithContext(ctx, w.p.logger)

	item, err := w.p.store.GetItem(ctx, m.ItemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		logging.WarnWithContext(logger, "item vanished; dropping message", "item_missing",
			logging.Impact("message discarded"),
		)
		return nil
	}
	if item.Status == jobs.ItemCompleted {
		return w.p.completedDelivery(ctx, msg, item, m.CorrelationID)
	}

	if err := w.process(ctx, m); err != nil {
		return w.p.handleFailure(ctx, w.stage, m, err)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, m Message) error {
	logger := logging.WithContext(ctx, w.p.logger)

	var result []byte
	switch existing, done := m.Produced(w.stage); {
	case done:
		logger.Info("stage output already recorded; skipping transform",
			logging.Event("stage_skip"),
			logging.String("blob_path", existing),
		)
	case !w.stage.Enabled(m.ProcessingOptions) || w.provider == nil:
		logger.Debug("stage passthrough",
			logging.Bool("enabled", w.stage.Enabled(m.ProcessingOptions)),
			logging.Bool("provider_configured", w.provider != nil),
		)
	default:
		out, path, err := w.transform(ctx, m)
		if err != nil {
			return err
		}
		if path != "" {
			m = m.withProduced(w.stage, path)
		}
		result = out
	}
	return w.p.route(ctx, w.stage, m, result)
}

// transform runs the provider and persists its result. Upscale output is
// the final image and goes straight to finalization, so it has no
// intermediate path.
func (w *Worker) transform(ctx context.Context, m Message) ([]byte, string, error) {
	logger := logging.WithContext(ctx, w.p.logger)
	input, err := w.p.fetch(ctx, m)
	if err != nil {
		return nil, "", err
	}

	start := time.Now()
	var out []byte
	err = services.Retry(ctx, w.p.policy, func(ctx context.Context) error {
		var transformErr error
		out, transformErr = w.provider.Transform(ctx, input)
		return transformErr
	})
	if err != nil {
		return nil, "", fmt.Errorf("%s transform: %w", w.provider.Name(), err)
	}
	logger.Info("stage transform complete",
		logging.Event("stage_transform"),
		logging.String("provider", w.provider.Name()),
		logging.Int("input_bytes", len(input)),
		logging.Int("output_bytes", len(out)),
		logging.Duration("stage_duration", time.Since(start)),
	)

	if w.stage == StageUpscale {
		return out, "", nil
	}
	path := blob.IntermediatePath(m.TenantID, m.JobID, m.ItemID, w.stage.blobKind())
	if err := w.p.blobs.Put(ctx, w.p.containers.Outputs, path, out); err != nil {
		return nil, "", fmt.Errorf("store intermediate: %w", err)
	}
	return out, path, nil
}

// HealthCheck implements stage.Handler.
func (w *Worker) HealthCheck(ctx context.Context) stage.Health {
	if h, ok := w.p.checkStore(ctx, w.Name()); !ok {
		return h
	}
	if err := w.p.blobs.Check(ctx); err != nil {
		return stage.Unhealthy(w.Name(), "blob store: "+err.Error())
	}
	if w.provider == nil {
		return stage.Health{Name: w.Name(), Ready: true, Detail: "passthrough"}
	}
	return stage.Health{Name: w.Name(), Ready: true, Detail: "provider " + w.provider.Name()}
}
