package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"opal/internal/blob"
	"opal/internal/jobs"
	"opal/internal/logging"
	"opal/internal/queue"
	"opal/internal/services"
	"opal/internal/stage"
)

// Containers names the blob containers for raw uploads and for everything
// the pipeline writes.
type Containers struct {
	Raw     string
	Outputs string
}

// Options wires a Pipeline to its collaborators.
type Options struct {
	Store      jobs.Store
	Transport  queue.Transport
	Blobs      *blob.Client
	Containers Containers
	Policy     services.RetryPolicy
	Logger     *slog.Logger
}

// Pipeline holds the collaborators shared by the coordinator, the stage
// workers, and the exporter.
type Pipeline struct {
	store      jobs.Store
	transport  queue.Transport
	blobs      *blob.Client
	containers Containers
	policy     services.RetryPolicy
	logger     *slog.Logger
}

// New builds a Pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	containers := opts.Containers
	if containers.Raw == "" {
		containers.Raw = "raw"
	}
	if containers.Outputs == "" {
		containers.Outputs = "outputs"
	}
	return &Pipeline{
		store:      opts.Store,
		transport:  opts.Transport,
		blobs:      opts.Blobs,
		containers: containers,
		policy:     opts.Policy,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
	}
}

func withItemContext(ctx context.Context, s Stage, tenantID, jobID, itemID, correlationID string) context.Context {
	ctx = services.WithStage(ctx, string(s))
	ctx = services.WithTenantID(ctx, tenantID)
	ctx = services.WithJobID(ctx, jobID)
	ctx = services.WithItemID(ctx, itemID)
	return services.WithCorrelationID(ctx, correlationID)
}

// fetch downloads the best available input for m.
func (p *Pipeline) fetch(ctx context.Context, m Message) ([]byte, error) {
	path, fromRaw := m.BestInput()
	container := p.containers.Outputs
	if fromRaw {
		container = p.containers.Raw
	}
	data, err := p.blobs.Get(ctx, container, path)
	if err != nil {
		return nil, fmt.Errorf("fetch input: %w", err)
	}
	return data, nil
}

// route sends m to the next enabled stage after from, or finalizes it.
// data, when non-nil, is the result the caller just produced.
func (p *Pipeline) route(ctx context.Context, from Stage, m Message, data []byte) error {
	next, ok := Next(from, m.ProcessingOptions)
	if !ok {
		return p.finalize(ctx, m, data)
	}
	if err := queue.SendJSON(ctx, p.transport, next.Queue(), m); err != nil {
		return fmt.Errorf("route to %s: %w", next, err)
	}
	logging.WithContext(ctx, p.logger).Info("item routed",
		logging.Event("item_routed"),
		logging.String("next_stage", string(next)),
	)
	return nil
}

var failable = []jobs.ItemStatus{jobs.ItemCreated, jobs.ItemUploaded, jobs.ItemProcessing, jobs.ItemFailed}

// markFailed records a failure on the item unless it already completed,
// then recomputes the job. Secondary errors are logged, never returned.
func (p *Pipeline) markFailed(ctx context.Context, itemID, jobID, message string) {
	logger := logging.WithContext(ctx, p.logger)
	update := jobs.Failed(message)
	update.From = failable
	applied, err := p.store.UpdateItem(ctx, itemID, update)
	if err != nil {
		logger.Error("failed to persist item failure",
			logging.Event("item_failure_persist_failed"),
			logging.Error(err),
		)
		return
	}
	if !applied {
		logger.Debug("item failure not recorded; item completed or vanished")
		return
	}
	if _, err := p.Aggregate(ctx, jobID); err != nil {
		logger.Warn("job aggregation after failure failed",
			logging.Event("aggregate_failed"),
			logging.Error(err),
		)
	}
}

// releaseClaim returns a claimed item to uploaded so a redelivered request
// can claim it again. The cause is kept as the item's error message until
// the next claim clears it.
func (p *Pipeline) releaseClaim(ctx context.Context, itemID string, cause error) {
	logger := logging.WithContext(ctx, p.logger)
	message := jobs.TruncateError(cause.Error())
	applied, err := p.store.UpdateItem(ctx, itemID, jobs.ItemUpdate{
		From:         []jobs.ItemStatus{jobs.ItemProcessing},
		Status:       jobs.ItemUploaded,
		ErrorMessage: &message,
	})
	if err != nil {
		logger.Error("failed to release item claim",
			logging.Event("claim_release_failed"),
			logging.Error(err),
		)
		return
	}
	if !applied {
		return
	}
	logging.WarnWithContext(logger, "item claim released", "claim_released",
		logging.Error(cause),
		logging.Impact("item waits for the request to be redelivered"),
		logging.Hint("if the jobs queue dead-letters the request, resubmit the item"),
	)
}

// handleFailure maps a processing error onto the message outcome. Poison
// payloads are returned for dead-lettering. Validation and not-found
// errors mark the item failed and acknowledge. Anything else is recorded
// best-effort and returned so the message is abandoned.
func (p *Pipeline) handleFailure(ctx context.Context, s Stage, m Message, err error) error {
	logger := logging.WithContext(ctx, p.logger)
	if services.IsPoison(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		logger.Debug("stage interrupted by shutdown")
		return err
	}

	details := services.Details(err)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = fmt.Sprintf("%s failed", s)
	}
	permanent := errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrNotFound)

	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String("error_kind", details.Kind),
		logging.Bool("retryable", !permanent),
		logging.Hint(failureHint(details.Kind)),
		logging.Error(err),
	)
	p.markFailed(ctx, m.ItemID, m.JobID, message)
	if permanent {
		return nil
	}
	return err
}

func failureHint(kind string) string {
	switch kind {
	case "validation":
		return "the input image cannot be processed; resubmit a supported image"
	case "not_found":
		return "an input blob is missing; check blob retention"
	case "configuration":
		return "check provider and blob settings in config.toml"
	default:
		return "the message will be redelivered; check provider and storage availability"
	}
}

func (p *Pipeline) checkStore(ctx context.Context, name string) (stage.Health, bool) {
	if p.store == nil {
		return stage.Unhealthy(name, "job store unavailable"), false
	}
	if err := p.store.Ping(ctx); err != nil {
		return stage.Unhealthy(name, "job store: "+err.Error()), false
	}
	return stage.Health{}, true
}
