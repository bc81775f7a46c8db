package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"opal/internal/logging"
	"opal/internal/queue"
	"opal/internal/services"
	"opal/internal/stage"
)

// Outcome records how a delivery was settled.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeAbandoned    Outcome = "abandoned"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeInterrupted  Outcome = "interrupted"
)

// ReasonPoison is the dead-letter reason for unprocessable payloads.
const ReasonPoison = "poison"

// Options controls one delivery.
type Options struct {
	Logger       *slog.Logger
	Transport    queue.Transport
	Handler      stage.Handler
	Message      *queue.Message
	LockDuration time.Duration
	KeepAliveCap time.Duration
}

// Run hands one delivery to its handler while keeping the message lock
// alive, then settles it: nil completes, a poison error dead-letters, and
// anything else abandons for redelivery. The handler error is returned
// alongside the outcome; settle failures are returned when the handler
// succeeded.
func Run(ctx context.Context, opts Options) (Outcome, error) {
	if opts.Handler == nil {
		return "", errors.New("stage handler is required")
	}
	if opts.Transport == nil {
		return "", errors.New("queue transport is required")
	}
	if opts.Message == nil {
		return "", errors.New("queue message is required")
	}

	msg := opts.Message
	stageCtx := services.WithStage(ctx, opts.Handler.Name())
	stageCtx = services.WithMessageID(stageCtx, msg.ID)
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.WithContext(stageCtx, logger)

	start := time.Now()
	logger.Debug("stage started",
		logging.Event("stage_start"),
		logging.Queue(msg.Queue),
		logging.Deliveries(msg.DeliveryCount),
	)

	handlerErr := handleWithKeepAlive(stageCtx, logger, opts)

	// Settling must outlive a shutdown that interrupted the handler.
	settleCtx := context.WithoutCancel(stageCtx)
	switch {
	case handlerErr == nil:
		if err := opts.Transport.Complete(settleCtx, msg); err != nil {
			return OutcomeCompleted, settleFailure(logger, "complete", err)
		}
		logger.Info("stage completed",
			logging.Event("stage_complete"),
			logging.Duration("stage_duration", time.Since(start)),
		)
		return OutcomeCompleted, nil

	case services.IsPoison(handlerErr):
		description := strings.TrimSpace(services.Details(handlerErr).Message)
		logging.ErrorWithContext(logger, "message dead-lettered", "message_dead_lettered",
			logging.String("reason", ReasonPoison),
			logging.Hint("inspect with `opal queue dead "+msg.Queue+"`"),
			logging.Error(handlerErr),
		)
		if err := opts.Transport.DeadLetter(settleCtx, msg, ReasonPoison, description); err != nil {
			return OutcomeDeadLettered, errors.Join(handlerErr, settleFailure(logger, "dead-letter", err))
		}
		return OutcomeDeadLettered, handlerErr

	case errors.Is(handlerErr, context.Canceled) && ctx.Err() != nil:
		logger.Debug("stage interrupted by shutdown")
		if err := opts.Transport.Abandon(settleCtx, msg); err != nil {
			logger.Debug("abandon after shutdown failed", logging.Error(err))
		}
		return OutcomeInterrupted, handlerErr

	default:
		logger.Warn("stage abandoned message for redelivery",
			logging.Event("message_abandoned"),
			logging.Deliveries(msg.DeliveryCount),
			logging.Duration("stage_duration", time.Since(start)),
			logging.Error(handlerErr),
		)
		if err := opts.Transport.Abandon(settleCtx, msg); err != nil {
			return OutcomeAbandoned, errors.Join(handlerErr, settleFailure(logger, "abandon", err))
		}
		return OutcomeAbandoned, handlerErr
	}
}

func handleWithKeepAlive(ctx context.Context, logger *slog.Logger, opts Options) error {
	kaCtx, kaCancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	keeper := newKeepAlive(opts.Transport, opts.Message, opts.LockDuration, opts.KeepAliveCap, logger)
	go keeper.loop(kaCtx, &wg)

	err := opts.Handler.Handle(ctx, opts.Message)
	kaCancel()
	wg.Wait()
	return err
}

func settleFailure(logger *slog.Logger, action string, err error) error {
	if errors.Is(err, queue.ErrLockLost) {
		logging.WarnWithContext(logger, "message lock lost before settle", "lock_lost",
			logging.String("action", action),
			logging.Impact("the message will be delivered again"),
			logging.Hint("raise queue.lock_duration or workflow.keepalive_cap"),
		)
	} else {
		logger.Error("failed to settle message",
			logging.Event("settle_failed"),
			logging.String("action", action),
			logging.Error(err),
		)
	}
	return fmt.Errorf("%s message: %w", action, err)
}
