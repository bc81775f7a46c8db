package stageexec

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"opal/internal/logging"
	"opal/internal/queue"
)

// keepAlive renews a message lock at half the lock duration until the
// handler returns or the cap elapses. Past the cap the lock is allowed to
// expire so a stuck attempt is redelivered.
type keepAlive struct {
	transport queue.Transport
	msg       *queue.Message
	duration  time.Duration
	interval  time.Duration
	limit     time.Duration
	logger    *slog.Logger
}

func newKeepAlive(transport queue.Transport, msg *queue.Message, lock, limit time.Duration, logger *slog.Logger) *keepAlive {
	return &keepAlive{
		transport: transport,
		msg:       msg,
		duration:  lock,
		interval:  lock / 2,
		limit:     limit,
		logger:    logger,
	}
}

func (k *keepAlive) loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	if k.interval <= 0 {
		return
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if k.limit > 0 {
		timer := time.NewTimer(k.limit)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			logging.WarnWithContext(k.logger, "lock keep-alive cap reached", "keepalive_cap_reached",
				logging.Duration("keepalive_cap", k.limit),
				logging.Impact("the lock will expire and the message may be delivered twice"),
			)
			return
		case <-ticker.C:
			if err := k.transport.RenewLock(ctx, k.msg, k.duration); err != nil {
				switch {
				case errors.Is(err, context.Canceled):
					return
				case errors.Is(err, queue.ErrLockLost):
					k.logger.Warn("message lock lost during processing", logging.Error(err))
					return
				default:
					k.logger.Warn("lock renewal failed", logging.Error(err))
				}
			}
		}
	}
}
