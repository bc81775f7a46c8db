package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"opal/internal/logging"
	"opal/internal/stageexec"
)

// pollLane receives one batch for lane and runs it with bounded
// parallelism. Handler failures are settled per message and never stop the
// lane; only receive errors are returned.
func (m *Manager) pollLane(ctx context.Context, lane *laneState) (int, error) {
	msgs, err := m.transport.Receive(ctx, lane.queue, m.batchSize(), m.cfg.ReceiveWait())
	if err != nil {
		return 0, fmt.Errorf("receive %s: %w", lane.queue, err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	lane.logger.Debug("batch received", logging.Int("messages", len(msgs)))

	var group errgroup.Group
	group.SetLimit(m.parallelism())
	for _, msg := range msgs {
		group.Go(func() error {
			outcome, err := stageexec.Run(ctx, stageexec.Options{
				Logger:       lane.logger,
				Transport:    m.transport,
				Handler:      lane.handler,
				Message:      msg,
				LockDuration: m.cfg.LockDuration(),
				KeepAliveCap: m.cfg.KeepAliveCap(),
			})
			lane.record(outcome)
			if err != nil && outcome != stageexec.OutcomeInterrupted {
				m.setLastError(fmt.Errorf("%s: %w", lane.name, err))
			}
			return nil
		})
	}
	_ = group.Wait()
	return len(msgs), nil
}
