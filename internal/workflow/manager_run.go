package workflow

import (
	"context"
	"errors"
	"time"

	"opal/internal/logging"
)

var errNoLanes = errors.New("workflow stages not configured")

func (m *Manager) lanesSnapshot() []*laneState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*laneState(nil), m.lanes...)
}

// Start launches one polling goroutine per lane. The lanes run until ctx is
// cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	lanes := m.lanesSnapshot()
	if len(lanes) == 0 {
		return errNoLanes
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(len(lanes))
	m.mu.Unlock()

	for _, lane := range lanes {
		go func() {
			defer m.wg.Done()
			m.runLane(runCtx, lane)
		}()
	}
	m.logger.Info("workflow started",
		logging.Event("workflow_start"),
		logging.Int("lanes", len(lanes)),
		logging.Int("parallelism", m.parallelism()),
	)
	return nil
}

// Stop cancels every lane and waits for in-flight messages to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	wasRunning := m.running
	m.running, m.cancel = false, nil
	m.mu.Unlock()
	if !wasRunning {
		return
	}

	started := time.Now()
	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped",
		logging.Event("workflow_stop"),
		logging.Duration("drain", time.Since(started)),
	)
}

// Wait blocks until every lane has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// runLane polls until ctx ends. Receive failures back off for
// workflow.error_retry_interval; an empty poll on a non-blocking transport
// waits queue.poll_interval_ms.
func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	logger := lane.logger
	if logger == nil {
		logger = m.logger
	}
	for ctx.Err() == nil {
		handled, err := m.pollLane(ctx, lane)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			m.setLastError(err)
			logger.Error("failed to receive messages",
				logging.Event("queue_receive_failed"),
				logging.Queue(lane.queue),
				logging.Hint("check queue transport connectivity"),
				logging.Error(err),
			)
			sleepCtx(ctx, m.cfg.ErrorRetryInterval())
		case handled == 0 && m.cfg.Queue.ReceiveWait <= 0:
			sleepCtx(ctx, m.pollInterval)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ProcessOnce handles one batch from every lane without starting the
// background loops and reports how many messages were handled.
func (m *Manager) ProcessOnce(ctx context.Context) (int, error) {
	lanes := m.lanesSnapshot()
	if len(lanes) == 0 {
		return 0, errNoLanes
	}
	total := 0
	var errs []error
	for _, lane := range lanes {
		handled, err := m.pollLane(ctx, lane)
		total += handled
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
