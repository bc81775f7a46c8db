package workflow

import (
	"opal/internal/logging"
	"opal/internal/stage"
)

// ConfigureStages registers the handlers the workflow will run, one lane
// each. Nil handlers are skipped. Registering replaces any earlier set.
func (m *Manager) ConfigureStages(handlers ...stage.Handler) {
	lanes := make([]*laneState, 0, len(handlers))
	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		lanes = append(lanes, &laneState{
			name:    handler.Name(),
			queue:   handler.Queue(),
			handler: handler,
			logger: m.logger.With(
				logging.Lane(handler.Name()),
				logging.Queue(handler.Queue()),
			),
		})
	}

	m.mu.Lock()
	m.lanes = lanes
	m.mu.Unlock()
}

func (m *Manager) batchSize() int {
	if n := m.cfg.Queue.ReceiveBatch; n > 0 {
		return n
	}
	return 10
}

func (m *Manager) parallelism() int {
	if n := m.cfg.Workflow.Parallelism; n > 0 {
		return n
	}
	return 1
}
