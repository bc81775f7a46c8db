package workflow

import (
	"context"

	"opal/internal/logging"
	"opal/internal/queue"
	"opal/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool           `json:"running"`
	LastError   string         `json:"last_error,omitempty"`
	Lanes       []LaneStatus   `json:"lanes"`
	QueueStats  []queue.Stats  `json:"queue_stats,omitempty"`
	StageHealth []stage.Health `json:"stage_health"`
}

// Status returns the latest workflow information. Queue depth is included
// when the transport can report it.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lanes := append([]*laneState(nil), m.lanes...)
	m.mu.RUnlock()

	summary := StatusSummary{Running: running}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	for _, lane := range lanes {
		summary.Lanes = append(summary.Lanes, lane.status())
		summary.StageHealth = append(summary.StageHealth, lane.handler.HealthCheck(ctx))
	}
	if inspector, ok := m.transport.(queue.Inspector); ok {
		stats, err := inspector.Stats(ctx)
		if err != nil {
			m.logger.Warn("failed to read queue stats", logging.Error(err))
		} else {
			summary.QueueStats = stats
		}
	}
	return summary
}

// Health reports every lane's readiness.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	m.mu.RLock()
	lanes := append([]*laneState(nil), m.lanes...)
	m.mu.RUnlock()

	records := make([]stage.Health, 0, len(lanes))
	for _, lane := range lanes {
		records = append(records, lane.handler.HealthCheck(ctx))
	}
	return records
}

// Running reports whether the lanes are active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
