package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"opal/internal/config"
	"opal/internal/logging"
	"opal/internal/queue"
)

// Manager runs one polling lane per registered stage handler.
type Manager struct {
	cfg          *config.Config
	transport    queue.Transport
	logger       *slog.Logger
	pollInterval time.Duration

	lanes []*laneState

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a workflow manager bound to transport.
func NewManager(cfg *config.Config, transport queue.Transport, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	poll := time.Duration(cfg.Queue.PollInterval) * time.Millisecond
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Manager{
		cfg:          cfg,
		transport:    transport,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		pollInterval: poll,
	}
}
