package workflow

import (
	"log/slog"
	"sync/atomic"

	"opal/internal/stage"
	"opal/internal/stageexec"
)

type laneState struct {
	name    string
	queue   string
	handler stage.Handler
	logger  *slog.Logger

	completed    atomic.Int64
	abandoned    atomic.Int64
	deadLettered atomic.Int64
}

func (l *laneState) record(outcome stageexec.Outcome) {
	switch outcome {
	case stageexec.OutcomeCompleted:
		l.completed.Add(1)
	case stageexec.OutcomeAbandoned:
		l.abandoned.Add(1)
	case stageexec.OutcomeDeadLettered:
		l.deadLettered.Add(1)
	}
}

// LaneStatus reports one lane's settle counters since start.
type LaneStatus struct {
	Stage        string `json:"stage"`
	Queue        string `json:"queue"`
	Completed    int64  `json:"completed"`
	Abandoned    int64  `json:"abandoned"`
	DeadLettered int64  `json:"dead_lettered"`
}

func (l *laneState) status() LaneStatus {
	return LaneStatus{
		Stage:        l.name,
		Queue:        l.queue,
		Completed:    l.completed.Load(),
		Abandoned:    l.abandoned.Load(),
		DeadLettered: l.deadLettered.Load(),
	}
}
