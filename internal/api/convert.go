package api

import (
	"time"

	"opal/internal/jobs"
	"opal/internal/queue"
	"opal/internal/stage"
	"opal/internal/workflow"
)

// FromJob converts a job record and its items into a Job DTO.
func FromJob(job *jobs.Job, items []*jobs.Item) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:       job.ID,
		TenantID: job.TenantID,
		Status:   string(job.Status),
		Options: Options{
			RemoveBackground: job.Options.RemoveBackground,
			GenerateScene:    job.Options.GenerateScene,
			Upscale:          job.Options.Upscale,
		},
		ItemCount: len(items),
		CreatedAt: formatTime(job.CreatedAt),
		UpdatedAt: formatTime(job.UpdatedAt),
	}
	if len(items) > 0 {
		dto.Counts = make(map[string]int)
		for _, item := range items {
			dto.Counts[string(item.Status)]++
		}
	}
	return dto
}

// FromItem converts an item record into an Item DTO.
func FromItem(item *jobs.Item) Item {
	if item == nil {
		return Item{}
	}
	return Item{
		ID:             item.ID,
		JobID:          item.JobID,
		Filename:       item.Filename,
		Status:         string(item.Status),
		RawBlobPath:    item.RawBlobPath,
		OutputBlobPath: item.OutputBlobPath,
		ErrorMessage:   item.ErrorMessage,
		CreatedAt:      formatTime(item.CreatedAt),
		UpdatedAt:      formatTime(item.UpdatedAt),
	}
}

// FromItems converts item records, preserving order.
func FromItems(items []*jobs.Item) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, FromItem(item))
	}
	return out
}

// FromStatusSummary converts the workflow summary into its DTO.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:     summary.Running,
		LastError:   summary.LastError,
		Lanes:       make([]LaneStatus, 0, len(summary.Lanes)),
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	for _, lane := range summary.Lanes {
		status.Lanes = append(status.Lanes, LaneStatus{
			Stage:        lane.Stage,
			Queue:        lane.Queue,
			Completed:    lane.Completed,
			Abandoned:    lane.Abandoned,
			DeadLettered: lane.DeadLettered,
		})
	}
	status.QueueStats = FromQueueStats(summary.QueueStats)
	return status
}

// FromQueueStats converts transport stats.
func FromQueueStats(stats []queue.Stats) []QueueStats {
	if len(stats) == 0 {
		return nil
	}
	out := make([]QueueStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, QueueStats{Queue: s.Queue, Active: s.Active, Locked: s.Locked, Dead: s.Dead})
	}
	return out
}

// StageHealthSlice converts health records, preserving lane order.
func StageHealthSlice(records []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(records))
	for _, h := range records {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
