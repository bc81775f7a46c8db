package jobs

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ItemStatus is the lifecycle state of a single job item.
type ItemStatus string

const (
	ItemCreated    ItemStatus = "created"
	ItemUploaded   ItemStatus = "uploaded"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// IsTerminal reports whether the status is final for a pipeline run.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemCompleted || s == ItemFailed
}

// Claimable lists the states the coordinator may move to processing.
var Claimable = []ItemStatus{ItemCreated, ItemUploaded}

// JobStatus is the aggregate state of a job, derived from its items.
type JobStatus string

const (
	JobCreated    JobStatus = "created"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobPartial    JobStatus = "partial"
)

// MaxErrorLength bounds persisted item error messages.
const MaxErrorLength = 4000

// Options selects which transformation stages run for a job's items.
type Options struct {
	RemoveBackground bool `json:"remove_background"`
	GenerateScene    bool `json:"generate_scene"`
	Upscale          bool `json:"upscale"`
}

// DefaultOptions enables every stage. Requests that omit options get these.
func DefaultOptions() Options {
	return Options{RemoveBackground: true, GenerateScene: true, Upscale: true}
}

// Job is one tenant submission.
type Job struct {
	ID        string
	TenantID  string
	Status    JobStatus
	Options   Options
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is a single image within a job.
type Item struct {
	ID             string
	JobID          string
	TenantID       string
	Filename       string
	Status         ItemStatus
	RawBlobPath    string
	OutputBlobPath string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ItemUpdate describes a single-row conditional update. When From is
// non-empty the update only applies if the current status is one of them.
// Nil pointer fields are left untouched; a pointer to "" clears the column.
type ItemUpdate struct {
	From           []ItemStatus
	Status         ItemStatus
	OutputBlobPath *string
	ErrorMessage   *string
}

// Completed builds the terminal success update.
func Completed(outputPath string) ItemUpdate {
	empty := ""
	return ItemUpdate{Status: ItemCompleted, OutputBlobPath: &outputPath, ErrorMessage: &empty}
}

// Failed builds the terminal failure update with a truncated message.
func Failed(message string) ItemUpdate {
	msg := TruncateError(message)
	return ItemUpdate{Status: ItemFailed, ErrorMessage: &msg}
}

// TruncateError trims msg to MaxErrorLength characters without splitting a rune.
func TruncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) <= MaxErrorLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxErrorLength])
}
