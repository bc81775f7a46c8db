package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Options mirrors the per-job stage toggles.
type Options struct {
	RemoveBackground bool `json:"removeBackground"`
	GenerateScene    bool `json:"generateScene"`
	Upscale          bool `json:"upscale"`
}

// Job describes a job in a transport-friendly format.
type Job struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	Status    string         `json:"status"`
	Options   Options        `json:"options"`
	ItemCount int            `json:"itemCount"`
	Counts    map[string]int `json:"counts,omitempty"`
	CreatedAt string         `json:"createdAt,omitempty"`
	UpdatedAt string         `json:"updatedAt,omitempty"`
}

// Item describes a job item in a transport-friendly format.
type Item struct {
	ID             string `json:"id"`
	JobID          string `json:"jobId"`
	Filename       string `json:"filename"`
	Status         string `json:"status"`
	RawBlobPath    string `json:"rawBlobPath,omitempty"`
	OutputBlobPath string `json:"outputBlobPath,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

// JobResponse wraps a job with its items.
type JobResponse struct {
	Job   Job    `json:"job"`
	Items []Item `json:"items"`
}

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// ItemResponse wraps a single item.
type ItemResponse struct {
	Item Item `json:"item"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool          `json:"running"`
	LastError   string        `json:"lastError,omitempty"`
	Lanes       []LaneStatus  `json:"lanes"`
	QueueStats  []QueueStats  `json:"queueStats,omitempty"`
	StageHealth []StageHealth `json:"stageHealth"`
}

// LaneStatus reports one stage lane's settle counters.
type LaneStatus struct {
	Stage        string `json:"stage"`
	Queue        string `json:"queue"`
	Completed    int64  `json:"completed"`
	Abandoned    int64  `json:"abandoned"`
	DeadLettered int64  `json:"deadLettered"`
}

// QueueStats reports one queue's depth.
type QueueStats struct {
	Queue  string `json:"queue"`
	Active int    `json:"active"`
	Locked int    `json:"locked"`
	Dead   int    `json:"dead"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// ProbeResponse is returned by the liveness and readiness probes.
type ProbeResponse struct {
	Status string        `json:"status"`
	Checks []StageHealth `json:"checks,omitempty"`
}

// ErrorResponse carries a request failure.
type ErrorResponse struct {
	Error string `json:"error"`
}
