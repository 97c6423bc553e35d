package api

import "time"

// CheckResult mirrors a preflight check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// StageItem describes the work item a stage worker currently holds.
type StageItem struct {
	Stage  string `json:"stage"`
	Source string `json:"source"`
	Name   string `json:"name,omitempty"`
	Retry  int    `json:"retry"`
}

// DaemonStatus is the response for GET /api/status.
type DaemonStatus struct {
	Running        bool          `json:"running"`
	PID            int           `json:"pid"`
	Maintenance    bool          `json:"maintenance"`
	QueuePaused    bool          `json:"queue_paused"`
	QueueLength    int           `json:"queue_length"`
	AcquireDepth   int           `json:"acquire_depth"`
	TransformDepth int           `json:"transform_depth"`
	PublishDepth   int           `json:"publish_depth"`
	InFlight       []StageItem   `json:"in_flight,omitempty"`
	Checks         []CheckResult `json:"checks,omitempty"`
	LockFilePath   string        `json:"lock_file_path,omitempty"`
}

// JobView mirrors one queued job.
type JobView struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	CreatedAt      time.Time      `json:"created_at"`
	Status         string         `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	TotalItems     int            `json:"total_items"`
	ProcessedItems int            `json:"processed_items"`
	Params         map[string]any `json:"params,omitempty"`
}

// QueueListResponse is the response for GET /api/queue.
type QueueListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// SubmitJobRequest is the body for POST /api/jobs.
type SubmitJobRequest struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// SubmitJobResponse acknowledges an accepted job.
type SubmitJobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ModuleInfo mirrors one registered module.
type ModuleInfo struct {
	Name    string `json:"name"`
	Builtin bool   `json:"builtin"`
	Enabled bool   `json:"enabled"`
	Active  bool   `json:"active"`
	Error   string `json:"error,omitempty"`
}

// ModuleListResponse is the response for GET /api/modules.
type ModuleListResponse struct {
	Modules []ModuleInfo `json:"modules"`
}

// MaintenanceRequest is the body for POST /api/maintenance.
type MaintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

// ErrorResponse carries an error message for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
