package model

import "time"

// PipelineJob is a point-in-time view of one unfinished pipeline run. Finished runs leave the
// registry, so completion is observed through the job handle, not through this view.
type PipelineJob struct {
	SessionID      SessionID `json:"session_id"`
	SendDownstream bool      `json:"send_downstream"`
	StartedAt      time.Time `json:"started_at"`
}

// RunStatus is the synchronous answer of run_pipeline
type RunStatus string

const (
	RunStatusStarted          RunStatus = "started"
	RunStatusBusy             RunStatus = "busy"
	RunStatusCapacityExceeded RunStatus = "capacity_exceeded"
)

// RunResponse is returned by run_pipeline
type RunResponse struct {
	Status         RunStatus `json:"status"`
	SessionID      SessionID `json:"session_id"`
	MaxConcurrency *int      `json:"max_concurrency,omitempty"`
}

// StatusReport is returned by status
type StatusReport struct {
	SessionID        SessionID     `json:"session_id"`
	Stage            Stage         `json:"stage"`
	FinalOutputReady bool          `json:"final_output_ready"`
	SessionRunning   bool          `json:"session_running"`
	ActiveJobs       []PipelineJob `json:"active_jobs"`
	ActiveCount      int           `json:"active_count"`
	MaxConcurrency   int           `json:"max_concurrency"`
	PerspectiveCount int           `json:"perspective_count"`
	FallbackCount    int           `json:"fallback_count"`
	LastError        string        `json:"last_error,omitempty"`
}
