package jobs

import "time"

type Trigger string

const (
	TriggerScheduled Trigger = "SCHEDULED"
	TriggerManual    Trigger = "MANUAL"
)

type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// SyncRun is one ingestion pipeline execution. It is immutable once
// CompletedAt is set.
type SyncRun struct {
	RunID        string     `json:"runId"`
	Trigger      Trigger    `json:"trigger"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Fetched      int        `json:"fetched"`
	Created      int        `json:"created"`
	Updated      int        `json:"updated"`
	Unchanged    int        `json:"unchanged"`
	Failed       int        `json:"failed"`
	Expired      int        `json:"expired"`
	IndexFailed  int        `json:"indexFailed"`
	Status       RunStatus  `json:"status"`
	ErrorSummary string     `json:"errorSummary,omitempty"`
}

func (r *SyncRun) Finalized() bool {
	return r.CompletedAt != nil
}

// ReindexResult summarizes a bulk upload of active records to the external
// index.
type ReindexResult struct {
	Considered int `json:"considered"`
	Indexed    int `json:"indexed"`
	Failed     int `json:"failed"`
}
