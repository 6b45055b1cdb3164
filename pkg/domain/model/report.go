package model

import "time"

// FailedResource is a resource that did not end up on local storage
type FailedResource struct {
	Remote   RemotePath `json:"remote"`
	Local    LocalPath  `json:"local,omitempty"`
	Attempts int        `json:"attempts"`
	Status   int        `json:"status,omitempty"`
	Reason   string     `json:"reason"`
	// Unresolved is set for resources that were still pending when the run stopped
	Unresolved bool `json:"unresolved,omitempty"`
}

// DownloadReport aggregates the result of one download engine run
type DownloadReport struct {
	Succeeded []RemotePath     `json:"succeeded"`
	Failed    []FailedResource `json:"failed"`
	Waves     int              `json:"waves"`
	Aborted   bool             `json:"aborted"`
}

// RunReport summarises one backup run
type RunReport struct {
	RunID       string           `json:"run_id"`
	Job         string           `json:"job"`
	Endpoint    string           `json:"endpoint"`
	Destination string           `json:"destination"`
	StartedAt   time.Time        `json:"started_at"`
	Elapsed     time.Duration    `json:"elapsed_ns"`
	Discovered  int              `json:"discovered"`
	Succeeded   int              `json:"succeeded"`
	Failed      []FailedResource `json:"failed"`
	Waves       int              `json:"waves"`
	Aborted     bool             `json:"aborted"`
	Error       string           `json:"error,omitempty"`
}

// HasFailures reports whether any resource failed or the run stopped early
func (r *RunReport) HasFailures() bool {
	return len(r.Failed) > 0 || r.Aborted || r.Error != ""
}

// RunBatch is one triggered run over every configured job
type RunBatch struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Reports    []*RunReport `json:"reports"`
}
