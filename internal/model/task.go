package model

import "time"

// TaskStatus is the lifecycle state of an enrichment task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskResult is the outcome recorded on a completed task.
type TaskResult string

const (
	TaskResultSuccess  TaskResult = "success"
	TaskResultNotFound TaskResult = "not_found"
)

// EnrichmentTask is one unit of pending firmographic enrichment work.
// Tasks are created pending and mutated exactly once to a terminal state.
type EnrichmentTask struct {
	ID          string     `json:"id"`
	Domain      string     `json:"domain,omitempty"`
	CompanyName string     `json:"company_name,omitempty"`
	VisitIDs    []string   `json:"visit_ids"`
	SessionID   string     `json:"session_id,omitempty"`
	Status      TaskStatus `json:"status"`
	Result      TaskResult `json:"result,omitempty"`
	CompanyID   string     `json:"company_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskUpdate is the terminal status change staged for a task.
type TaskUpdate struct {
	Status      TaskStatus `json:"status"`
	Result      TaskResult `json:"result,omitempty"`
	CompanyID   string     `json:"company_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
}

// IPRange is a known corporate IPv4 range from the static directory.
type IPRange struct {
	ID            string `json:"id" yaml:"id"`
	CompanyName   string `json:"company_name" yaml:"company_name"`
	CompanyDomain string `json:"company_domain,omitempty" yaml:"company_domain"`
	StartIP       string `json:"start_ip" yaml:"start_ip"`
	EndIP         string `json:"end_ip" yaml:"end_ip"`
	Start         uint32 `json:"start" yaml:"-"`
	End           uint32 `json:"end" yaml:"-"`
}

// Contains reports whether n lies within the inclusive range.
func (r IPRange) Contains(n uint32) bool {
	return n >= r.Start && n <= r.End
}
