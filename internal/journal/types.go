package journal

import "time"

// Kind is the activation event kind.
type Kind string

const (
	KindMessage    Kind = "message"
	KindBackground Kind = "background"
)

// Status is an activation outcome.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Entry is one journaled activation.
type Entry struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Name        string     `json:"name"`
	Identity    string     `json:"identity,omitempty"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
