package models

import "time"

// Run is a tool run as served by the history endpoints.
type Run struct {
	ID          uint      `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Source      string    `json:"source,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Duration    string    `json:"duration"`
	Error       string    `json:"error,omitempty"`
	Entries     []Entry   `json:"entries"`
}

// Entry is one kind of a migration or one backend of a removal.
type Entry struct {
	Target    string `json:"target"`
	Status    string `json:"status"`
	Read      int    `json:"read"`
	Committed int    `json:"committed"`
	Pending   int    `json:"pending"`
	Error     string `json:"error,omitempty"`
}

// HistoryPage is a page of runs.
type HistoryPage struct {
	Runs   []Run `json:"runs"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// Health is the body of the liveness endpoint.
type Health struct {
	Status    string    `json:"status"`
	Mode      string    `json:"mode"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Health states.
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
)
