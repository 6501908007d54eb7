package models

import (
	"time"

	"github.com/flexquest/flexquest/internal/database"
	"github.com/flexquest/flexquest/internal/diagnostics"
	"github.com/samber/lo"
)

// ToRun converts a database.ToolRun for the API.
func ToRun(r database.ToolRun) Run {
	return Run{
		ID:          r.ID,
		Type:        string(r.Type),
		Status:      string(r.Status),
		Source:      r.Source,
		Destination: r.Destination,
		Subject:     r.Subject,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Duration:    r.Duration().Round(time.Millisecond).String(),
		Error:       r.Error,
		Entries: lo.Map(r.Entries, func(e database.RunEntry, _ int) Entry {
			return Entry{
				Target:    e.Target,
				Status:    e.Status,
				Read:      e.Read,
				Committed: e.Committed,
				Pending:   e.Pending,
				Error:     e.Error,
			}
		}),
	}
}

// ToRuns converts a slice of database.ToolRun.
func ToRuns(runs []database.ToolRun) []Run {
	result := make([]Run, len(runs))
	for i, r := range runs {
		result[i] = ToRun(r)
	}
	return result
}

// ToHealth summarizes a snapshot.
func ToHealth(snap *diagnostics.Snapshot) Health {
	h := Health{Status: HealthOK, Mode: snap.Mode, CheckedAt: snap.CollectedAt}
	switch {
	case !snap.Healthy():
		h.Status = HealthUnavailable
	case snap.Degraded():
		h.Status = HealthDegraded
	}
	return h
}
