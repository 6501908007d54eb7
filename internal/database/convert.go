package database

import (
	"strings"
	"time"

	"github.com/flexquest/flexquest/internal/migrate"
	"github.com/flexquest/flexquest/internal/repair"
	"github.com/samber/lo"
)

// MigrationRun converts a migration report and the error returned with it.
func MigrationRun(report *migrate.Report, err error) *ToolRun {
	run := &ToolRun{
		Type:        RunTypeMigrate,
		Status:      RunStatusSuccess,
		Source:      report.Source,
		Destination: report.Destination,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Subject: strings.Join(lo.Map(report.Kinds, func(k migrate.KindResult, _ int) string {
			return string(k.Kind)
		}), ","),
		Entries: lo.Map(report.Kinds, func(k migrate.KindResult, _ int) RunEntry {
			return RunEntry{
				Target:    string(k.Kind),
				Status:    string(k.Status),
				Read:      k.Read,
				Committed: k.Committed,
				Pending:   k.Pending,
				Error:     k.Error,
			}
		}),
	}
	if err != nil {
		run.Status = RunStatusFailed
		if report.Committed() > 0 {
			run.Status = RunStatusPartial
		}
		run.Error = err.Error()
	}
	return run
}

// RemovalRun converts a user removal report and the error returned with it.
func RemovalRun(report *repair.Report, startedAt time.Time, err error) *ToolRun {
	run := &ToolRun{
		Type:       RunTypeRemoveUser,
		Status:     RunStatusSuccess,
		Subject:    report.Username,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Source: strings.Join(lo.Map(report.Outcomes, func(o repair.Outcome, _ int) string {
			return o.Backend
		}), ","),
		Entries: lo.Map(report.Outcomes, func(o repair.Outcome, _ int) RunEntry {
			e := RunEntry{
				Target:    o.Backend,
				Status:    o.Status(),
				Read:      o.Found,
				Committed: o.Removed,
				Pending:   o.Found - o.Removed,
			}
			if o.Err != nil {
				e.Error = o.Err.Error()
			}
			return e
		}),
	}
	if err != nil {
		run.Status = RunStatusFailed
		if report.Removed() > 0 {
			run.Status = RunStatusPartial
		}
		run.Error = err.Error()
	}
	return run
}
