package database

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

// RunType identifies the operator tool that produced a run.
type RunType string

const (
	// RunTypeMigrate is a full-overwrite migration between backends.
	RunTypeMigrate RunType = "migrate"
	// RunTypeRemoveUser is a user removal across backends.
	RunTypeRemoveUser RunType = "remove_user"
)

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial means the run failed after committing some changes.
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// ToolRun is one invocation of an operator tool.
type ToolRun struct {
	gorm.Model
	Type   RunType   `gorm:"not null;index"`
	Status RunStatus `gorm:"not null;index"`
	// Source and Destination are backend names. Destination is empty for removals.
	Source      string
	Destination string
	// Subject is what the run was about, the kinds of a migration or the removed username.
	Subject    string
	StartedAt  time.Time `gorm:"not null;index"`
	FinishedAt time.Time
	Error      string
	Entries    []RunEntry `gorm:"constraint:OnDelete:CASCADE;"`
}

// Duration returns how long the run took.
func (r ToolRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunEntry is the per-kind (migration) or per-backend (removal) part of a run.
type RunEntry struct {
	gorm.Model
	ToolRunID uint   `gorm:"not null;index"`
	Target    string `gorm:"not null"`
	Status    string `gorm:"not null"`
	Read      int
	Committed int
	Pending   int
	Error     string
}

// RunFilter narrows GetRuns.
type RunFilter struct {
	Type   RunType
	Limit  int
	Offset int
}

// RecordRun stores a run together with its entries.
func (c *Client) RecordRun(ctx context.Context, run *ToolRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if err := c.db.WithContext(ctx).Create(run).Error; err != nil {
		log.Error("failed to record tool run", "type", run.Type, "error", err)
		return err
	}
	return nil
}

// GetRuns returns runs newest first and the total number of matching runs.
func (c *Client) GetRuns(ctx context.Context, filter RunFilter) ([]ToolRun, int64, error) {
	scoped := func() *gorm.DB {
		query := c.db.WithContext(ctx).Model(&ToolRun{})
		if filter.Type != "" {
			query = query.Where("type = ?", filter.Type)
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		log.Error("failed to count tool runs", "error", err)
		return nil, 0, err
	}

	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	filter.Offset = max(filter.Offset, 0)

	var runs []ToolRun
	if err := scoped().
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Order("started_at DESC, id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&runs).Error; err != nil {
		log.Error("failed to get tool runs", "error", err)
		return nil, 0, err
	}
	return runs, total, nil
}

// GetRun returns the run with id, or nil if there is none.
func (c *Client) GetRun(ctx context.Context, id uint) (*ToolRun, error) {
	var run ToolRun
	err := c.db.WithContext(ctx).Preload("Entries").First(&run, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		log.Error("failed to get tool run", "id", id, "error", err)
		return nil, err
	}
	return &run, nil
}

// GetLastRun returns the most recent run of runType, optionally restricted to
// the given statuses, or nil if there is none.
func (c *Client) GetLastRun(ctx context.Context, runType RunType, status ...RunStatus) (*ToolRun, error) {
	query := c.db.WithContext(ctx).Preload("Entries").Where("type = ?", runType)
	if len(status) > 0 {
		query = query.Where("status IN ?", status)
	}

	var run ToolRun
	err := query.Order("started_at DESC, id DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		log.Error("failed to get last tool run", "type", runType, "error", err)
		return nil, err
	}
	return &run, nil
}
