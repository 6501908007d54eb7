package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/flexquest/flexquest/internal/database"
)

// MockDB is a mock implementation of database.DB for testing.
type MockDB struct {
	mu sync.RWMutex

	runs      []database.ToolRun
	nextRunID uint

	// Error simulation
	RecordRunError  error
	GetRunsError    error
	GetRunError     error
	GetLastRunError error
	CloseError      error
}

var _ database.DB = (*MockDB)(nil)

// NewMockDB creates a new MockDB instance.
func NewMockDB() *MockDB {
	return &MockDB{nextRunID: 1}
}

// Reset clears all data and errors from the mock database.
func (m *MockDB) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = nil
	m.nextRunID = 1

	m.RecordRunError = nil
	m.GetRunsError = nil
	m.GetRunError = nil
	m.GetLastRunError = nil
	m.CloseError = nil
}

func (m *MockDB) RecordRun(ctx context.Context, run *database.ToolRun) error {
	if m.RecordRunError != nil {
		return m.RecordRunError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.ID = m.nextRunID
	m.nextRunID++
	for i := range run.Entries {
		run.Entries[i].ToolRunID = run.ID
	}
	m.runs = append(m.runs, *run)

	return nil
}

// newestFirst returns the stored runs sorted like the real database does.
// Callers hold m.mu.
func (m *MockDB) newestFirst() []database.ToolRun {
	runs := slices.Clone(m.runs)
	slices.SortStableFunc(runs, func(a, b database.ToolRun) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return int(b.ID) - int(a.ID)
	})
	return runs
}

func (m *MockDB) GetRuns(ctx context.Context, filter database.RunFilter) ([]database.ToolRun, int64, error) {
	if m.GetRunsError != nil {
		return nil, 0, m.GetRunsError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []database.ToolRun
	for _, run := range m.newestFirst() {
		if filter.Type == "" || run.Type == filter.Type {
			matched = append(matched, run)
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	start := min(max(filter.Offset, 0), len(matched))
	end := min(start+limit, len(matched))

	return matched[start:end], int64(len(matched)), nil
}

func (m *MockDB) GetRun(ctx context.Context, id uint) (*database.ToolRun, error) {
	if m.GetRunError != nil {
		return nil, m.GetRunError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, run := range m.runs {
		if run.ID == id {
			return &run, nil
		}
	}

	return nil, nil
}

func (m *MockDB) GetLastRun(ctx context.Context, runType database.RunType, status ...database.RunStatus) (*database.ToolRun, error) {
	if m.GetLastRunError != nil {
		return nil, m.GetLastRunError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, run := range m.newestFirst() {
		if run.Type != runType {
			continue
		}
		if len(status) > 0 && !slices.Contains(status, run.Status) {
			continue
		}
		return &run, nil
	}

	return nil, nil
}

func (m *MockDB) Close() error {
	return m.CloseError
}
