package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flexquest/flexquest/internal/cache"
	"github.com/flexquest/flexquest/internal/config"
	"github.com/flexquest/flexquest/internal/diagnostics"
	"github.com/flexquest/flexquest/internal/store"
	"github.com/flexquest/flexquest/internal/store/jsonfile"
	"github.com/flexquest/flexquest/internal/store/mock"
	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestSingletonJobRunsAfterStart(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	require.NoError(t, s.AddSingletonJob(
		"count", "Count", "counts runs", "every hour",
		gocron.DurationJob(time.Hour),
		func(context.Context) error {
			runs.Add(1)
			return nil
		},
		true,
	))

	info, ok := s.GetJob("count")
	require.True(t, ok)
	assert.Equal(t, JobStatusScheduled, info.Status)
	assert.True(t, info.Singleton)

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		info, _ := s.GetJob("count")
		return info.Status == JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	jobs := s.GetJobs()
	require.Contains(t, jobs, "count")
	assert.Equal(t, 1, jobs["count"].RunCount)
	assert.False(t, jobs["count"].NextRun.IsZero())
}

func TestFailedJobRecordsError(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.AddSingletonJob(
		"broken", "Broken", "always fails", "every hour",
		gocron.DurationJob(time.Hour),
		func(context.Context) error { return errors.New("boom") },
		false,
	))
	s.Start()

	require.NoError(t, s.RunJobNow("broken"))
	require.Eventually(t, func() bool {
		info, _ := s.GetJob("broken")
		return info.Status == JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	info, _ := s.GetJob("broken")
	assert.Equal(t, 1, info.ErrorCount)
	assert.Equal(t, "boom", info.LastError)
}

func TestRunUnknownJob(t *testing.T) {
	s := newTestScheduler(t)
	assert.Error(t, s.RunJobNow("missing"))

	_, ok := s.GetJob("missing")
	assert.False(t, ok)
}

func TestHealthRefresh(t *testing.T) {
	ctx := context.Background()
	local := jsonfile.New(afero.NewMemMapFs(), jsonfile.Options{Dir: "/data"})
	remote := mock.New("remote")
	remote.PingError = store.ErrTimeout

	collector := diagnostics.NewCollector(config.PersistenceRemote, local, diagnostics.WithRemote(remote))
	statusCache := cache.NewStatusCache(&config.CacheConfig{Type: config.CacheTypeMemory}, 0)

	s := newTestScheduler(t)
	require.NoError(t, s.AddHealthRefresh(time.Hour, RefreshStatus(collector, statusCache)))
	s.Start()

	var snap *diagnostics.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = statusCache.LatestSnapshot(ctx)
		return err == nil && snap != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, snap.Degraded())
	rem, ok := snap.Backend("remote")
	require.True(t, ok)
	assert.Equal(t, "timeout", rem.ErrorClass)
}
