package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/flexquest/flexquest/internal/cache"
	"github.com/flexquest/flexquest/internal/diagnostics"
	"github.com/go-co-op/gocron/v2"
)

// HealthRefreshJobID identifies the job that keeps the status cache fresh.
const HealthRefreshJobID = "health-refresh"

// RefreshStatus returns a job that collects a snapshot and stores it as the
// latest status. Degraded backends are logged, they do not fail the job.
func RefreshStatus(collector *diagnostics.Collector, statusCache *cache.StatusCache) JobFunc {
	return func(ctx context.Context) error {
		snap := collector.Collect(ctx)
		for _, b := range snap.Backends {
			if b.Error != "" {
				log.Warn("backend check failed", "backend", b.Name, "class", b.ErrorClass, "error", b.Error)
			}
		}
		if err := statusCache.StoreSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("failed to store status snapshot: %w", err)
		}
		return nil
	}
}

// AddHealthRefresh schedules RefreshStatus every interval, starting right
// after the scheduler starts.
func (s *Scheduler) AddHealthRefresh(interval time.Duration, job JobFunc) error {
	return s.AddSingletonJob(
		HealthRefreshJobID,
		"Backend health refresh",
		"Probes every backend and caches the result for the status endpoint",
		"every "+interval.String(),
		gocron.DurationJob(interval),
		job,
		true,
	)
}
