package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/flexquest/flexquest/internal/api/models"
	"github.com/flexquest/flexquest/internal/cache"
	"github.com/flexquest/flexquest/internal/database"
	"github.com/flexquest/flexquest/internal/diagnostics"
	"github.com/flexquest/flexquest/internal/scheduler"
	"github.com/gin-gonic/gin"
)

const (
	// Cache control constants.
	CacheControlNoCache = "no-cache"
	CacheControlMaxAge0 = "max-age=0"
	RefreshParamTrue    = "true"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Collector produces live snapshots.
type Collector interface {
	Collect(ctx context.Context) *diagnostics.Snapshot
}

// JobLister reports scheduled jobs.
type JobLister interface {
	GetJobs() map[string]scheduler.JobInfo
}

type Handler struct {
	collector   Collector
	statusCache *cache.StatusCache
	db          database.DB
	jobs        JobLister
}

func New(collector Collector, statusCache *cache.StatusCache, db database.DB, jobs JobLister) *Handler {
	return &Handler{
		collector:   collector,
		statusCache: statusCache,
		db:          db,
		jobs:        jobs,
	}
}

// snapshot returns the cached snapshot, collecting and caching a fresh one
// when forced or when the cache is empty.
func (h *Handler) snapshot(c *gin.Context, force bool) *diagnostics.Snapshot {
	ctx := c.Request.Context()
	if !force {
		snap, err := h.statusCache.LatestSnapshot(ctx)
		if err != nil {
			log.Warn("failed to read status cache", "error", err)
		}
		if snap != nil {
			return snap
		}
	}

	snap := h.collector.Collect(ctx)
	if err := h.statusCache.StoreSnapshot(ctx, snap); err != nil {
		log.Warn("failed to cache status snapshot", "error", err)
	}
	return snap
}

func forceRefresh(c *gin.Context) bool {
	cacheControl := c.GetHeader("Cache-Control")
	return c.Query("refresh") == RefreshParamTrue ||
		cacheControl == CacheControlNoCache ||
		cacheControl == CacheControlMaxAge0
}

// Healthz answers 200 while requests can be served, also when degraded.
func (h *Handler) Healthz(c *gin.Context) {
	health := models.ToHealth(h.snapshot(c, false))
	code := http.StatusOK
	if health.Status == models.HealthUnavailable {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

// Status returns the full backend snapshot.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot(c, forceRefresh(c)))
}

// History returns a page of tool runs, optionally filtered by type.
func (h *Handler) History(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	runType := database.RunType(c.Query("type"))
	switch runType {
	case "", database.RunTypeMigrate, database.RunTypeRemoveUser:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run type"})
		return
	}

	runs, total, err := h.db.GetRuns(c.Request.Context(), database.RunFilter{
		Type:   runType,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run history"})
		return
	}

	c.JSON(http.StatusOK, models.HistoryPage{
		Runs:   models.ToRuns(runs),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Run returns a single tool run.
func (h *Handler) Run(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run ID"})
		return
	}

	run, err := h.db.GetRun(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, models.ToRun(*run))
}

// Jobs returns the scheduled background jobs.
func (h *Handler) Jobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.GetJobs()})
}

// CacheStats returns the status cache statistics.
func (h *Handler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"caches": h.statusCache.GetStats()})
}
