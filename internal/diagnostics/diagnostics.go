// Package diagnostics collects a point-in-time view of both backends: are
// they reachable, what do they hold, and did a migration already run.
package diagnostics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/flexquest/flexquest/internal/store"
	"github.com/flexquest/flexquest/internal/store/jsonfile"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sync/errgroup"
)

// BackendStatus describes one backend.
type BackendStatus struct {
	Name       string        `json:"name"`
	Reachable  bool          `json:"reachable"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
	ErrorClass string        `json:"errorClass,omitempty"`
	Users      int           `json:"users"`
	Admin      bool          `json:"admin"`
	// MigratedAt is set when the admin settings carry a migration stamp.
	MigratedAt *time.Time          `json:"migratedAt,omitempty"`
	Files      []jsonfile.FileStat `json:"files,omitempty"`
}

// DiskUsage describes the filesystem holding the data directory.
type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}

// Snapshot is the result of one collection.
type Snapshot struct {
	Mode        string          `json:"mode"`
	CollectedAt time.Time       `json:"collectedAt"`
	Backends    []BackendStatus `json:"backends"`
	Disk        *DiskUsage      `json:"disk,omitempty"`
	Fallbacks   int64           `json:"fallbacks"`
	// Serving is what the application sees through the failover store.
	Serving *Serving `json:"serving,omitempty"`
}

// Serving is the result of reading through the store the application uses.
type Serving struct {
	Users      int    `json:"users"`
	Error      string `json:"error,omitempty"`
	ErrorClass string `json:"errorClass,omitempty"`
}

// Backend returns the status of the named backend, if present.
func (s *Snapshot) Backend(name string) (BackendStatus, bool) {
	for _, b := range s.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return BackendStatus{}, false
}

// Healthy reports whether requests can be served at all. The local files
// are the last resort in both modes.
func (s *Snapshot) Healthy() bool {
	local, ok := s.Backend(jsonfile.Name)
	return ok && local.Reachable
}

// Degraded reports whether remote mode is currently served from the local files.
func (s *Snapshot) Degraded() bool {
	if s.Mode != "remote" {
		return false
	}
	for _, b := range s.Backends {
		if b.Name != jsonfile.Name && !b.Reachable {
			return true
		}
	}
	return false
}

// Collector gathers snapshots.
type Collector struct {
	local     *jsonfile.Backend
	remote    store.Backend
	mode      string
	fallbacks func() int64
	serving   store.Store
}

// Option configures a Collector.
type Option func(*Collector)

// WithRemote adds the remote backend to every snapshot.
func WithRemote(b store.Backend) Option {
	return func(c *Collector) { c.remote = b }
}

// WithFallbacks reports the coordinator's fallback counter in snapshots.
func WithFallbacks(fn func() int64) Option {
	return func(c *Collector) { c.fallbacks = fn }
}

// WithStore reads the user count through s, normally the failover
// coordinator. The fallback counter is read after that read.
func WithStore(s store.Store) Option {
	return func(c *Collector) { c.serving = s }
}

// NewCollector creates a collector for mode over the local backend.
func NewCollector(mode string, local *jsonfile.Backend, opts ...Option) *Collector {
	c := &Collector{local: local, mode: mode}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect probes all backends concurrently. Backend failures are part of the
// snapshot, not errors.
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{Mode: c.mode, CollectedAt: time.Now().UTC()}

	backends := []store.Backend{c.local}
	if c.remote != nil {
		backends = append(backends, c.remote)
	}
	snap.Backends = make([]BackendStatus, len(backends))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		g.Go(func() error {
			snap.Backends[i] = Probe(gctx, b)
			return nil
		})
	}
	g.Go(func() error {
		usage, err := diskUsage(gctx, c.local.Dir())
		if err != nil {
			log.Warn("failed to get disk usage", "path", c.local.Dir(), "error", err)
			return nil
		}
		snap.Disk = usage
		return nil
	})
	_ = g.Wait()

	if c.serving != nil {
		snap.Serving = &Serving{}
		users, err := c.serving.Users().Count(ctx)
		if err != nil {
			snap.Serving.Error = err.Error()
			snap.Serving.ErrorClass = store.Class(err)
		}
		snap.Serving.Users = users
	}
	if c.fallbacks != nil {
		snap.Fallbacks = c.fallbacks()
	}

	if files, err := c.local.Files(); err == nil {
		snap.Backends[0].Files = files
	} else {
		log.Warn("failed to stat data files", "error", err)
	}
	return snap
}

// Probe pings b and reads its counts and migration stamp. The first failure
// ends the probe and is recorded in the status.
func Probe(ctx context.Context, b store.Backend) BackendStatus {
	st := BackendStatus{Name: b.Name()}
	fail := func(err error) BackendStatus {
		st.Error = err.Error()
		st.ErrorClass = store.Class(err)
		st.Reachable = st.Reachable && !errors.Is(err, store.ErrUnavailable)
		return st
	}

	start := time.Now()
	if err := b.Ping(ctx); err != nil {
		st.Latency = time.Since(start)
		return fail(err)
	}
	st.Latency = time.Since(start)
	st.Reachable = true

	users, err := b.Users().Count(ctx)
	if err != nil {
		return fail(err)
	}
	st.Users = users

	admin, err := b.Admin().Get(ctx, store.AdminKey)
	if err != nil {
		return fail(err)
	}
	if admin != nil {
		st.Admin = true
		st.MigratedAt = admin.MigratedAt
	}
	return st
}

// diskUsage reports usage of the filesystem holding path. A data directory
// that does not exist yet is measured at its closest existing parent.
func diskUsage(ctx context.Context, path string) (*DiskUsage, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			break
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			break
		}
		abs = parent
	}

	usage, err := disk.UsageWithContext(ctx, abs)
	if err != nil {
		return nil, err
	}
	return &DiskUsage{
		Path:        abs,
		Total:       usage.Total,
		Free:        usage.Free,
		Used:        usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}
