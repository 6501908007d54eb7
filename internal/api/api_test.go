package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flexquest/flexquest/internal/api/handler"
	"github.com/flexquest/flexquest/internal/api/models"
	"github.com/flexquest/flexquest/internal/cache"
	"github.com/flexquest/flexquest/internal/config"
	"github.com/flexquest/flexquest/internal/database"
	dbmock "github.com/flexquest/flexquest/internal/database/mock"
	"github.com/flexquest/flexquest/internal/diagnostics"
	"github.com/flexquest/flexquest/internal/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeCollector struct {
	calls atomic.Int32
	snap  diagnostics.Snapshot
}

func (f *fakeCollector) Collect(context.Context) *diagnostics.Snapshot {
	f.calls.Add(1)
	snap := f.snap
	return &snap
}

type fakeJobs map[string]scheduler.JobInfo

func (f fakeJobs) GetJobs() map[string]scheduler.JobInfo { return f }

type ServerTestSuite struct {
	suite.Suite
	collector *fakeCollector
	db        *dbmock.MockDB
	server    *Server
}

func (s *ServerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	s.collector = &fakeCollector{snap: diagnostics.Snapshot{
		Mode:        config.PersistenceRemote,
		CollectedAt: time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC),
		Backends: []diagnostics.BackendStatus{
			{Name: "json", Reachable: true, Users: 2},
			{Name: "remote", Reachable: true, Users: 2},
		},
	}}
	s.db = dbmock.NewMockDB()

	cfg := &config.Config{Listen: "127.0.0.1:0"}
	statusCache := cache.NewStatusCache(&config.CacheConfig{Type: config.CacheTypeMemory}, 0)
	h := handler.New(s.collector, statusCache, s.db, fakeJobs{
		scheduler.HealthRefreshJobID: {ID: scheduler.HealthRefreshJobID, Status: scheduler.JobStatusCompleted},
	})

	server, err := New(cfg, h, false)
	s.Require().NoError(err)
	s.server = server
}

func (s *ServerTestSuite) get(path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, req)
	return w
}

func (s *ServerTestSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v))
}

func (s *ServerTestSuite) TestHealthz() {
	w := s.get("/healthz")
	s.Equal(http.StatusOK, w.Code)

	var health models.Health
	s.decode(w, &health)
	s.Equal(models.HealthOK, health.Status)
	s.Equal("remote", health.Mode)
}

func (s *ServerTestSuite) TestHealthzDegraded() {
	s.collector.snap.Backends[1] = diagnostics.BackendStatus{Name: "remote", ErrorClass: "timeout"}

	w := s.get("/healthz")
	s.Equal(http.StatusOK, w.Code)

	var health models.Health
	s.decode(w, &health)
	s.Equal(models.HealthDegraded, health.Status)
}

func (s *ServerTestSuite) TestHealthzUnavailable() {
	s.collector.snap.Backends[0] = diagnostics.BackendStatus{Name: "json", ErrorClass: "unavailable"}

	w := s.get("/healthz")
	s.Equal(http.StatusServiceUnavailable, w.Code)
}

func (s *ServerTestSuite) TestStatusIsCached() {
	s.Equal(http.StatusOK, s.get("/api/status").Code)
	s.Equal(http.StatusOK, s.get("/api/status").Code)
	s.Equal(int32(1), s.collector.calls.Load())

	s.Equal(http.StatusOK, s.get("/api/status?refresh=true").Code)
	s.Equal(http.StatusOK, s.get("/api/status", "Cache-Control", "no-cache").Code)
	s.Equal(int32(3), s.collector.calls.Load())

	var snap diagnostics.Snapshot
	s.decode(s.get("/api/status"), &snap)
	s.Len(snap.Backends, 2)
	s.Equal(2, snap.Backends[0].Users)
}

func (s *ServerTestSuite) TestStatusGzip() {
	w := s.get("/api/status", "Accept-Encoding", "gzip")
	s.Equal(http.StatusOK, w.Code)
	s.Equal("gzip", w.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(w.Body)
	s.Require().NoError(err)
	body, err := io.ReadAll(zr)
	s.Require().NoError(err)

	var snap diagnostics.Snapshot
	s.Require().NoError(json.Unmarshal(body, &snap))
	s.Equal("remote", snap.Mode)
}

func (s *ServerTestSuite) TestHistory() {
	ctx := context.Background()
	base := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	for i := range 3 {
		s.Require().NoError(s.db.RecordRun(ctx, &database.ToolRun{
			Type:       database.RunTypeMigrate,
			Status:     database.RunStatusSuccess,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 1500*time.Millisecond),
			Entries:    []database.RunEntry{{Target: "users", Status: "done", Read: 2, Committed: 2}},
		}))
	}
	s.Require().NoError(s.db.RecordRun(ctx, &database.ToolRun{
		Type:      database.RunTypeRemoveUser,
		Status:    database.RunStatusPartial,
		Subject:   "bob",
		StartedAt: base.Add(time.Hour),
	}))

	var page models.HistoryPage
	s.decode(s.get("/api/history"), &page)
	s.Equal(int64(4), page.Total)
	s.Len(page.Runs, 4)
	s.Equal("remove_user", page.Runs[0].Type)

	s.decode(s.get("/api/history?type=migrate&limit=2&offset=1"), &page)
	s.Equal(int64(3), page.Total)
	s.Require().Len(page.Runs, 2)
	s.Equal(2, page.Limit)
	s.Equal(1, page.Offset)
	s.Equal("1.5s", page.Runs[0].Duration)
	s.Equal(2, page.Runs[0].Entries[0].Committed)

	s.decode(s.get("/api/history?limit=abc&offset=-4"), &page)
	s.Equal(20, page.Limit)
	s.Equal(0, page.Offset)

	s.Equal(http.StatusBadRequest, s.get("/api/history?type=cleanup").Code)
}

func (s *ServerTestSuite) TestHistoryError() {
	s.db.GetRunsError = errors.New("disk I/O error")
	s.Equal(http.StatusInternalServerError, s.get("/api/history").Code)
}

func (s *ServerTestSuite) TestRun() {
	run := &database.ToolRun{Type: database.RunTypeRemoveUser, Status: database.RunStatusSuccess, Subject: "bob"}
	s.Require().NoError(s.db.RecordRun(context.Background(), run))

	var got models.Run
	w := s.get("/api/history/1")
	s.Equal(http.StatusOK, w.Code)
	s.decode(w, &got)
	s.Equal("bob", got.Subject)

	s.Equal(http.StatusNotFound, s.get("/api/history/42").Code)
	s.Equal(http.StatusBadRequest, s.get("/api/history/nope").Code)
	s.Equal(http.StatusBadRequest, s.get("/api/history/0").Code)
}

func (s *ServerTestSuite) TestJobsAndCacheStats() {
	var jobs struct {
		Jobs map[string]scheduler.JobInfo `json:"jobs"`
	}
	s.decode(s.get("/api/jobs"), &jobs)
	s.Contains(jobs.Jobs, scheduler.HealthRefreshJobID)

	s.get("/api/status")
	w := s.get("/api/cache/stats")
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"cacheName":"status"`)
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func TestNewRequiresArguments(t *testing.T) {
	_, err := New(nil, &handler.Handler{}, false)
	require.Error(t, err)

	_, err = New(&config.Config{}, nil, false)
	assert.Error(t, err)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	statusCache := cache.NewStatusCache(&config.CacheConfig{Type: config.CacheTypeMemory}, 0)
	h := handler.New(&fakeCollector{}, statusCache, dbmock.NewMockDB(), fakeJobs{})
	server, err := New(&config.Config{Listen: "127.0.0.1:0"}, h, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
