package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron/v2"
)

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusScheduled JobStatus = "scheduled"
)

// JobInfo contains information about a scheduled job.
type JobInfo struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	Status            JobStatus  `json:"status"`
	LastRun           time.Time  `json:"lastRun"`
	NextRun           time.Time  `json:"nextRun"`
	Schedule          string     `json:"schedule"`
	RunCount          int        `json:"runCount"`
	ErrorCount        int        `json:"errorCount"`
	LastError         string     `json:"lastError,omitempty"`
	Singleton         bool       `json:"singleton"`
	InstantAfterStart bool       `json:"instantAfterStart,omitempty"`
	gocronJob         gocron.Job // nil until added
}

// JobFunc represents a function that can be scheduled.
type JobFunc func(ctx context.Context) error

// Scheduler manages scheduled jobs.
type Scheduler struct {
	gocron gocron.Scheduler
	logger *log.Logger

	mu   sync.RWMutex
	jobs map[string]*JobInfo

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler.
func New() (*Scheduler, error) {
	gocronScheduler, err := gocron.NewScheduler(gocron.WithLogger(newLogger()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		gocron: gocronScheduler,
		logger: log.Default().WithPrefix("scheduler"),
		jobs:   make(map[string]*JobInfo),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start starts the scheduler and triggers the jobs marked to run right away.
func (s *Scheduler) Start() {
	s.logger.Info("Starting job scheduler")
	s.gocron.Start()

	s.mu.Lock()
	var instant []string
	for id, jobInfo := range s.jobs {
		if nextRun, err := jobInfo.gocronJob.NextRun(); err == nil {
			jobInfo.NextRun = nextRun
		} else {
			s.logger.Warn("Failed to get next run time for job", "id", id, "error", err)
		}
		if jobInfo.InstantAfterStart {
			instant = append(instant, id)
		}
	}
	s.mu.Unlock()

	for _, id := range instant {
		if err := s.RunJobNow(id); err != nil {
			s.logger.Error("Failed to run job immediately after start", "id", id, "error", err)
		}
	}
}

// Stop cancels running jobs and stops the scheduler.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping job scheduler")
	s.cancel()
	return s.gocron.Shutdown()
}

// AddSingletonJob adds a job that never runs concurrently with itself. A
// run that would overlap the previous one is rescheduled.
func (s *Scheduler) AddSingletonJob(
	id, name, description, definitionString string,
	jobDef gocron.JobDefinition,
	jobFunc JobFunc,
	instantAfterStart bool,
) error {
	jobInfo := &JobInfo{
		ID:                id,
		Name:              name,
		Description:       description,
		Status:            JobStatusScheduled,
		Schedule:          definitionString,
		Singleton:         true,
		InstantAfterStart: instantAfterStart,
	}

	job, err := s.gocron.NewJob(
		jobDef,
		gocron.NewTask(s.wrapJobFunc(jobInfo, jobFunc)),
		gocron.WithName(id),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", id, err)
	}
	s.mu.Lock()
	jobInfo.gocronJob = job
	s.jobs[id] = jobInfo
	s.mu.Unlock()

	s.logger.Info("Added job to scheduler", "id", id, "name", name, "schedule", definitionString)
	return nil
}

// RunJobNow manually triggers a job to run immediately.
func (s *Scheduler) RunJobNow(id string) error {
	s.mu.RLock()
	jobInfo, exists := s.jobs[id]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}

	s.logger.Debug("Manually triggering job", "id", id, "name", jobInfo.Name)
	if err := jobInfo.gocronJob.RunNow(); err != nil {
		return fmt.Errorf("failed to trigger job %s: %w", id, err)
	}
	return nil
}

// GetJobs returns a copy of every job's information.
func (s *Scheduler) GetJobs() map[string]JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]JobInfo, len(s.jobs))
	for id, info := range s.jobs {
		out[id] = *info
	}
	return out
}

// GetJob returns information about a specific job.
func (s *Scheduler) GetJob(id string) (JobInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return JobInfo{}, false
	}
	return *job, true
}

// wrapJobFunc wraps a job function to update job statistics.
func (s *Scheduler) wrapJobFunc(jobInfo *JobInfo, jobFunc JobFunc) func() {
	return func() {
		s.mu.Lock()
		jobInfo.Status = JobStatusRunning
		jobInfo.LastRun = time.Now()
		jobInfo.RunCount++
		s.mu.Unlock()

		s.logger.Debug("Starting job", "id", jobInfo.ID)
		err := jobFunc(s.ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if jobInfo.gocronJob != nil {
			if nextRun, nerr := jobInfo.gocronJob.NextRun(); nerr == nil {
				jobInfo.NextRun = nextRun
			}
		}
		if err != nil {
			s.logger.Error("Job failed", "id", jobInfo.ID, "error", err)
			jobInfo.Status = JobStatusFailed
			jobInfo.ErrorCount++
			jobInfo.LastError = err.Error()
			return
		}
		s.logger.Debug("Job completed successfully", "id", jobInfo.ID)
		jobInfo.Status = JobStatusCompleted
		jobInfo.LastError = ""
	}
}
