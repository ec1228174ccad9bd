package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// JobState tracks a manually triggered fetch through its lifecycle.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is one manually triggered ingestion run.
type Job struct {
	ID         string     `json:"job_id"`
	State      JobState   `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    *Summary   `json:"summary,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// JobRegistry runs triggered fetches in the background and retains
// their outcomes in memory for status polling.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	log  zerolog.Logger
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry(log zerolog.Logger) *JobRegistry {
	return &JobRegistry{
		jobs: make(map[string]*Job),
		log:  log.With().Str("component", "job_registry").Logger(),
	}
}

// Start launches fn in the background and returns the job id
// immediately. The registry recovers panics so a crashed job surfaces
// as failed rather than taking the process down.
func (r *JobRegistry) Start(ctx context.Context, fn func(context.Context) (Summary, error)) string {
	job := &Job{
		ID:        uuid.New().String(),
		State:     JobRunning,
		StartedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error().Interface("panic", rec).Str("job_id", job.ID).Msg("Fetch job panicked")
				r.finish(job.ID, nil, JobFailed, "internal error")
			}
		}()

		summary, err := fn(ctx)
		if err != nil {
			r.finish(job.ID, &summary, JobFailed, err.Error())
			return
		}
		r.finish(job.ID, &summary, JobCompleted, "")
	}()

	r.log.Info().Str("job_id", job.ID).Msg("Fetch job started")
	return job.ID
}

func (r *JobRegistry) finish(id string, summary *Summary, state JobState, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	job.State = state
	job.FinishedAt = &now
	job.Summary = summary
	job.Error = errMsg
}

// Get returns a snapshot of the job, or nil when unknown.
func (r *JobRegistry) Get(id string) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}
