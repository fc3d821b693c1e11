// Package jobs tracks the lifecycle of segmentation requests and publishes
// lifecycle events to NATS.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DefaultRetention is how long finished jobs stay queryable.
const DefaultRetention = time.Hour

// Job is one segmentation request.
type Job struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	FileName  string    `json:"file_name"`
	FileSize  int64     `json:"file_size"`
	Backend   string    `json:"backend"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Classes   int       `json:"classes,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry tracks jobs in memory and publishes lifecycle events.
//
// Events are published to:
//   - segment.jobs.{job_id}.started
//   - segment.jobs.{job_id}.completed
//   - segment.jobs.{job_id}.failed
//
// A nil connection keeps the registry purely in memory.
type Registry struct {
	nats      *nats.Conn
	retention time.Duration

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates a registry publishing on nc, which may be nil.
func NewRegistry(nc *nats.Conn) *Registry {
	return &Registry{
		nats:      nc,
		retention: DefaultRetention,
		jobs:      make(map[string]*Job),
	}
}

// WithRetention sets how long finished jobs are kept.
func (r *Registry) WithRetention(d time.Duration) *Registry {
	r.retention = d
	return r
}

// Subject returns the event subject for a job.
func Subject(jobID, event string) string {
	return fmt.Sprintf("segment.jobs.%s.%s", jobID, event)
}

// Create registers a pending job and returns its ID.
func (r *Registry) Create(ctx context.Context, sessionID, fileName string, fileSize int64, backend string) string {
	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		FileName:  fileName,
		FileSize:  fileSize,
		Backend:   backend,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		job.TraceID = sc.TraceID().String()
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	return job.ID
}

// Started marks the job running and publishes a "started" event.
func (r *Registry) Started(jobID string) error {
	job, err := r.update(jobID, func(j *Job) {
		j.Status = StatusRunning
	})
	if err != nil {
		return err
	}
	return r.publish(Subject(jobID, "started"), job)
}

// Completed marks the job completed and publishes a "completed" event.
func (r *Registry) Completed(jobID string, classes int) error {
	job, err := r.update(jobID, func(j *Job) {
		j.Status = StatusCompleted
		j.Classes = classes
	})
	if err != nil {
		return err
	}
	r.scheduleCleanup(jobID)
	return r.publish(Subject(jobID, "completed"), map[string]interface{}{
		"id":          jobID,
		"classes":     job.Classes,
		"duration_ms": job.UpdatedAt.Sub(job.CreatedAt).Milliseconds(),
		"timestamp":   job.UpdatedAt,
	})
}

// Failed marks the job failed and publishes a "failed" event.
func (r *Registry) Failed(jobID string, cause error) error {
	job, err := r.update(jobID, func(j *Job) {
		j.Status = StatusFailed
		j.Error = cause.Error()
	})
	if err != nil {
		return err
	}
	r.scheduleCleanup(jobID)
	return r.publish(Subject(jobID, "failed"), job)
}

// Get returns a copy of the job.
func (r *Registry) Get(jobID string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Job{}, fmt.Errorf("job not found: %s", jobID)
	}
	return *job, nil
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *Registry) update(jobID string, fn func(*Job)) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return Job{}, fmt.Errorf("job not found: %s", jobID)
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return *job, nil
}

func (r *Registry) publish(subject string, v interface{}) error {
	if r.nats == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	if err := r.nats.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (r *Registry) scheduleCleanup(jobID string) {
	if r.retention <= 0 {
		return
	}
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		delete(r.jobs, jobID)
		r.mu.Unlock()
	})
}
