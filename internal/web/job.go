package web

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostalscan/guestfill/internal/guest"
	"github.com/hostalscan/guestfill/internal/router"
	"github.com/hostalscan/guestfill/internal/vision"
)

// JobStatus represents the status of a background scan
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusError     JobStatus = "error"
)

// Steps a scan goes through.
const (
	StepQueued     = "queued"
	StepExtracting = "extracting"
	StepFilling    = "filling"
	StepDone       = "done"
)

// Job represents a background document scan, optionally followed by a fill
type Job struct {
	ID          string
	Status      JobStatus
	Step        string
	Extraction  *vision.Result
	Fill        *router.FillResult
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
	ErrorType   string // "blocked" for rejected documents, "error" otherwise

	ctx        context.Context
	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

func (j *Job) SetStep(step string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Step = step
}

func (j *Job) SetExtraction(res vision.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Extraction = &res
}

func (j *Job) SetFill(res router.FillResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Fill = &res
}

// Complete marks the job as completed
func (j *Job) Complete() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != JobStatusRunning {
		return
	}
	j.Status = JobStatusCompleted
	j.Step = StepDone
	j.CompletedAt = time.Now()
	j.cancelFunc()
}

// Fail stops the job with err. Blocking errors keep their message as is.
func (j *Job) Fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != JobStatusRunning {
		return
	}
	j.Status = JobStatusError
	j.CompletedAt = time.Now()
	j.Error = guest.UserMessage(err)
	j.ErrorType = "error"
	var be *guest.BlockingError
	if errors.As(err, &be) {
		j.ErrorType = "blocked"
	}
	j.cancelFunc()
}

// Cancel cancels the job
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status == JobStatusRunning {
		j.Status = JobStatusCancelled
		j.CompletedAt = time.Now()
		j.cancelFunc()
	}
}

// IsCancelled returns true if the job was cancelled
func (j *Job) IsCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status == JobStatusCancelled
}

func (j *Job) State() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// Context returns the job's context
func (j *Job) Context() context.Context {
	return j.ctx
}

// ToJSON returns the job data for JSON serialization
func (j *Job) ToJSON() map[string]any {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := map[string]any{
		"id":         j.ID,
		"status":     j.Status,
		"step":       j.Step,
		"started_at": j.StartedAt,
	}
	if !j.CompletedAt.IsZero() {
		out["completed_at"] = j.CompletedAt
	}
	if j.Extraction != nil {
		out["record"] = j.Extraction.Record
		if j.Extraction.Usage != nil {
			out["usage"] = j.Extraction.Usage
		}
	}
	if j.Fill != nil {
		out["fill"] = j.Fill
	}
	if j.Error != "" {
		out["error"] = j.Error
		out["error_type"] = j.ErrorType
	}
	return out
}

// JobManager manages background jobs
type JobManager struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*Job),
	}
}

// Create creates a new running job
func (jm *JobManager) Create() *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.create()
}

// CreateExclusive creates a job unless one is already running, in which
// case it returns nil and the running job.
func (jm *JobManager) CreateExclusive() (*Job, *Job) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	for _, job := range jm.jobs {
		if job.State() == JobStatusRunning {
			return nil, job
		}
	}
	return jm.create(), nil
}

func (jm *JobManager) create() *Job {
	ctx, cancel := context.WithCancel(context.Background())

	job := &Job{
		ID:         uuid.New().String(),
		Status:     JobStatusRunning,
		Step:       StepQueued,
		StartedAt:  time.Now(),
		ctx:        ctx,
		cancelFunc: cancel,
	}

	jm.jobs[job.ID] = job
	return job
}

// Get returns a job by ID, or nil if not found
func (jm *JobManager) Get(id string) *Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	return jm.jobs[id]
}

// GetActive returns the currently running job, or nil if none
func (jm *JobManager) GetActive() *Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	for _, job := range jm.jobs {
		if job.State() == JobStatusRunning {
			return job
		}
	}
	return nil
}

// CancelAll cancels every running job.
func (jm *JobManager) CancelAll() {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	for _, job := range jm.jobs {
		job.Cancel()
	}
}

// Cleanup removes finished jobs older than the specified duration
func (jm *JobManager) Cleanup(maxAge time.Duration) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range jm.jobs {
		job.mu.Lock()
		done := job.Status != JobStatusRunning && job.CompletedAt.Before(cutoff)
		job.mu.Unlock()
		if done {
			delete(jm.jobs, id)
		}
	}
}
