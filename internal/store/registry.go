package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"scenepipe/internal/estimate"
	"scenepipe/internal/media"
)

const (
	DefaultProgressHistory = 50
	DefaultRetention       = time.Hour
)

// ErrNotRunning is returned when a terminal job is asked to change state.
var ErrNotRunning = errors.New("job is not running")

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// ProgressHistory caps the progress events kept per job; older ones are dropped.
	ProgressHistory int
	// Retention is how long a finished job stays retrievable.
	Retention time.Duration
}

type jobRecord struct {
	view  JobView
	timer *time.Timer
}

// Registry tracks jobs in memory. At most one job per project is running at a time.
type Registry struct {
	cfg RegistryConfig

	mu      sync.Mutex
	jobs    map[string]*jobRecord
	running map[string]string // project id → job id
	closed  bool

	now   func() time.Time
	newID func() string
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.ProgressHistory <= 0 {
		cfg.ProgressHistory = DefaultProgressHistory
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Registry{
		cfg:     cfg,
		jobs:    make(map[string]*jobRecord),
		running: make(map[string]string),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Create registers a running job for projectID. It fails with
// *media.ConflictError when the project already has one.
func (r *Registry) Create(projectID, title string, sceneCount int, est estimate.Estimate) (*JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("registry is closed")
	}
	if existing, ok := r.running[projectID]; ok {
		return nil, &media.ConflictError{ProjectID: projectID, JobID: existing}
	}

	rec := &jobRecord{view: JobView{
		ID:            r.newID(),
		ProjectID:     projectID,
		Title:         title,
		SceneCount:    sceneCount,
		Status:        JobStatusRunning,
		StartedAt:     r.now(),
		Estimate:      est,
		StageProgress: make(map[media.Stage]float64, len(media.Stages)),
	}}
	r.jobs[rec.view.ID] = rec
	r.running[projectID] = rec.view.ID

	v := rec.view.clone()
	return &v, nil
}

// AppendProgress records an event on a running job. Stage progress only moves forward.
func (r *Registry) AppendProgress(jobID string, p media.GenerationProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[jobID]
	if !ok {
		return &media.NotFoundError{JobID: jobID}
	}
	if rec.view.Status.Terminal() {
		return fmt.Errorf("append progress to %s: %w", jobID, ErrNotRunning)
	}

	rec.view.Progress = append(rec.view.Progress, p)
	if n := len(rec.view.Progress); n > r.cfg.ProgressHistory {
		trimmed := make([]media.GenerationProgress, r.cfg.ProgressHistory)
		copy(trimmed, rec.view.Progress[n-r.cfg.ProgressHistory:])
		rec.view.Progress = trimmed
	}
	if p.Stage != "" && p.Percent > rec.view.StageProgress[p.Stage] {
		rec.view.StageProgress[p.Stage] = p.Percent
	}
	return nil
}

// Complete moves a running job to completed.
func (r *Registry) Complete(jobID string, result *media.PipelineResult) error {
	return r.finish(jobID, JobStatusCompleted, result, "")
}

// Fail moves a running job to failed. result may carry the partial output.
func (r *Registry) Fail(jobID string, cause error, result *media.PipelineResult) error {
	msg := "job failed"
	if cause != nil {
		msg = cause.Error()
	}
	return r.finish(jobID, JobStatusFailed, result, msg)
}

func (r *Registry) finish(jobID string, status JobStatus, result *media.PipelineResult, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[jobID]
	if !ok {
		return &media.NotFoundError{JobID: jobID}
	}
	if rec.view.Status.Terminal() {
		return fmt.Errorf("finish %s: %w", jobID, ErrNotRunning)
	}

	now := r.now()
	rec.view.Status = status
	rec.view.FinishedAt = &now
	rec.view.Result = result
	rec.view.Error = errMsg
	if status == JobStatusCompleted {
		for _, stage := range media.Stages {
			rec.view.StageProgress[stage] = 100
		}
	}
	delete(r.running, rec.view.ProjectID)

	if !r.closed {
		rec.timer = time.AfterFunc(r.cfg.Retention, func() { r.expire(jobID) })
	}
	return nil
}

func (r *Registry) expire(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.jobs[jobID]; ok && rec.view.Status.Terminal() {
		delete(r.jobs, jobID)
	}
}

// Get returns a copy of the job, or *media.NotFoundError.
func (r *Registry) Get(jobID string) (JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[jobID]
	if !ok {
		return JobView{}, &media.NotFoundError{JobID: jobID}
	}
	return rec.view.clone(), nil
}

// List returns every retained job, newest first, without progress history.
func (r *Registry) List() []JobView {
	r.mu.Lock()
	out := make([]JobView, 0, len(r.jobs))
	for _, rec := range r.jobs {
		v := rec.view.clone()
		v.Progress = nil
		out = append(out, v)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// ActiveCount returns the number of running jobs.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Close stops pending retention timers. Records stay readable.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, rec := range r.jobs {
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}
}

func (v JobView) clone() JobView {
	if v.Progress != nil {
		v.Progress = append([]media.GenerationProgress(nil), v.Progress...)
	}
	stages := make(map[media.Stage]float64, len(v.StageProgress))
	for k, p := range v.StageProgress {
		stages[k] = p
	}
	v.StageProgress = stages
	if v.FinishedAt != nil {
		t := *v.FinishedAt
		v.FinishedAt = &t
	}
	return v
}
