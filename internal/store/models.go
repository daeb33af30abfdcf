// Package store holds job state and the persistence contracts for generated assets.
package store

import (
	"time"

	"scenepipe/internal/estimate"
	"scenepipe/internal/media"
)

// JobStatus is the lifecycle state of a job. Transitions only go forward:
// running → completed | failed.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobView is a point-in-time copy of a job record.
type JobView struct {
	ID            string
	ProjectID     string
	Title         string
	SceneCount    int
	Status        JobStatus
	StartedAt     time.Time
	FinishedAt    *time.Time
	Estimate      estimate.Estimate
	Progress      []media.GenerationProgress
	StageProgress map[media.Stage]float64
	Result        *media.PipelineResult
	Error         string
}

// Percent is the overall completion: the mean of the stage percentages,
// or 100 once the job completed.
func (v JobView) Percent() float64 {
	if v.Status == JobStatusCompleted {
		return 100
	}
	var sum float64
	for _, stage := range media.Stages {
		sum += v.StageProgress[stage]
	}
	return sum / float64(len(media.Stages))
}

// RecentProgress returns at most n of the newest progress events, oldest first.
func (v JobView) RecentProgress(n int) []media.GenerationProgress {
	if n <= 0 || len(v.Progress) == 0 {
		return []media.GenerationProgress{}
	}
	if len(v.Progress) <= n {
		return v.Progress
	}
	return v.Progress[len(v.Progress)-n:]
}

// StoredAsset is the durable copy of a generated asset.
type StoredAsset struct {
	ProjectID string
	SceneID   string
	Stage     media.Stage
	SourceURL string
	// Key locates the stored copy inside the store (a path or row id).
	Key       string
	Metadata  map[string]string
	CreatedAt time.Time
}
