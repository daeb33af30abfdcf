// Package notify fans job lifecycle events out to in-process subscribers
// and external message brokers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"scenepipe/internal/media"
)

// Event names.
const (
	EventJobStarted   = "job.started"
	EventJobProgress  = "job.progress"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Event is one notification about a job.
type Event struct {
	Name      string      `json:"event"`
	JobID     string      `json:"job_id"`
	ProjectID string      `json:"project_id"`
	Stage     media.Stage `json:"stage,omitempty"`
	SceneID   string      `json:"scene_id,omitempty"`
	Percent   float64     `json:"percent"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProgressEvent wraps a progress record of a job.
func ProgressEvent(jobID, projectID string, p media.GenerationProgress) Event {
	return Event{
		Name:      EventJobProgress,
		JobID:     jobID,
		ProjectID: projectID,
		Stage:     p.Stage,
		SceneID:   p.SceneID,
		Percent:   p.Percent,
		Message:   p.Message,
		Timestamp: p.Timestamp,
	}
}

// Payload is the JSON encoding every sink publishes.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// Channel is a destination for events. Implementations must be safe for
// use from the broadcaster goroutine.
type Channel interface {
	Publish(ctx context.Context, e Event) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, e Event) error

func (f ChannelFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Publisher is what the pipeline uses to emit events.
type Publisher interface {
	Publish(e Event)
}
