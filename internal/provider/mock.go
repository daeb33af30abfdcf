package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scenepipe/internal/media"
)

// Mock is a deterministic in-process generator for development and tests.
// It sleeps for Latency, then returns a synthetic URL unless FailFunc says otherwise.
type Mock struct {
	Name    string
	Latency time.Duration
	// FailFunc, if set, is consulted before each call with the 1-based attempt
	// number for that (scene, stage). A non-nil error is returned as-is.
	FailFunc func(req media.Request, attempt int) error

	mu    sync.Mutex
	calls map[string]int
	total int
}

// NewMock creates a mock generator.
func NewMock(name string, latency time.Duration) *Mock {
	return &Mock{Name: name, Latency: latency}
}

// Generate implements Generator.
func (m *Mock) Generate(ctx context.Context, req media.Request) (Result, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	key := string(req.Stage) + "/" + req.SceneID
	m.calls[key]++
	m.total++
	attempt := m.calls[key]
	m.mu.Unlock()

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if m.FailFunc != nil {
		if err := m.FailFunc(req, attempt); err != nil {
			return Result{}, err
		}
	}

	name := m.Name
	if name == "" {
		name = "mock"
	}
	return Result{
		URL:         fmt.Sprintf("%s://%s/%s/%s%s", name, req.Stage, req.JobID, req.SceneID, extension(req.Stage)),
		ContentType: contentType(req.Stage),
	}, nil
}

// Calls returns how many times the (stage, scene) pair was requested.
func (m *Mock) Calls(stage media.Stage, sceneID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[string(stage)+"/"+sceneID]
}

// TotalCalls returns the number of Generate invocations.
func (m *Mock) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func extension(stage media.Stage) string {
	switch stage {
	case media.StageImages:
		return ".png"
	case media.StageAudio:
		return ".mp3"
	case media.StageVideos:
		return ".mp4"
	}
	return ""
}

func contentType(stage media.Stage) string {
	switch stage {
	case media.StageImages:
		return "image/png"
	case media.StageAudio:
		return "audio/mpeg"
	case media.StageVideos:
		return "video/mp4"
	}
	return "application/octet-stream"
}

var _ Generator = (*Mock)(nil)
