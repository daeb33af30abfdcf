package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"scenepipe/internal/cache"
	"scenepipe/internal/estimate"
	"scenepipe/internal/media"
	"scenepipe/internal/pipeline"
	"scenepipe/internal/store"
)

// mockOrchestrator is a hand-written fake with hooks and spies.
type mockOrchestrator struct {
	// Hooks
	submitResp   pipeline.Submission
	submitErr    error
	estimateResp estimate.Estimate
	estimateErr  error
	statusResp   pipeline.JobStatus
	statusErr    error
	listResp     []store.JobView

	// Spies
	capturedProject media.Project
	submitCalls     int
}

func (m *mockOrchestrator) Submit(ctx context.Context, p media.Project) (pipeline.Submission, error) {
	m.submitCalls++
	m.capturedProject = p
	return m.submitResp, m.submitErr
}

func (m *mockOrchestrator) Estimate(p media.Project) (estimate.Estimate, error) {
	m.capturedProject = p
	return m.estimateResp, m.estimateErr
}

func (m *mockOrchestrator) Status(jobID string) (pipeline.JobStatus, error) {
	if m.statusErr != nil {
		return pipeline.JobStatus{}, m.statusErr
	}
	return m.statusResp, nil
}

func (m *mockOrchestrator) List() []store.JobView {
	return m.listResp
}

type mockCache struct {
	stats       cache.Stats
	present     map[string]bool
	invalidated []string
}

func (m *mockCache) Stats() cache.Stats { return m.stats }

func (m *mockCache) Invalidate(key string) bool {
	m.invalidated = append(m.invalidated, key)
	return m.present[key]
}

type mockPinger struct {
	pingErr error
}

func (m *mockPinger) Ping(ctx context.Context) error { return m.pingErr }

// mockEvents delivers queued messages as soon as a subscriber arrives.
type mockEvents struct {
	mu           sync.Mutex
	queued       [][]byte
	subscribeErr error
	topics       []string
	unsubscribed bool
}

func (m *mockEvents) Subscribe(ctx context.Context, ch chan []byte, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.topics = append(m.topics, topic)
	for _, msg := range m.queued {
		ch <- msg
	}
	return nil
}

func (m *mockEvents) Unsubscribe(ctx context.Context, ch chan []byte, topic string) {
	m.mu.Lock()
	m.unsubscribed = true
	m.mu.Unlock()
}

var errInternal = errors.New("boom")

func sampleStatus() pipeline.JobStatus {
	finished := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	return pipeline.JobStatus{
		ID:         "job-1",
		ProjectID:  "proj-1",
		Title:      "Demo",
		SceneCount: 1,
		Status:     store.JobStatusCompleted,
		Percent:    100,
		StageProgress: map[media.Stage]float64{
			media.StageImages: 100, media.StageAudio: 100, media.StageVideos: 100,
		},
		Progress: []media.GenerationProgress{
			{Stage: media.StageImages, Percent: 100, Message: "images: batch 1/1 complete (1/1 scenes)"},
		},
		Result: &media.PipelineResult{
			Success:            true,
			AllAssetsSucceeded: false,
			TotalCost:          0.04,
			Errors:             []media.AssetFailure{{SceneID: "s1", Stage: media.StageAudio, Message: "voice not found"}},
			Assets: media.StageAssets{
				Images: []media.GeneratedAsset{media.Completed("s1", media.StageImages, "https://cdn/s1.png", 0.04)},
				Audio:  []media.GeneratedAsset{media.Failed("s1", media.StageAudio, "voice not found")},
			},
		},
		StartedAt:  finished.Add(-5 * time.Minute),
		FinishedAt: &finished,
	}
}
