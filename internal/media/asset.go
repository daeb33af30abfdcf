package media

import (
	"sync"
	"time"
)

// AssetStatus is the terminal state of one (scene, stage) generation.
type AssetStatus string

const (
	AssetCompleted AssetStatus = "completed"
	AssetError     AssetStatus = "error"
)

// GeneratedAsset is the outcome for one (scene, stage) pair.
// URL is set iff Status is completed, ErrorMessage iff Status is error.
type GeneratedAsset struct {
	SceneID      string      `json:"scene_id"`
	Stage        Stage       `json:"stage"`
	Status       AssetStatus `json:"status"`
	URL          string      `json:"url,omitempty"`
	Cost         float64     `json:"cost"`
	ErrorMessage string      `json:"error,omitempty"`
	Cached       bool        `json:"cached,omitempty"`
	Attempts     int         `json:"attempts"`
	StoredKey    string      `json:"stored_key,omitempty"`
}

// Completed builds a successful asset.
func Completed(sceneID string, stage Stage, url string, cost float64) GeneratedAsset {
	return GeneratedAsset{SceneID: sceneID, Stage: stage, Status: AssetCompleted, URL: url, Cost: cost}
}

// Failed builds an error asset. Error assets always carry a message.
func Failed(sceneID string, stage Stage, msg string) GeneratedAsset {
	if msg == "" {
		msg = "generation failed"
	}
	return GeneratedAsset{SceneID: sceneID, Stage: stage, Status: AssetError, ErrorMessage: msg}
}

// GenerationProgress is one append-only progress record.
type GenerationProgress struct {
	Stage     Stage     `json:"stage"`
	SceneID   string    `json:"scene_id,omitempty"`
	Percent   float64   `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// CachingStats summarises cache effectiveness for one job.
type CachingStats struct {
	Hits      int     `json:"hits"`
	Misses    int     `json:"misses"`
	SavedCost float64 `json:"saved_cost"`
}

// CacheCounters accumulates CachingStats from concurrent stage executions.
type CacheCounters struct {
	mu    sync.Mutex
	stats CachingStats
}

// Hit records a reuse that avoided spending saved.
func (c *CacheCounters) Hit(saved float64) {
	c.mu.Lock()
	c.stats.Hits++
	c.stats.SavedCost += saved
	c.mu.Unlock()
}

// Miss records a lookup that had to go to the provider.
func (c *CacheCounters) Miss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

// Snapshot returns the current totals.
func (c *CacheCounters) Snapshot() CachingStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// AssetFailure enumerates one failed asset in a result.
type AssetFailure struct {
	SceneID string `json:"scene_id"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// StageAssets groups a job's assets by stage.
type StageAssets struct {
	Images []GeneratedAsset `json:"images"`
	Audio  []GeneratedAsset `json:"audio"`
	Videos []GeneratedAsset `json:"videos"`
}

// For returns the assets of one stage.
func (a StageAssets) For(stage Stage) []GeneratedAsset {
	switch stage {
	case StageImages:
		return a.Images
	case StageAudio:
		return a.Audio
	case StageVideos:
		return a.Videos
	}
	return nil
}

// Set replaces the assets of one stage.
func (a *StageAssets) Set(stage Stage, assets []GeneratedAsset) {
	switch stage {
	case StageImages:
		a.Images = assets
	case StageAudio:
		a.Audio = assets
	case StageVideos:
		a.Videos = assets
	}
}

// PipelineResult is produced once when a job finishes.
//
// Success is true unless a systemic error occurred; individual scene failures
// do not flip it. AllAssetsSucceeded reports whether every asset completed.
type PipelineResult struct {
	Success            bool           `json:"success"`
	AllAssetsSucceeded bool           `json:"all_assets_succeeded"`
	TotalCost          float64        `json:"total_cost"`
	Errors             []AssetFailure `json:"errors"`
	CachingStats       CachingStats   `json:"caching_stats"`
	Assets             StageAssets    `json:"generated_assets"`
}

// NewResult folds the per-stage assets into a result.
func NewResult(assets StageAssets, stats CachingStats, systemicErr error) *PipelineResult {
	res := &PipelineResult{
		Success:      systemicErr == nil,
		CachingStats: stats,
		Assets:       assets,
		Errors:       []AssetFailure{},
	}
	all := true
	for _, stage := range Stages {
		for _, a := range assets.For(stage) {
			res.TotalCost += a.Cost
			if a.Status != AssetCompleted {
				all = false
				res.Errors = append(res.Errors, AssetFailure{SceneID: a.SceneID, Stage: a.Stage, Message: a.ErrorMessage})
			}
		}
	}
	res.AllAssetsSucceeded = all && systemicErr == nil
	return res
}
