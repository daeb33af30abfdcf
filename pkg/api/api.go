// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// ProjectRequest is the request body of POST /jobs and POST /estimate.
type ProjectRequest struct {
	ProjectID      string         `json:"projectId"`
	Title          string         `json:"title"`
	Scenes         []Scene        `json:"scenes"`
	OutputLocation string         `json:"outputLocation,omitempty"`
	// Omitted optimizations mean useOptimizedDefaults.
	Optimizations *Optimizations `json:"optimizations,omitempty"`
}

// Scene is one scene of a project.
type Scene struct {
	ID            string         `json:"id"`
	Narration     string         `json:"narration"`
	ImagePrompt   string         `json:"imagePrompt"`
	VideoPrompt   string         `json:"videoPrompt"`
	AudioSettings *AudioSettings `json:"audioSettings,omitempty"`
	VideoSettings *VideoSettings `json:"videoSettings,omitempty"`
}

type AudioSettings struct {
	VoiceID string  `json:"voiceId"`
	Emotion string  `json:"emotion,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
}

// VideoSettings.Duration is in seconds.
type VideoSettings struct {
	Duration        float64 `json:"duration,omitempty"`
	CameraMovement  string  `json:"cameraMovement,omitempty"`
	MotionIntensity string  `json:"motionIntensity,omitempty"`
}

// Optimizations.EnableCaching defaults to true when omitted.
type Optimizations struct {
	EnableCaching        *bool `json:"enableCaching,omitempty"`
	BatchSize            int   `json:"batchSize"`
	MaxRetries           int   `json:"maxRetries"`
	UseOptimizedDefaults bool  `json:"useOptimizedDefaults"`
}

// SubmitJobResponse is the response body after submitting a project.
type SubmitJobResponse struct {
	JobID                    string  `json:"job_id"`
	EstimatedDurationMinutes float64 `json:"estimated_duration_minutes"`
	EstimatedCost            float64 `json:"estimated_cost"`
	SceneCount               int     `json:"scene_count"`
}

// StageEstimate is the estimate of one stage.
type StageEstimate struct {
	Assets          int     `json:"assets"`
	Batches         int     `json:"batches"`
	Cost            float64 `json:"cost"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// EstimateResponse is the response body of POST /estimate.
type EstimateResponse struct {
	TotalCost       float64                  `json:"total_cost"`
	DurationMinutes float64                  `json:"duration_minutes"`
	SceneCount      int                      `json:"scene_count"`
	Stages          map[string]StageEstimate `json:"stages"`
}

// Progress is one progress event of a job.
type Progress struct {
	Stage     string    `json:"stage"`
	SceneID   string    `json:"scene_id,omitempty"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Asset is one generated asset.
type Asset struct {
	SceneID   string  `json:"scene_id"`
	Stage     string  `json:"stage"`
	Status    string  `json:"status"`
	URL       string  `json:"url,omitempty"`
	Cost      float64 `json:"cost"`
	Error     string  `json:"error,omitempty"`
	Cached    bool    `json:"cached,omitempty"`
	Attempts  int     `json:"attempts"`
	StoredKey string  `json:"stored_key,omitempty"`
}

type AssetError struct {
	SceneID string `json:"scene_id"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type CachingStats struct {
	Hits      int     `json:"hits"`
	Misses    int     `json:"misses"`
	SavedCost float64 `json:"saved_cost"`
}

type GeneratedAssets struct {
	Images []Asset `json:"images"`
	Audio  []Asset `json:"audio"`
	Videos []Asset `json:"videos"`
}

// PipelineResult is the final outcome of a job.
type PipelineResult struct {
	Success            bool            `json:"success"`
	AllAssetsSucceeded bool            `json:"all_assets_succeeded"`
	TotalCost          float64         `json:"total_cost"`
	Errors             []AssetError    `json:"errors"`
	CachingStats       CachingStats    `json:"caching_stats"`
	GeneratedAssets    GeneratedAssets `json:"generated_assets"`
}

// JobStatusResponse is the response body of GET /jobs/{id}.
type JobStatusResponse struct {
	ID             string             `json:"job_id"`
	ProjectID      string             `json:"project_id"`
	Title          string             `json:"title"`
	SceneCount     int                `json:"scene_count"`
	Status         string             `json:"status"`
	Progress       float64            `json:"progress"`
	StageProgress  map[string]float64 `json:"stage_progress"`
	RecentProgress []Progress         `json:"recent_progress"`
	Estimate       EstimateResponse   `json:"estimate"`
	Result         *PipelineResult    `json:"result,omitempty"`
	Error          string             `json:"error,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

// JobSummary is one entry of GET /jobs.
type JobSummary struct {
	ID          string     `json:"job_id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	SceneCount  int        `json:"scene_count"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type ListJobsResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// CacheStatsResponse is the response body of GET /cache/stats.
type CacheStatsResponse struct {
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Similar   int64   `json:"similar_hits"`
	Evictions int64   `json:"evictions"`
	SavedCost float64 `json:"saved_cost"`
}

// Event is one server-sent event of GET /jobs/{id}/events.
type Event struct {
	Event     string    `json:"event"`
	JobID     string    `json:"job_id"`
	ProjectID string    `json:"project_id"`
	Stage     string    `json:"stage,omitempty"`
	SceneID   string    `json:"scene_id,omitempty"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// Details lists every validation problem.
	Details []string `json:"details,omitempty"`
	// JobID is the running job a conflict refers to.
	JobID string `json:"job_id,omitempty"`
}
