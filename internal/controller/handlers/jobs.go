package handlers

import (
	"encoding/json"
	"net/http"

	"scenepipe/internal/estimate"
	"scenepipe/internal/media"
	"scenepipe/internal/pipeline"
	"scenepipe/pkg/api"
)

// maxProjectBody bounds the size of a submitted project.
const maxProjectBody = 4 << 20

// SubmitJob handles POST /jobs.
// It validates the project and starts generation in the background.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeProject(w, r)
	if !ok {
		return
	}

	sub, err := h.orch.Submit(r.Context(), p)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.SubmitJobResponse{
		JobID:                    sub.JobID,
		EstimatedDurationMinutes: sub.Estimate.DurationMinutes,
		EstimatedCost:            sub.Estimate.TotalCost,
		SceneCount:               sub.SceneCount,
	})
}

// EstimateProject handles POST /estimate.
func (h *Handlers) EstimateProject(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeProject(w, r)
	if !ok {
		return
	}

	est, err := h.orch.Estimate(p)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	resp := toEstimateResponse(est)
	resp.SceneCount = len(p.Scenes)
	h.respondJson(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	st, err := h.orch.Status(r.PathValue("id"))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toStatusResponse(st))
}

// ListJobs handles GET /jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	views := h.orch.List()
	resp := api.ListJobsResponse{Jobs: make([]api.JobSummary, 0, len(views))}
	for _, v := range views {
		resp.Jobs = append(resp.Jobs, api.JobSummary{
			ID:          v.ID,
			ProjectID:   v.ProjectID,
			Title:       v.Title,
			SceneCount:  v.SceneCount,
			Status:      string(v.Status),
			Progress:    v.Percent(),
			StartedAt:   v.StartedAt,
			CompletedAt: v.FinishedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

func (h *Handlers) decodeProject(w http.ResponseWriter, r *http.Request) (media.Project, bool) {
	var req api.ProjectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProjectBody)).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return media.Project{}, false
	}
	return toProject(req), true
}

// toProject converts a request body into the domain model. A missing
// optimizations block selects the optimized defaults.
func toProject(req api.ProjectRequest) media.Project {
	p := media.Project{
		ID:             req.ProjectID,
		Title:          req.Title,
		OutputLocation: req.OutputLocation,
		Optimizations:  media.OptimizedDefaults(),
		Scenes:         make([]media.Scene, 0, len(req.Scenes)),
	}
	if o := req.Optimizations; o != nil {
		p.Optimizations = media.Optimizations{
			EnableCaching:        o.EnableCaching == nil || *o.EnableCaching,
			BatchSize:            o.BatchSize,
			MaxRetries:           o.MaxRetries,
			UseOptimizedDefaults: o.UseOptimizedDefaults,
		}
	}
	for _, s := range req.Scenes {
		scene := media.Scene{
			ID:          s.ID,
			Narration:   s.Narration,
			ImagePrompt: s.ImagePrompt,
			VideoPrompt: s.VideoPrompt,
		}
		if a := s.AudioSettings; a != nil {
			scene.Audio = media.AudioSettings{VoiceID: a.VoiceID, Emotion: a.Emotion, Speed: a.Speed}
		}
		if v := s.VideoSettings; v != nil {
			scene.Video = media.VideoSettings{Duration: v.Duration, CameraMovement: v.CameraMovement, MotionIntensity: v.MotionIntensity}
		}
		p.Scenes = append(p.Scenes, scene)
	}
	return p
}

func toEstimateResponse(est estimate.Estimate) api.EstimateResponse {
	resp := api.EstimateResponse{
		TotalCost:       est.TotalCost,
		DurationMinutes: est.DurationMinutes,
		Stages:          make(map[string]api.StageEstimate, len(est.Stages)),
	}
	for stage, se := range est.Stages {
		resp.Stages[string(stage)] = api.StageEstimate{
			Assets:          se.Assets,
			Batches:         se.Batches,
			Cost:            se.Cost,
			DurationMinutes: se.DurationMinutes,
		}
	}
	return resp
}

func toStatusResponse(st pipeline.JobStatus) api.JobStatusResponse {
	resp := api.JobStatusResponse{
		ID:             st.ID,
		ProjectID:      st.ProjectID,
		Title:          st.Title,
		SceneCount:     st.SceneCount,
		Status:         string(st.Status),
		Progress:       st.Percent,
		StageProgress:  make(map[string]float64, len(media.Stages)),
		RecentProgress: make([]api.Progress, 0, len(st.Progress)),
		Estimate:       toEstimateResponse(st.Estimate),
		Error:          st.Error,
		StartedAt:      st.StartedAt,
		CompletedAt:    st.FinishedAt,
	}
	resp.Estimate.SceneCount = st.SceneCount
	for _, stage := range media.Stages {
		resp.StageProgress[string(stage)] = st.StageProgress[stage]
	}
	for _, p := range st.Progress {
		resp.RecentProgress = append(resp.RecentProgress, api.Progress{
			Stage:     string(p.Stage),
			SceneID:   p.SceneID,
			Percent:   p.Percent,
			Message:   p.Message,
			Timestamp: p.Timestamp,
		})
	}
	if res := st.Result; res != nil {
		out := &api.PipelineResult{
			Success:            res.Success,
			AllAssetsSucceeded: res.AllAssetsSucceeded,
			TotalCost:          res.TotalCost,
			Errors:             make([]api.AssetError, 0, len(res.Errors)),
			CachingStats: api.CachingStats{
				Hits:      res.CachingStats.Hits,
				Misses:    res.CachingStats.Misses,
				SavedCost: res.CachingStats.SavedCost,
			},
			GeneratedAssets: api.GeneratedAssets{
				Images: toAssets(res.Assets.Images),
				Audio:  toAssets(res.Assets.Audio),
				Videos: toAssets(res.Assets.Videos),
			},
		}
		for _, e := range res.Errors {
			out.Errors = append(out.Errors, api.AssetError{SceneID: e.SceneID, Stage: string(e.Stage), Message: e.Message})
		}
		resp.Result = out
	}
	return resp
}

func toAssets(in []media.GeneratedAsset) []api.Asset {
	out := make([]api.Asset, 0, len(in))
	for _, a := range in {
		out = append(out, api.Asset{
			SceneID:   a.SceneID,
			Stage:     string(a.Stage),
			Status:    string(a.Status),
			URL:       a.URL,
			Cost:      a.Cost,
			Error:     a.ErrorMessage,
			Cached:    a.Cached,
			Attempts:  a.Attempts,
			StoredKey: a.StoredKey,
		})
	}
	return out
}
