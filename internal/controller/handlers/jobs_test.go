package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scenepipe/internal/estimate"
	"scenepipe/internal/media"
	"scenepipe/internal/pipeline"
	"scenepipe/internal/store"
	"scenepipe/pkg/api"
)

func validProjectBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(api.ProjectRequest{
		ProjectID: "proj-1",
		Title:     "Demo",
		Scenes: []api.Scene{
			{
				ID:            "s1",
				Narration:     "Once upon a time",
				ImagePrompt:   "a castle",
				VideoPrompt:   "pan over the castle",
				AudioSettings: &api.AudioSettings{VoiceID: "narrator", Speed: 1.1},
				VideoSettings: &api.VideoSettings{Duration: 8, CameraMovement: "pan"},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestSubmitJob(t *testing.T) {
	tests := []struct {
		name           string
		body           []byte
		mockSetup      func(*mockOrchestrator)
		expectedStatus int
		expectedInBody string
	}{
		{
			name: "Success",
			mockSetup: func(m *mockOrchestrator) {
				m.submitResp = pipeline.Submission{
					JobID:      "job-1",
					SceneCount: 1,
					Estimate:   estimate.Estimate{TotalCost: 0.5, DurationMinutes: 2.25},
				}
			},
			expectedStatus: http.StatusAccepted,
			expectedInBody: `"estimated_duration_minutes":2.25`,
		},
		{
			name:           "Invalid JSON",
			body:           []byte(`{invalid-json}`),
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name: "Validation Error",
			mockSetup: func(m *mockOrchestrator) {
				m.submitErr = &media.ValidationError{Problems: []string{"at least one scene is required", "project id is required"}}
			},
			expectedStatus: http.StatusBadRequest,
			expectedInBody: `"details":["at least one scene is required","project id is required"]`,
		},
		{
			name: "Conflict",
			mockSetup: func(m *mockOrchestrator) {
				m.submitErr = &media.ConflictError{ProjectID: "proj-1", JobID: "job-running"}
			},
			expectedStatus: http.StatusConflict,
			expectedInBody: `"job_id":"job-running"`,
		},
		{
			name: "Shutting Down",
			mockSetup: func(m *mockOrchestrator) {
				m.submitErr = pipeline.ErrShuttingDown
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedInBody: "shutting down",
		},
		{
			name: "Internal Error",
			mockSetup: func(m *mockOrchestrator) {
				m.submitErr = errInternal
			},
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockOrchestrator{}
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}
			h := New(Deps{Orchestrator: mock})

			body := tt.body
			if body == nil {
				body = validProjectBody(t)
			}
			req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
			rr := httptest.NewRecorder()
			h.SubmitJob(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v", rr.Body.String(), tt.expectedInBody)
			}
		})
	}
}

func TestSubmitJob_ConvertsProject(t *testing.T) {
	mock := &mockOrchestrator{submitResp: pipeline.Submission{JobID: "job-1"}}
	h := New(Deps{Orchestrator: mock})

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(validProjectBody(t)))
	h.SubmitJob(httptest.NewRecorder(), req)

	p := mock.capturedProject
	if p.ID != "proj-1" || len(p.Scenes) != 1 {
		t.Fatalf("unexpected project %+v", p)
	}
	if !p.Optimizations.UseOptimizedDefaults || !p.Optimizations.EnableCaching {
		t.Errorf("missing optimizations should select defaults, got %+v", p.Optimizations)
	}
	s := p.Scenes[0]
	if s.Audio.VoiceID != "narrator" || s.Audio.Speed != 1.1 {
		t.Errorf("audio settings not converted: %+v", s.Audio)
	}
	if s.Video.Duration != 8 || s.Video.CameraMovement != "pan" {
		t.Errorf("video settings not converted: %+v", s.Video)
	}
}

func TestSubmitJob_ExplicitOptimizations(t *testing.T) {
	mock := &mockOrchestrator{}
	h := New(Deps{Orchestrator: mock})

	body := []byte(`{"projectId":"p","scenes":[],"optimizations":{"enableCaching":false,"batchSize":3,"maxRetries":1}}`)
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	h.SubmitJob(httptest.NewRecorder(), req)

	want := media.Optimizations{EnableCaching: false, BatchSize: 3, MaxRetries: 1}
	if got := mock.capturedProject.Optimizations; got != want {
		t.Errorf("optimizations = %+v, want %+v", got, want)
	}
}

func TestSubmitJob_CachingFlag(t *testing.T) {
	tests := []struct {
		name          string
		optimizations string
		want          media.Optimizations
	}{
		{
			name:          "Optimized Defaults Caching Off",
			optimizations: `{"useOptimizedDefaults":true,"enableCaching":false}`,
			want:          media.Optimizations{EnableCaching: false, UseOptimizedDefaults: true},
		},
		{
			name:          "Caching Omitted",
			optimizations: `{"useOptimizedDefaults":true}`,
			want:          media.Optimizations{EnableCaching: true, UseOptimizedDefaults: true},
		},
		{
			name:          "Manual Caching Omitted",
			optimizations: `{"batchSize":2,"maxRetries":0}`,
			want:          media.Optimizations{EnableCaching: true, BatchSize: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockOrchestrator{}
			h := New(Deps{Orchestrator: mock})

			body := []byte(`{"projectId":"p","scenes":[],"optimizations":` + tt.optimizations + `}`)
			req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
			h.SubmitJob(httptest.NewRecorder(), req)

			if got := mock.capturedProject.Optimizations; got != tt.want {
				t.Errorf("optimizations = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEstimateProject(t *testing.T) {
	mock := &mockOrchestrator{
		estimateResp: estimate.Estimate{
			TotalCost:       0.54,
			DurationMinutes: 2.25,
			Stages: map[media.Stage]estimate.StageEstimate{
				media.StageAudio: {Assets: 1, Batches: 1, Cost: 0.5, DurationMinutes: 0.25},
			},
		},
	}
	h := New(Deps{Orchestrator: mock})

	req := httptest.NewRequest(http.MethodPost, "/estimate", bytes.NewReader(validProjectBody(t)))
	rr := httptest.NewRecorder()
	h.EstimateProject(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var resp api.EstimateResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalCost != 0.54 || resp.SceneCount != 1 || resp.Stages["audio"].Cost != 0.5 {
		t.Errorf("unexpected estimate %+v", resp)
	}
	if mock.submitCalls != 0 {
		t.Error("estimate must not submit")
	}
}

func TestGetJob(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		h := New(Deps{Orchestrator: &mockOrchestrator{statusResp: sampleStatus()}})

		req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
		req.SetPathValue("id", "job-1")
		rr := httptest.NewRecorder()
		h.GetJob(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("got status %d, want 200", rr.Code)
		}
		var resp api.JobStatusResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "completed" || resp.Progress != 100 {
			t.Errorf("unexpected status %+v", resp)
		}
		if resp.StageProgress["videos"] != 100 || len(resp.RecentProgress) != 1 {
			t.Errorf("unexpected progress %+v", resp)
		}
		if resp.Result == nil || !resp.Result.Success || resp.Result.AllAssetsSucceeded {
			t.Fatalf("unexpected result %+v", resp.Result)
		}
		if len(resp.Result.Errors) != 1 || resp.Result.Errors[0].Message != "voice not found" {
			t.Errorf("unexpected errors %+v", resp.Result.Errors)
		}
		if got := resp.Result.GeneratedAssets.Images; len(got) != 1 || got[0].URL != "https://cdn/s1.png" {
			t.Errorf("unexpected images %+v", got)
		}
		if resp.Result.GeneratedAssets.Videos == nil {
			t.Error("empty stage should encode as [] not null")
		}
	})

	t.Run("Not Found", func(t *testing.T) {
		h := New(Deps{Orchestrator: &mockOrchestrator{statusErr: &media.NotFoundError{JobID: "nope"}}})

		req := httptest.NewRequest(http.MethodGet, "/jobs/nope", nil)
		req.SetPathValue("id", "nope")
		rr := httptest.NewRecorder()
		h.GetJob(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("got status %d, want 404", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Job not found") {
			t.Errorf("unexpected body %s", rr.Body.String())
		}
	})
}

func TestListJobs(t *testing.T) {
	now := time.Now()
	mock := &mockOrchestrator{listResp: []store.JobView{
		{ID: "job-2", ProjectID: "p2", Status: store.JobStatusRunning, StartedAt: now,
			StageProgress: map[media.Stage]float64{media.StageImages: 60, media.StageAudio: 30, media.StageVideos: 0}},
		{ID: "job-1", ProjectID: "p1", Status: store.JobStatusCompleted, StartedAt: now.Add(-time.Minute)},
	}}
	h := New(Deps{Orchestrator: mock})

	rr := httptest.NewRecorder()
	h.ListJobs(rr, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	var resp api.ListJobsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Jobs) != 2 || resp.Jobs[0].ID != "job-2" {
		t.Fatalf("unexpected jobs %+v", resp.Jobs)
	}
	if resp.Jobs[0].Progress != 30 {
		t.Errorf("running job progress = %v, want 30", resp.Jobs[0].Progress)
	}
	if resp.Jobs[1].Progress != 100 {
		t.Errorf("completed job progress = %v, want 100", resp.Jobs[1].Progress)
	}
}
