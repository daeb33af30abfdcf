package media

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is one generation pass across all scenes of a job.
type Stage string

const (
	StageImages Stage = "images"
	StageAudio  Stage = "audio"
	StageVideos Stage = "videos"
)

// Stages lists every stage in reporting order.
var Stages = []Stage{StageImages, StageAudio, StageVideos}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageImages, StageAudio, StageVideos:
		return true
	}
	return false
}

// Request is the normalized input handed to a provider for one (scene, stage) pair.
type Request struct {
	JobID   string
	SceneID string
	Stage   Stage
	Model   string
	Prompt  string
	Params  Params
}

// Params is the stage-specific part of a Request.
// The set of implementations is closed: ImageParams, AudioParams, VideoParams.
type Params interface {
	Stage() Stage
	// Canonical renders the params deterministically for cache keys.
	Canonical() string
}

// ImageParams are the image-generation knobs.
type ImageParams struct {
	Size  string
	Style string
}

func (ImageParams) Stage() Stage { return StageImages }

func (p ImageParams) Canonical() string {
	return "size=" + canon(p.Size) + ";style=" + canon(p.Style)
}

// AudioParams are the narration knobs.
type AudioParams struct {
	VoiceID string
	Emotion string
	Speed   float64
}

func (AudioParams) Stage() Stage { return StageAudio }

func (p AudioParams) Canonical() string {
	return "voice=" + canon(p.VoiceID) + ";emotion=" + canon(p.Emotion) + ";speed=" + num(p.Speed)
}

// VideoParams are the clip knobs. Duration is in seconds.
type VideoParams struct {
	Duration        float64
	CameraMovement  string
	MotionIntensity string
}

func (VideoParams) Stage() Stage { return StageVideos }

func (p VideoParams) Canonical() string {
	return "duration=" + num(p.Duration) + ";camera=" + canon(p.CameraMovement) + ";motion=" + canon(p.MotionIntensity)
}

func canon(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// ImageDefaults are the image params applied to every scene of a job.
type ImageDefaults struct {
	Size  string
	Style string
}

// BuildRequest derives the request for one scene and stage.
func BuildRequest(jobID string, scene Scene, stage Stage, model string, img ImageDefaults) (Request, error) {
	req := Request{JobID: jobID, SceneID: scene.ID, Stage: stage, Model: model}
	switch stage {
	case StageImages:
		req.Prompt = scene.ImagePrompt
		req.Params = ImageParams{Size: img.Size, Style: img.Style}
	case StageAudio:
		req.Prompt = scene.Narration
		req.Params = AudioParams{VoiceID: scene.Audio.VoiceID, Emotion: scene.Audio.Emotion, Speed: scene.Audio.Speed}
	case StageVideos:
		req.Prompt = scene.VideoPrompt
		req.Params = VideoParams{
			Duration:        scene.Video.Duration,
			CameraMovement:  scene.Video.CameraMovement,
			MotionIntensity: scene.Video.MotionIntensity,
		}
	default:
		return Request{}, fmt.Errorf("unknown stage %q", stage)
	}
	return req, nil
}
