// Package media contains the domain model of a scene-to-media generation job.
package media

import (
	"fmt"
	"strings"
)

// Default scene settings applied by Normalize.
const (
	DefaultSpeed           = 1.0
	DefaultVideoDuration   = 5.0
	DefaultMotionIntensity = "medium"
	DefaultCameraMovement  = "static"
)

// Project is a titled, ordered set of scenes submitted for generation.
// It must not be mutated once a job has been started for it.
type Project struct {
	ID             string
	Title          string
	Scenes         []Scene
	OutputLocation string
	Optimizations  Optimizations
}

// Optimizations tunes how a job trades cost against speed.
type Optimizations struct {
	EnableCaching        bool
	BatchSize            int
	MaxRetries           int
	UseOptimizedDefaults bool
}

// OptimizedDefaults is what a submission without an optimizations block gets.
func OptimizedDefaults() Optimizations {
	return Optimizations{EnableCaching: true, UseOptimizedDefaults: true}
}

// Scene is one unit of content needing an image, a narration track and a clip.
type Scene struct {
	ID          string
	Narration   string
	ImagePrompt string
	VideoPrompt string
	Audio       AudioSettings
	Video       VideoSettings
}

// AudioSettings configures narration synthesis.
type AudioSettings struct {
	VoiceID string
	Emotion string // optional
	Speed   float64
}

// VideoSettings configures clip generation. Duration is in seconds.
type VideoSettings struct {
	Duration        float64
	CameraMovement  string
	MotionIntensity string
}

// SceneIDs returns the scene ids in project order.
func (p *Project) SceneIDs() []string {
	ids := make([]string, len(p.Scenes))
	for i, s := range p.Scenes {
		ids[i] = s.ID
	}
	return ids
}

// Clone returns a deep copy so the running job never shares scene slices with the caller.
func (p Project) Clone() Project {
	scenes := make([]Scene, len(p.Scenes))
	copy(scenes, p.Scenes)
	p.Scenes = scenes
	return p
}

// Normalize fills optional scene settings with their defaults.
func (p *Project) Normalize() {
	for i := range p.Scenes {
		s := &p.Scenes[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.Audio.Speed <= 0 {
			s.Audio.Speed = DefaultSpeed
		}
		if s.Video.Duration <= 0 {
			s.Video.Duration = DefaultVideoDuration
		}
		if s.Video.MotionIntensity == "" {
			s.Video.MotionIntensity = DefaultMotionIntensity
		}
		if s.Video.CameraMovement == "" {
			s.Video.CameraMovement = DefaultCameraMovement
		}
	}
}

// Validate reports every problem with the submission at once.
// It returns nil or a *ValidationError.
func (p *Project) Validate() error {
	var problems []string

	if strings.TrimSpace(p.ID) == "" {
		problems = append(problems, "project id is required")
	}
	if len(p.Scenes) == 0 {
		problems = append(problems, "at least one scene is required")
	}

	seen := make(map[string]int, len(p.Scenes))
	for i, s := range p.Scenes {
		label := fmt.Sprintf("scene[%d]", i)
		if strings.TrimSpace(s.ID) == "" {
			problems = append(problems, label+": id is required")
		} else {
			label = fmt.Sprintf("scene %q", s.ID)
			if first, dup := seen[s.ID]; dup {
				problems = append(problems, fmt.Sprintf("%s: duplicate id (first used by scene[%d])", label, first))
			} else {
				seen[s.ID] = i
			}
		}
		if strings.TrimSpace(s.Narration) == "" {
			problems = append(problems, label+": narration is required")
		}
		if strings.TrimSpace(s.ImagePrompt) == "" {
			problems = append(problems, label+": imagePrompt is required")
		}
		if strings.TrimSpace(s.VideoPrompt) == "" {
			problems = append(problems, label+": videoPrompt is required")
		}
	}

	if !p.Optimizations.UseOptimizedDefaults {
		if p.Optimizations.BatchSize < 1 {
			problems = append(problems, "optimizations.batchSize must be at least 1")
		}
		if p.Optimizations.MaxRetries < 0 {
			problems = append(problems, "optimizations.maxRetries must not be negative")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
