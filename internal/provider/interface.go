// Package provider defines the contract every generation backend implements,
// plus the adapters scenepipe ships with.
package provider

import (
	"context"

	"scenepipe/internal/media"
)

// Generator produces one asset for one (scene, stage) request.
// Implementations return *Error for failures they can classify.
type Generator interface {
	Generate(ctx context.Context, req media.Request) (Result, error)
}

// Result is what a provider hands back for a successful request.
type Result struct {
	URL         string
	ContentType string
	// Cost is the provider-reported spend. Zero means "not reported" and the
	// caller falls back to list pricing.
	Cost float64
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req media.Request) (Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, req media.Request) (Result, error) {
	return f(ctx, req)
}

// ParamsMap flattens the stage params of a request for wire encodings.
func ParamsMap(p media.Params) map[string]any {
	switch v := p.(type) {
	case media.ImageParams:
		return map[string]any{"size": v.Size, "style": v.Style}
	case media.AudioParams:
		return map[string]any{"voice_id": v.VoiceID, "emotion": v.Emotion, "speed": v.Speed}
	case media.VideoParams:
		return map[string]any{
			"duration":         v.Duration,
			"camera_movement":  v.CameraMovement,
			"motion_intensity": v.MotionIntensity,
		}
	}
	return map[string]any{}
}
