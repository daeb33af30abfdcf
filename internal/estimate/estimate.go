// Package estimate computes advisory cost and duration figures for a project.
package estimate

import (
	"math"
	"time"
	"unicode/utf8"

	"scenepipe/internal/media"
)

// Pricing is the per-unit list price of each stage, in dollars.
type Pricing struct {
	ImagePerAsset  float64 `mapstructure:"image_per_asset"`
	AudioPerChar   float64 `mapstructure:"audio_per_char"`
	VideoPerSecond float64 `mapstructure:"video_per_second"`
}

// DefaultPricing returns the built-in list prices.
func DefaultPricing() Pricing {
	return Pricing{
		ImagePerAsset:  0.040,
		AudioPerChar:   0.0005,
		VideoPerSecond: 0.05,
	}
}

// BatchDurations is the expected wall time of one batch per stage.
type BatchDurations struct {
	Images time.Duration `mapstructure:"images"`
	Audio  time.Duration `mapstructure:"audio"`
	Videos time.Duration `mapstructure:"videos"`
}

// DefaultBatchDurations returns the built-in per-batch durations.
func DefaultBatchDurations() BatchDurations {
	return BatchDurations{
		Images: 30 * time.Second,
		Audio:  15 * time.Second,
		Videos: 90 * time.Second,
	}
}

func (d BatchDurations) For(stage media.Stage) time.Duration {
	switch stage {
	case media.StageImages:
		return d.Images
	case media.StageAudio:
		return d.Audio
	case media.StageVideos:
		return d.Videos
	}
	return 0
}

// Plan carries the batch size each stage will run with.
// Missing or non-positive sizes count as 1.
type Plan struct {
	BatchSizes map[media.Stage]int
}

// StageEstimate is the breakdown for one stage.
type StageEstimate struct {
	Assets          int     `json:"assets"`
	Batches         int     `json:"batches"`
	Cost            float64 `json:"cost"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// Estimate is an advisory total. It is never enforced.
type Estimate struct {
	TotalCost       float64                       `json:"total_cost"`
	DurationMinutes float64                       `json:"duration_minutes"`
	Stages          map[media.Stage]StageEstimate `json:"stages"`
}

// Estimator prices projects and individual requests.
type Estimator struct {
	Pricing   Pricing
	Durations BatchDurations
}

// New returns an estimator with the default pricing and durations.
func New() Estimator {
	return Estimator{Pricing: DefaultPricing(), Durations: DefaultBatchDurations()}
}

// Estimate computes the cost and duration of running every stage of p.
func (e Estimator) Estimate(p media.Project, plan Plan) Estimate {
	out := Estimate{Stages: make(map[media.Stage]StageEstimate, len(media.Stages))}
	n := len(p.Scenes)

	var total time.Duration
	for _, stage := range media.Stages {
		se := StageEstimate{Assets: n}
		for _, scene := range p.Scenes {
			se.Cost += e.sceneCost(stage, scene)
		}
		if n > 0 {
			size := plan.BatchSizes[stage]
			if size <= 0 {
				size = 1
			}
			se.Batches = (n + size - 1) / size
		}
		d := time.Duration(se.Batches) * e.Durations.For(stage)
		total += d

		se.Cost = roundTo(se.Cost, 4)
		se.DurationMinutes = roundTo(d.Minutes(), 2)
		out.Stages[stage] = se
		out.TotalCost += se.Cost
	}

	out.TotalCost = roundTo(out.TotalCost, 4)
	out.DurationMinutes = roundTo(total.Minutes(), 2)
	return out
}

// Price returns the list price of a single request. It is used when a
// provider does not report what a call cost.
func (e Estimator) Price(req media.Request) float64 {
	switch p := req.Params.(type) {
	case media.ImageParams:
		return e.Pricing.ImagePerAsset
	case media.AudioParams:
		return float64(utf8.RuneCountInString(req.Prompt)) * e.Pricing.AudioPerChar
	case media.VideoParams:
		return p.Duration * e.Pricing.VideoPerSecond
	}
	return 0
}

func (e Estimator) sceneCost(stage media.Stage, s media.Scene) float64 {
	switch stage {
	case media.StageImages:
		return e.Pricing.ImagePerAsset
	case media.StageAudio:
		return float64(utf8.RuneCountInString(s.Narration)) * e.Pricing.AudioPerChar
	case media.StageVideos:
		d := s.Video.Duration
		if d <= 0 {
			d = media.DefaultVideoDuration
		}
		return d * e.Pricing.VideoPerSecond
	}
	return 0
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
