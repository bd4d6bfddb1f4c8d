// Package classify scales the global envelope to a channel baseline and
// grades a video's actual views against the scaled expectation.
package classify

import (
	"time"
)

// Category is the performance grade for a video at its current age.
type Category string

const (
	CategoryViral           Category = "viral"
	CategoryOutperforming   Category = "outperforming"
	CategoryOnTrack         Category = "on_track"
	CategoryUnderperforming Category = "underperforming"
	CategoryPoor            Category = "poor"
	// CategoryIndeterminate is returned when expected views are zero or
	// undefined.
	CategoryIndeterminate Category = "unknown"
)

// Thresholds are the ratio cut points, evaluated top down.
type Thresholds struct {
	Viral           float64 `yaml:"viral"`
	Outperforming   float64 `yaml:"outperforming"`
	OnTrack         float64 `yaml:"on_track"`
	Underperforming float64 `yaml:"underperforming"`
}

// DefaultThresholds returns the production cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Viral:           3.0,
		Outperforming:   1.5,
		OnTrack:         0.5,
		Underperforming: 0.2,
	}
}

// Result is one classification. Ephemeral: recomputed per request.
type Result struct {
	VideoID          string    `json:"video_id,omitempty"`
	ChannelID        string    `json:"channel_id,omitempty"`
	AgeDays          int       `json:"age_days"`
	ExpectedViews    float64   `json:"expected_views"`
	ActualViews      int64     `json:"actual_views"`
	PerformanceRatio float64   `json:"performance_ratio"`
	Category         Category  `json:"category"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Indeterminate reports whether the classification could not be computed.
func (r *Result) Indeterminate() bool {
	return r.Category == CategoryIndeterminate
}

// Classify grades actual against expected views. Pure: same inputs, same
// output; no state carries over between evaluations.
func Classify(actualViews int64, expectedViews float64, th Thresholds) (float64, Category) {
	if expectedViews <= 0 {
		return 0, CategoryIndeterminate
	}

	ratio := float64(actualViews) / expectedViews
	switch {
	case ratio > th.Viral:
		return ratio, CategoryViral
	case ratio >= th.Outperforming:
		return ratio, CategoryOutperforming
	case ratio >= th.OnTrack:
		return ratio, CategoryOnTrack
	case ratio >= th.Underperforming:
		return ratio, CategoryUnderperforming
	default:
		return ratio, CategoryPoor
	}
}
