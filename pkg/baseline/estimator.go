// Package baseline computes a channel's early-life view-count scalar, used
// to rescale the global envelope to that channel's expectation.
package baseline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"viewcurve/internal/store"
	"viewcurve/pkg/snapshot"
)

// Statistic names a central-tendency choice for the baseline.
type Statistic string

const (
	StatTrimmedMean Statistic = "trimmed_mean"
	StatMedian      Statistic = "median"
	StatP25         Statistic = "p25"
)

// Config holds the estimator's tunables.
type Config struct {
	// Statistic is the preferred central tendency. The trimmed mean is the
	// most robust against viral outliers on small channels; a straight
	// median is unstable there and p25 systematically under-estimates.
	Statistic Statistic
	// TrimFraction is the share trimmed from each tail for StatTrimmedMean.
	TrimFraction float64
	// EarlyWindowDays restricts snapshots to a video's first days of life.
	EarlyWindowDays int
	// MinVideos is the smallest qualifying sample for the preferred
	// statistic; below it the estimator falls back to a plain median.
	MinVideos int
}

// DefaultConfig returns the production estimator settings.
func DefaultConfig() Config {
	return Config{
		Statistic:       StatTrimmedMean,
		TrimFraction:    0.1,
		EarlyWindowDays: 7,
		MinVideos:       10,
	}
}

// Estimator derives channel baselines from early-window snapshots.
type Estimator struct {
	adapter *snapshot.Adapter
	cfg     Config
}

// NewEstimator creates an estimator reading through the given adapter.
func NewEstimator(adapter *snapshot.Adapter, cfg Config) *Estimator {
	if cfg.Statistic == "" {
		cfg.Statistic = StatTrimmedMean
	}
	if cfg.TrimFraction <= 0 || cfg.TrimFraction >= 0.5 {
		cfg.TrimFraction = 0.1
	}
	if cfg.EarlyWindowDays <= 0 {
		cfg.EarlyWindowDays = 7
	}
	if cfg.MinVideos <= 0 {
		cfg.MinVideos = 10
	}
	return &Estimator{adapter: adapter, cfg: cfg}
}

// ComputeChannel derives the channel's baseline. A channel with no
// qualifying early-window data gets the neutral baseline (scale factor 1.0
// against the global curve) rather than an error.
func (e *Estimator) ComputeChannel(ctx context.Context, channelID string) (*store.ChannelBaseline, error) {
	snaps, err := e.adapter.Fetch(ctx, snapshot.Range{
		MaxDay:    e.cfg.EarlyWindowDays,
		ChannelID: channelID,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch early snapshots %s: %w", channelID, err)
	}

	// One value per video: the latest cumulative count inside the window.
	type obs struct {
		views int64
		at    time.Time
	}
	latest := make(map[string]obs)
	for i := range snaps {
		s := &snaps[i]
		if cur, ok := latest[s.VideoID]; !ok || s.CapturedAt.After(cur.at) {
			latest[s.VideoID] = obs{views: s.ViewCount, at: s.CapturedAt}
		}
	}

	b := &store.ChannelBaseline{
		ChannelID:  channelID,
		ComputedAt: time.Now().UTC(),
	}

	if len(latest) == 0 {
		b.Statistic = store.StatisticNeutral
		return b, nil
	}

	values := make([]float64, 0, len(latest))
	for videoID, o := range latest {
		values = append(values, float64(o.views))
		b.SampleVideoIDs = append(b.SampleVideoIDs, videoID)
	}
	sort.Strings(b.SampleVideoIDs)

	value, used := Compute(values, e.cfg.Statistic, e.cfg.TrimFraction, e.cfg.MinVideos)
	b.BaselineValue = value
	b.Statistic = string(used)
	return b, nil
}

// Compute applies the statistic to values, falling back to a plain median
// when the sample is too small for the preferred statistic to be
// meaningful. values may be unsorted; it is not mutated.
func Compute(values []float64, stat Statistic, trimFraction float64, minVideos int) (float64, Statistic) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) < minVideos {
		return Median(sorted), StatMedian
	}

	switch stat {
	case StatMedian:
		return Median(sorted), StatMedian
	case StatP25:
		return sortedPercentile(sorted, 25), StatP25
	default:
		return TrimmedMean(sorted, trimFraction), StatTrimmedMean
	}
}

// Median returns the median of a sorted slice.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// TrimmedMean discards fraction of the sorted slice from each tail and
// averages the rest.
func TrimmedMean(sorted []float64, fraction float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	trim := int(math.Floor(float64(n) * fraction))
	kept := sorted[trim : n-trim]
	if len(kept) == 0 {
		return Median(sorted)
	}
	sum := 0.0
	for _, v := range kept {
		sum += v
	}
	return sum / float64(len(kept))
}

func sortedPercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
