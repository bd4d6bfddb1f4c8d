package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"viewcurve/internal/store"
)

// ErrNoEnvelope indicates no completed envelope run exists to classify
// against.
var ErrNoEnvelope = errors.New("no envelope available")

// Service resolves videos and channels against the latest completed
// envelope run. Readers tolerate eventual consistency: a curve mid-update is
// never observed because only completed runs resolve.
type Service struct {
	store        store.Store
	thresholds   Thresholds
	referenceDay int
}

// NewService creates a classification service. referenceDay anchors the
// scale factor (global p50 at that day).
func NewService(s store.Store, thresholds Thresholds, referenceDay int) *Service {
	if referenceDay < 0 {
		referenceDay = 1
	}
	return &Service{
		store:        s,
		thresholds:   thresholds,
		referenceDay: referenceDay,
	}
}

// ClassifyVideo grades a stored video at its latest snapshot.
func (s *Service) ClassifyVideo(ctx context.Context, videoID string) (*Result, error) {
	video, err := s.store.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.LatestSnapshot(ctx, videoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// No observation yet: explicit indeterminate, not an error.
			return &Result{
				VideoID:    videoID,
				ChannelID:  video.ChannelID,
				Category:   CategoryIndeterminate,
				ComputedAt: time.Now().UTC(),
			}, nil
		}
		return nil, err
	}

	res, err := s.ClassifyChannel(ctx, video.ChannelID, snap.ViewCount, snap.DaysSincePublished)
	if err != nil {
		return nil, err
	}
	res.VideoID = videoID
	return res, nil
}

// ClassifyChannel grades actualViews at ageDays against the channel-scaled
// expected p50 curve.
func (s *Service) ClassifyChannel(ctx context.Context, channelID string, actualViews int64, ageDays int) (*Result, error) {
	run, err := s.store.LatestEnvelopeRun(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoCompletedRun) {
			return nil, ErrNoEnvelope
		}
		return nil, err
	}

	globalRef, err := s.globalP50(ctx, run, s.referenceDay)
	if err != nil {
		return nil, err
	}

	baseline, err := s.store.GetBaseline(ctx, channelID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		// Missing baseline degrades to the global expectation.
		baseline = &store.ChannelBaseline{ChannelID: channelID, Statistic: store.StatisticNeutral}
	}
	factor := ScaleFactor(baseline, globalRef)

	globalAtAge, err := s.globalP50(ctx, run, ageDays)
	if err != nil {
		return nil, err
	}
	expected := globalAtAge * factor

	ratio, category := Classify(actualViews, expected, s.thresholds)
	return &Result{
		ChannelID:        channelID,
		AgeDays:          ageDays,
		ExpectedViews:    expected,
		ActualViews:      actualViews,
		PerformanceRatio: ratio,
		Category:         category,
		ComputedAt:       time.Now().UTC(),
	}, nil
}

// ScaledEnvelope returns the latest completed curve over [fromDay, toDay],
// rescaled to the channel's baseline, along with the scale factor applied.
// A channel without a baseline gets the global curve unchanged.
func (s *Service) ScaledEnvelope(ctx context.Context, channelID string, fromDay, toDay int) ([]ScaledRow, float64, error) {
	run, err := s.store.LatestEnvelopeRun(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoCompletedRun) {
			return nil, 0, ErrNoEnvelope
		}
		return nil, 0, err
	}

	globalRef, err := s.globalP50(ctx, run, s.referenceDay)
	if err != nil {
		return nil, 0, err
	}

	baseline, err := s.store.GetBaseline(ctx, channelID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, 0, err
		}
		baseline = &store.ChannelBaseline{ChannelID: channelID, Statistic: store.StatisticNeutral}
	}
	factor := ScaleFactor(baseline, globalRef)

	if fromDay < 0 {
		fromDay = 0
	}
	if toDay <= 0 || toDay > run.HorizonDays {
		toDay = run.HorizonDays
	}
	rows, err := s.store.GetEnvelopeRows(ctx, run.ID, fromDay, toDay)
	if err != nil {
		return nil, 0, err
	}
	return ScaleCurve(rows, factor), factor, nil
}

// globalP50 reads the stored median at day, extrapolating flat past the
// stored horizon (extrapolated confidence is already low out there; a flat
// read keeps the ratio conservative).
func (s *Service) globalP50(ctx context.Context, run *store.EnvelopeRun, day int) (float64, error) {
	if day < 0 {
		day = 0
	}
	if day > run.HorizonDays {
		day = run.HorizonDays
	}
	row, err := s.store.GetEnvelopeRow(ctx, run.ID, day)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("envelope run %d day %d: %w", run.ID, day, ErrNoEnvelope)
		}
		return 0, err
	}
	return float64(row.P50), nil
}
