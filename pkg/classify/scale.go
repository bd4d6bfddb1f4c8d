package classify

import (
	"viewcurve/internal/store"
)

// ScaledRow is one day of a channel-scaled curve. Values stay float64; only
// the stored global envelope is integer-rounded.
type ScaledRow struct {
	Day int     `json:"day_since_published"`
	P10 float64 `json:"p10_views"`
	P25 float64 `json:"p25_views"`
	P50 float64 `json:"p50_views"`
	P75 float64 `json:"p75_views"`
	P90 float64 `json:"p90_views"`
	P95 float64 `json:"p95_views"`
}

// ScaleFactor derives the channel multiplier from its baseline and the
// global curve value at the reference day. Neutral baselines and degenerate
// global values both come out at exactly 1.0 so classification degrades to
// the global expectation.
func ScaleFactor(b *store.ChannelBaseline, globalAtReference float64) float64 {
	if b.Neutral() || globalAtReference <= 0 || b.BaselineValue <= 0 {
		return 1.0
	}
	return b.BaselineValue / globalAtReference
}

// ScaleCurve multiplies every percentile at every day by factor. Pure: the
// input rows are never mutated and the output is a fresh slice.
func ScaleCurve(rows []store.EnvelopeRow, factor float64) []ScaledRow {
	scaled := make([]ScaledRow, len(rows))
	for i := range rows {
		r := &rows[i]
		scaled[i] = ScaledRow{
			Day: r.Day,
			P10: float64(r.P10) * factor,
			P25: float64(r.P25) * factor,
			P50: float64(r.P50) * factor,
			P75: float64(r.P75) * factor,
			P90: float64(r.P90) * factor,
			P95: float64(r.P95) * factor,
		}
	}
	return scaled
}
