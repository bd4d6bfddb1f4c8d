package envelope

import (
	"math"
	"sort"
	"time"

	"viewcurve/internal/store"
)

// SigmaStop is one step of the graduated smoothing schedule: from FromDay
// onward, the Gaussian kernel uses Sigma.
type SigmaStop struct {
	FromDay int     `yaml:"from_day"`
	Sigma   float64 `yaml:"sigma"`
}

// DefaultSigmaSchedule smooths lightly where the growth curve is steep and
// informative, heavier where samples thin out.
func DefaultSigmaSchedule() []SigmaStop {
	return []SigmaStop{
		{FromDay: 0, Sigma: 0.5},
		{FromDay: 7, Sigma: 1.0},
		{FromDay: 30, Sigma: 2.0},
		{FromDay: 90, Sigma: 3.0},
		{FromDay: 365, Sigma: 5.0},
	}
}

// Smoother fills gaps, smooths with a graduated kernel, and extends the
// sparse percentile map to a dense multi-year curve.
type Smoother struct {
	Schedule []SigmaStop
	Horizon  int // last day produced, inclusive
	// Monotonic applies a per-series non-decrease floor after smoothing.
	// Cumulative view counts cannot decrease; percentile estimates of a
	// changing population can appear to. The flag picks one policy for the
	// whole stored curve.
	Monotonic bool
	// ExtendLinearDays is how far past the last observed day the trailing
	// slope is continued before the curve goes flat.
	ExtendLinearDays int
	// TrailingWindow is how many observed days feed the trailing slope.
	TrailingWindow int
}

// DefaultSmoother returns the production configuration.
func DefaultSmoother() Smoother {
	return Smoother{
		Schedule:         DefaultSigmaSchedule(),
		Horizon:          3650,
		Monotonic:        true,
		ExtendLinearDays: 90,
		TrailingWindow:   30,
	}
}

// sigmaAt picks the schedule stop with the largest FromDay not past day.
// The schedule does not have to be sorted.
func (s Smoother) sigmaAt(day int) float64 {
	sigma := 1.0
	best := -1
	for _, stop := range s.Schedule {
		if day >= stop.FromDay && stop.FromDay > best {
			best = stop.FromDay
			sigma = stop.Sigma
		}
	}
	return sigma
}

// Dense produces one row per day in [0, Horizon]. sample_count is the
// observed bucket size for directly-computed days and 0 for interpolated,
// backfilled, or extrapolated days.
func (s Smoother) Dense(points map[int]Points, counts map[int]int, now time.Time) []store.EnvelopeRow {
	horizon := s.Horizon
	if horizon <= 0 {
		horizon = 3650
	}

	days := make([]int, 0, len(points))
	for day := range points {
		if day >= 0 && day <= horizon {
			days = append(days, day)
		}
	}
	sort.Ints(days)

	rows := make([]store.EnvelopeRow, horizon+1)
	for d := range rows {
		rows[d] = store.EnvelopeRow{Day: d, UpdatedAt: now}
	}
	if len(days) == 0 {
		return rows
	}

	minDay, maxDay := days[0], days[len(days)-1]

	series := [6][]float64{}
	weights := make([]float64, maxDay-minDay+1)
	for p := range series {
		series[p] = make([]float64, maxDay-minDay+1)
	}

	// Interpolate each percentile series across unobserved days bounded by
	// the observed range. Observed days carry sqrt(sample_count) weight so
	// well-sampled buckets dominate the kernel.
	for i := 0; i <= maxDay-minDay; i++ {
		day := minDay + i
		if pts, ok := points[day]; ok {
			setSeries(&series, i, pts)
			weights[i] = math.Sqrt(float64(counts[day]))
			continue
		}
		prev, next := neighbors(days, day)
		frac := float64(day-prev) / float64(next-prev)
		setSeries(&series, i, lerpPoints(points[prev], points[next], frac))
		weights[i] = 1
	}

	smoothed := [6][]float64{}
	for p := range series {
		smoothed[p] = s.gaussianSmooth(series[p], weights, minDay)
	}

	// Observed + interpolated range.
	for i := 0; i <= maxDay-minDay; i++ {
		day := minDay + i
		count := 0
		if _, ok := points[day]; ok {
			count = counts[day]
		}
		fillRow(&rows[day], pointsAt(&smoothed, i), count)
	}

	// Backfill before the first observed day: flat at the earliest estimate.
	first := pointsAt(&smoothed, 0)
	for day := 0; day < minDay; day++ {
		fillRow(&rows[day], first, 0)
	}

	// Extend past the last observed day: trailing slope for a bounded
	// stretch, flat after that. Purely extrapolated rows keep count 0.
	slopes := s.trailingSlopes(&smoothed)
	last := pointsAt(&smoothed, maxDay-minDay)
	for day := maxDay + 1; day <= horizon; day++ {
		offset := day - maxDay
		var pts Points
		if offset <= s.ExtendLinearDays {
			pts = Points{
				P10: last.P10 + slopes[0]*float64(offset),
				P25: last.P25 + slopes[1]*float64(offset),
				P50: last.P50 + slopes[2]*float64(offset),
				P75: last.P75 + slopes[3]*float64(offset),
				P90: last.P90 + slopes[4]*float64(offset),
				P95: last.P95 + slopes[5]*float64(offset),
			}
		} else {
			n := float64(s.ExtendLinearDays)
			pts = Points{
				P10: last.P10 + slopes[0]*n,
				P25: last.P25 + slopes[1]*n,
				P50: last.P50 + slopes[2]*n,
				P75: last.P75 + slopes[3]*n,
				P90: last.P90 + slopes[4]*n,
				P95: last.P95 + slopes[5]*n,
			}
		}
		fillRow(&rows[day], pts, 0)
	}

	if s.Monotonic {
		enforceMonotonic(rows)
	}
	enforceOrdering(rows)
	return rows
}

// gaussianSmooth applies a weighted Gaussian kernel whose sigma varies per
// day according to the schedule. The window spans +-3 sigma.
func (s Smoother) gaussianSmooth(values, weights []float64, minDay int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		sigma := s.sigmaAt(minDay + i)
		if sigma <= 0 {
			out[i] = values[i]
			continue
		}
		radius := int(math.Ceil(3 * sigma))
		var sum, wsum float64
		for j := i - radius; j <= i+radius; j++ {
			if j < 0 || j >= len(values) {
				continue
			}
			d := float64(j - i)
			w := weights[j] * math.Exp(-d*d/(2*sigma*sigma))
			sum += values[j] * w
			wsum += w
		}
		if wsum == 0 {
			out[i] = values[i]
			continue
		}
		out[i] = sum / wsum
	}
	return out
}

// trailingSlopes estimates the per-day increment of each percentile series
// over the trailing window, clamped non-negative.
func (s Smoother) trailingSlopes(smoothed *[6][]float64) [6]float64 {
	var slopes [6]float64
	n := len(smoothed[0])
	window := s.TrailingWindow
	if window <= 0 {
		window = 30
	}
	if window >= n {
		window = n - 1
	}
	if window < 1 {
		return slopes
	}
	for p := range smoothed {
		delta := smoothed[p][n-1] - smoothed[p][n-1-window]
		slope := delta / float64(window)
		if slope < 0 {
			slope = 0
		}
		slopes[p] = slope
	}
	return slopes
}

func setSeries(series *[6][]float64, i int, pts Points) {
	series[0][i] = pts.P10
	series[1][i] = pts.P25
	series[2][i] = pts.P50
	series[3][i] = pts.P75
	series[4][i] = pts.P90
	series[5][i] = pts.P95
}

func pointsAt(series *[6][]float64, i int) Points {
	return Points{
		P10: series[0][i],
		P25: series[1][i],
		P50: series[2][i],
		P75: series[3][i],
		P90: series[4][i],
		P95: series[5][i],
	}
}

func lerpPoints(a, b Points, frac float64) Points {
	lerp := func(x, y float64) float64 { return x + frac*(y-x) }
	return Points{
		P10: lerp(a.P10, b.P10),
		P25: lerp(a.P25, b.P25),
		P50: lerp(a.P50, b.P50),
		P75: lerp(a.P75, b.P75),
		P90: lerp(a.P90, b.P90),
		P95: lerp(a.P95, b.P95),
	}
}

// neighbors finds the observed days bracketing day. days is sorted and day
// lies strictly between two entries.
func neighbors(days []int, day int) (prev, next int) {
	idx := sort.SearchInts(days, day)
	return days[idx-1], days[idx]
}

func fillRow(row *store.EnvelopeRow, pts Points, count int) {
	row.P10 = int64(math.Round(pts.P10))
	row.P25 = int64(math.Round(pts.P25))
	row.P50 = int64(math.Round(pts.P50))
	row.P75 = int64(math.Round(pts.P75))
	row.P90 = int64(math.Round(pts.P90))
	row.P95 = int64(math.Round(pts.P95))
	row.SampleCount = count
}

// enforceMonotonic floors every percentile series at its prior-day value.
func enforceMonotonic(rows []store.EnvelopeRow) {
	for d := 1; d < len(rows); d++ {
		prev, cur := &rows[d-1], &rows[d]
		cur.P10 = max64(cur.P10, prev.P10)
		cur.P25 = max64(cur.P25, prev.P25)
		cur.P50 = max64(cur.P50, prev.P50)
		cur.P75 = max64(cur.P75, prev.P75)
		cur.P90 = max64(cur.P90, prev.P90)
		cur.P95 = max64(cur.P95, prev.P95)
	}
}

// enforceOrdering guarantees p10 <= p25 <= ... <= p95 within a day. The
// series are smoothed independently, so rounding can nudge them out of
// order by a count or two.
func enforceOrdering(rows []store.EnvelopeRow) {
	for d := range rows {
		r := &rows[d]
		r.P25 = max64(r.P25, r.P10)
		r.P50 = max64(r.P50, r.P25)
		r.P75 = max64(r.P75, r.P50)
		r.P90 = max64(r.P90, r.P75)
		r.P95 = max64(r.P95, r.P90)
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
