package envelope

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Points holds the six percentile estimates for one day bucket.
type Points struct {
	P10 float64
	P25 float64
	P50 float64
	P75 float64
	P90 float64
	P95 float64
}

// Percentile computes the p-th percentile (0..100) of values by linear
// interpolation between order statistics. values must be sorted ascending.
func Percentile(sorted []float64, p float64) float64 {
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

func percentilePoints(values []int64) Points {
	sorted := make([]float64, len(values))
	for i, v := range values {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	return Points{
		P10: Percentile(sorted, 10),
		P25: Percentile(sorted, 25),
		P50: Percentile(sorted, 50),
		P75: Percentile(sorted, 75),
		P90: Percentile(sorted, 90),
		P95: Percentile(sorted, 95),
	}
}

// Calculator turns per-day view-count buckets into sparse percentile points.
type Calculator struct {
	// MinSamples is the smallest bucket that produces a direct percentile
	// row. Buckets at exactly the threshold are included; damping their
	// noise is the smoother's job.
	MinSamples int
}

// Compute returns a sparse day -> Points mapping plus the raw per-day sample
// counts. Day buckets are data-independent, so the work fans out across
// worker goroutines.
func (c Calculator) Compute(ctx context.Context, byDay map[int][]int64) (map[int]Points, map[int]int, error) {
	minSamples := c.MinSamples
	if minSamples <= 0 {
		minSamples = 10
	}

	days := make([]int, 0, len(byDay))
	counts := make(map[int]int, len(byDay))
	for day, values := range byDay {
		counts[day] = len(values)
		if len(values) >= minSamples {
			days = append(days, day)
		}
	}
	sort.Ints(days)

	points := make(map[int]Points, len(days))
	if len(days) == 0 {
		return points, counts, nil
	}

	type result struct {
		day int
		pts Points
	}

	workers := runtime.NumCPU()
	if workers > len(days) {
		workers = len(days)
	}

	g, ctx := errgroup.WithContext(ctx)
	work := make(chan int)
	results := make(chan result, len(days))

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for day := range work {
				select {
				case results <- result{day: day, pts: percentilePoints(byDay[day])}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, day := range days {
			select {
			case work <- day:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	close(results)

	for r := range results {
		points[r.day] = r.pts
	}
	return points, counts, nil
}
