package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"viewcurve/internal/store"
)

// ErrDataUnavailable indicates the backing snapshot store could not be
// reached even after retries. Retrying is the adapter's responsibility;
// callers receive this only once the adapter has given up.
var ErrDataUnavailable = errors.New("snapshot data unavailable")

// Range selects snapshots by video age and optional channel.
type Range struct {
	MinDay    int
	MaxDay    int // inclusive; <=0 means unbounded
	ChannelID string
}

// Reader is the slice of the store the adapter needs.
type Reader interface {
	ListSnapshots(ctx context.Context, opts store.SnapshotListOpts) ([]store.ViewSnapshot, error)
}

// Adapter reads long-form view snapshots with internal pagination. Source
// datasets run to hundreds of thousands of rows, so every fetch walks the
// store in keyset pages rather than one round trip.
type Adapter struct {
	reader   Reader
	pageSize int
	breaker  *gobreaker.CircuitBreaker
	maxTries uint64
}

// NewAdapter creates an adapter reading pages of pageSize rows.
func NewAdapter(reader Reader, pageSize int) *Adapter {
	if pageSize <= 0 {
		pageSize = 1000
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "snapshot-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Adapter{
		reader:   reader,
		pageSize: pageSize,
		breaker:  breaker,
		maxTries: 4,
	}
}

// Fetch returns every long-form snapshot in the range, ordered by store id.
func (a *Adapter) Fetch(ctx context.Context, r Range) ([]store.ViewSnapshot, error) {
	var all []store.ViewSnapshot
	afterID := int64(0)

	for {
		page, err := a.fetchPage(ctx, r, afterID)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < a.pageSize {
			return all, nil
		}
		afterID = page[len(page)-1].ID
	}
}

// FetchByDay returns the range's snapshots bucketed by days_since_published.
func (a *Adapter) FetchByDay(ctx context.Context, r Range) (map[int][]int64, int, error) {
	snaps, err := a.Fetch(ctx, r)
	if err != nil {
		return nil, 0, err
	}
	byDay := make(map[int][]int64)
	for i := range snaps {
		byDay[snaps[i].DaysSincePublished] = append(byDay[snaps[i].DaysSincePublished], snaps[i].ViewCount)
	}
	return byDay, len(snaps), nil
}

func (a *Adapter) fetchPage(ctx context.Context, r Range, afterID int64) ([]store.ViewSnapshot, error) {
	var page []store.ViewSnapshot

	op := func() error {
		res, err := a.breaker.Execute(func() (any, error) {
			return a.reader.ListSnapshots(ctx, store.SnapshotListOpts{
				MinDay:       r.MinDay,
				MaxDay:       r.MaxDay,
				ChannelID:    r.ChannelID,
				LongFormOnly: true,
				AfterID:      afterID,
				Limit:        a.pageSize,
			})
		})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		page = res.([]store.ViewSnapshot)
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxInterval = 2 * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, a.maxTries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	return page, nil
}
