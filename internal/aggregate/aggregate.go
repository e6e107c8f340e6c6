// Package aggregate maintains the daily and monthly mean series from
// the hourly one, driven by high-water marks emitted by the ingest
// loop. Catch-up is resumable: each destination's watermark is
// re-established from the destination series itself on restart.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"emarket/internal/model"
)

// DefaultEpoch is where an empty destination series starts its walk;
// no market data exists before it.
var DefaultEpoch = time.Date(2012, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultSettle absorbs the store's read-after-write lag between the
// saver's appends and our range reads.
const DefaultSettle = time.Second

const opTimeout = 10 * time.Second

// WindowFunc returns the half-open [from, to) bucket covering t.
type WindowFunc func(time.Time) (time.Time, time.Time)

// Store is the slice of the series store the aggregator touches.
type Store interface {
	Last(ctx context.Context, name string) (model.Point, bool, error)
	Range(ctx context.Context, name string, from, to time.Time) ([]model.Point, error)
	Append(ctx context.Context, name string, p model.Point) error
}

// rollup tracks catch-up state for one destination series.
type rollup struct {
	dest   string
	window WindowFunc
	last   time.Time
	seeded bool
}

// Config assembles an Aggregator.
type Config struct {
	Store  Store
	Source string        // hourly series; empty selects model.SeriesHourly
	Day    WindowFunc    // daily buckets
	Month  WindowFunc    // monthly buckets
	Settle time.Duration // zero selects DefaultSettle
	Epoch  time.Time     // zero selects DefaultEpoch
	Log    zerolog.Logger
}

// Aggregator consumes high-water marks and keeps the daily and monthly
// series equal to the per-bucket means of the source series.
type Aggregator struct {
	store   Store
	source  string
	rollups []*rollup
	settle  time.Duration
	epoch   time.Time
	log     zerolog.Logger

	// OnBucket, if set, observes each destination write.
	OnBucket func(series string)
}

// New returns an Aggregator for cfg.
func New(cfg Config) *Aggregator {
	if cfg.Source == "" {
		cfg.Source = model.SeriesHourly
	}
	if cfg.Settle == 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Epoch.IsZero() {
		cfg.Epoch = DefaultEpoch
	}
	return &Aggregator{
		store:  cfg.Store,
		source: cfg.Source,
		rollups: []*rollup{
			{dest: model.SeriesDaily, window: cfg.Day},
			{dest: model.SeriesMonthly, window: cfg.Month},
		},
		settle: cfg.Settle,
		epoch:  cfg.Epoch,
		log:    cfg.Log,
	}
}

// Run consumes marks until in closes. Each mark is processed to
// completion so the destination series never trail a mark that was
// already acknowledged; a store failure aborts and escalates.
func (a *Aggregator) Run(in <-chan time.Time) error {
	for mark := range in {
		time.Sleep(a.settle)
		for _, r := range a.rollups {
			if err := a.catchUp(r, mark); err != nil {
				return err
			}
		}
	}
	a.log.Info().Msg("mark channel closed, aggregator exiting")
	return nil
}

// catchUp walks r's buckets from its watermark through mark, writing
// the mean of each non-empty bucket at the bucket's open instant.
func (a *Aggregator) catchUp(r *rollup, mark time.Time) error {
	if !r.seeded {
		ctx, cancel := opCtx()
		p, ok, err := a.store.Last(ctx, r.dest)
		cancel()
		if err != nil {
			return fmt.Errorf("seed %s watermark: %w", r.dest, err)
		}
		if ok {
			r.last = p.At
		} else {
			r.last = a.epoch
		}
		r.seeded = true
		a.log.Info().Str("series", r.dest).Time("from", r.last).Msg("aggregation watermark seeded")
	}

	for t := r.last; !t.After(mark); {
		from, to := r.window(t)

		ctx, cancel := opCtx()
		points, err := a.store.Range(ctx, a.source, from, to.Add(-time.Millisecond))
		cancel()
		if err != nil {
			return fmt.Errorf("scan %s bucket at %s: %w", a.source, from.Format(time.RFC3339), err)
		}

		if len(points) > 0 {
			avg := mean(points)
			ctx, cancel := opCtx()
			err := a.store.Append(ctx, r.dest, model.Point{At: from, Price: avg})
			cancel()
			if err != nil {
				return fmt.Errorf("write %s bucket at %s: %w", r.dest, from.Format(time.RFC3339), err)
			}
			r.last = points[len(points)-1].At
			if a.OnBucket != nil {
				a.OnBucket(r.dest)
			}
			a.log.Debug().Str("series", r.dest).Time("bucket", from).
				Float64("avg", avg).Int("points", len(points)).Msg("bucket aggregated")
		}
		t = to
	}
	return nil
}

func mean(points []model.Point) float64 {
	var sum float64
	for _, p := range points {
		sum += p.Price
	}
	return sum / float64(len(points))
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}
