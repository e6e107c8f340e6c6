// Package ingest keeps the hourly price series current with the
// upstream feed: windowed polling behind a rate gate, bounded-channel
// handoff to the saver, and high-water-mark messages for the
// aggregator.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"emarket/internal/model"
	"emarket/internal/rategate"
)

const (
	// windowSpan is how much future each upstream query asks for.
	windowSpan = 7 * 24 * time.Hour
	// backlogStep advances the cursor over an empty backlog window,
	// overlapping one day to survive missing edges upstream.
	backlogStep = 6 * 24 * time.Hour

	// publishLead is how far ahead of the last known instant the next
	// batch is expected: day-ahead prices for day D appear around
	// 13:00 local on D-1, roughly ten hours early.
	publishLead = 10*time.Hour + 10*time.Minute

	minSleep       = 3 * time.Minute
	sleepJitterMax = 5 * time.Minute
)

// Loader fetches the points published for a window.
type Loader interface {
	Fetch(ctx context.Context, from, to time.Time) ([]model.Point, error)
}

// Acquirer grants permission for one upstream call.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Config assembles an Importer.
type Config struct {
	Start  time.Time          // low edge of the first window
	Loader Loader             // upstream client
	Gate   Acquirer           // shared rate gate
	Data   chan<- model.Point // to the saver
	HWM    chan<- time.Time   // to the aggregator
	Log    zerolog.Logger
}

// Importer polls the upstream in bounded windows and feeds the data
// and high-water-mark channels. It owns neither channel; the
// supervisor closes them after Run returns.
type Importer struct {
	loader Loader
	gate   Acquirer
	data   chan<- model.Point
	hwm    chan<- time.Time
	cursor time.Time
	log    zerolog.Logger

	now    func() time.Time
	jitter func(time.Duration) time.Duration

	// OnImported, if set, observes the accepted point count per window.
	OnImported func(n int)
	// OnMark, if set, observes each high-water mark after it was sent.
	OnMark func(t time.Time)
}

// New returns an Importer scanning forward from cfg.Start.
func New(cfg Config) *Importer {
	return &Importer{
		loader: cfg.Loader,
		gate:   cfg.Gate,
		data:   cfg.Data,
		hwm:    cfg.HWM,
		cursor: cfg.Start,
		log:    cfg.Log,
		now:    time.Now,
		jitter: rategate.Jitter,
	}
}

// Run polls until ctx is cancelled. Cancellation is a clean exit;
// upstream failures that survive the client's retries are returned.
func (imp *Importer) Run(ctx context.Context) error {
	imp.log.Info().Time("cursor", imp.cursor).Msg("ingest starting")
	for {
		if ctx.Err() != nil {
			return nil
		}
		last, imported, err := imp.fetchOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		now := imp.now()
		switch {
		case imported == 0 && imp.cursor.Add(windowSpan).Before(now):
			// Empty backlog window: slide forward without sleeping
			// and without reporting a mark.
			imp.cursor = imp.cursor.Add(backlogStep)
			imp.log.Debug().Time("cursor", imp.cursor).Msg("backlog window empty, sliding")
			continue
		case imported == 0:
			d := computeSleep(last, now, imp.jitter)
			imp.log.Info().Dur("sleep", d).Time("last", last).Msg("caught up with upstream")
			if err := sleep(ctx, d); err != nil {
				return nil
			}
		default:
			imp.cursor = last
		}

		select {
		case imp.hwm <- last:
			if imp.OnMark != nil {
				imp.OnMark(last)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// fetchOnce pulls one window and forwards its points. last is the
// greatest instant seen, or the cursor when the window brought
// nothing newer; imported is zero in that case even if stale points
// were replayed and forwarded.
func (imp *Importer) fetchOnce(ctx context.Context) (last time.Time, imported int, err error) {
	from := imp.cursor
	to := from.Add(windowSpan)

	if err := imp.gate.Acquire(ctx); err != nil {
		return from, 0, err
	}
	points, err := imp.loader.Fetch(ctx, from, to)
	if err != nil {
		return from, 0, fmt.Errorf("fetch window from %s: %w", from.UTC().Format(time.RFC3339), err)
	}

	last = from
	for _, p := range points {
		select {
		case imp.data <- p:
		case <-ctx.Done():
			return last, imported, ctx.Err()
		}
		imported++
		if p.At.After(last) {
			last = p.At
		}
	}
	if last.Equal(from) {
		// Nothing beyond the cursor: the window only replayed
		// already-known points.
		imported = 0
	}
	if imp.OnImported != nil {
		imp.OnImported(imported)
	}
	imp.log.Debug().Time("from", from).Int("points", len(points)).Int("imported", imported).Msg("window fetched")
	return last, imported, nil
}

// computeSleep returns the wait before the next poll once the feed is
// exhausted: until publishLead before the expected next batch, floored
// at minSleep, plus jitter against synchronized polling.
func computeSleep(last, now time.Time, jitter func(time.Duration) time.Duration) time.Duration {
	base := last.Add(-publishLead).Sub(now)
	if base < minSleep {
		base = minSleep
	}
	return base + jitter(sleepJitterMax)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
