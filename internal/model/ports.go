package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the pipeline and the HTTP API from the
// concrete RedisTimeSeries client. The store implementation satisfies
// all of them; tests substitute an in-memory fake.

// SeriesWriter creates series and appends points.
type SeriesWriter interface {
	// EnsureSeries creates name with unlimited retention and a
	// last-write-wins duplicate policy. An existing series is fine.
	EnsureSeries(ctx context.Context, name string) error

	// Append writes p to name. Duplicate instants resolve last-wins,
	// so the call is idempotent per (name, instant).
	Append(ctx context.Context, name string, p Point) error
}

// SeriesReader reads points back.
type SeriesReader interface {
	// Last returns the greatest-instant point in name.
	// ok is false when the series is empty.
	Last(ctx context.Context, name string) (p Point, ok bool, err error)

	// Range returns the points with instants in the closed interval
	// [from, to], ascending by instant. A zero from or to stands for
	// the open end (earliest / latest). Callers wanting a half-open
	// [from, to) pass to minus one millisecond.
	Range(ctx context.Context, name string, from, to time.Time) ([]Point, error)
}

// Pinger reports store liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SeriesStore is the full store surface shared by the binaries.
type SeriesStore interface {
	SeriesWriter
	SeriesReader
	Pinger
}
