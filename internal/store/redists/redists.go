// Package redists implements the series store on RedisTimeSeries.
package redists

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"emarket/internal/model"
)

// Store reads and writes price series over a shared Redis connection
// pool. Handles are cheap and safe to share across tasks.
type Store struct {
	client *goredis.Client
	log    zerolog.Logger
}

// New connects to the Redis at url and pings it before returning.
func New(url string, log zerolog.Logger) (*Store, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", opt.Addr).Msg("connected to redis")
	return &Store{client: client, log: log}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.client.Close() }

// Ping checks store liveness.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// EnsureSeries creates name with unlimited retention and a last-wins
// duplicate policy. An already existing series is not an error.
func (s *Store) EnsureSeries(ctx context.Context, name string) error {
	err := s.client.Do(ctx, "TS.CREATE", name, "RETENTION", 0, "DUPLICATE_POLICY", "LAST").Err()
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("ts.create %s: %w", name, err)
	}
	return nil
}

// Append writes p to name. The series' duplicate policy makes the
// write idempotent per (name, instant).
func (s *Store) Append(ctx context.Context, name string, p model.Point) error {
	if err := s.client.Do(ctx, "TS.ADD", name, p.UnixMilli(), p.Price).Err(); err != nil {
		return fmt.Errorf("ts.add %s @%d: %w", name, p.UnixMilli(), err)
	}
	return nil
}

// Last returns the greatest-instant point in name, ok=false when the
// series is empty.
func (s *Store) Last(ctx context.Context, name string) (model.Point, bool, error) {
	res, err := s.client.Do(ctx, "TS.GET", name).Result()
	if err != nil {
		return model.Point{}, false, fmt.Errorf("ts.get %s: %w", name, err)
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) == 0 {
		return model.Point{}, false, nil
	}
	p, err := decodePoint(pair)
	if err != nil {
		return model.Point{}, false, fmt.Errorf("ts.get %s: %w", name, err)
	}
	return p, true, nil
}

// Range returns the points with instants in the closed interval
// [from, to], ascending by instant. Zero ends are open.
func (s *Store) Range(ctx context.Context, name string, from, to time.Time) ([]model.Point, error) {
	res, err := s.client.Do(ctx, "TS.RANGE", name, rangeArg(from, "-"), rangeArg(to, "+")).Result()
	if err != nil {
		return nil, fmt.Errorf("ts.range %s: %w", name, err)
	}
	rows, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("ts.range %s: unexpected reply type %T", name, res)
	}
	points := make([]model.Point, 0, len(rows))
	for _, row := range rows {
		pair, ok := row.([]interface{})
		if !ok {
			return nil, fmt.Errorf("ts.range %s: unexpected row type %T", name, row)
		}
		p, err := decodePoint(pair)
		if err != nil {
			return nil, fmt.Errorf("ts.range %s: %w", name, err)
		}
		points = append(points, p)
	}
	return points, nil
}

// rangeArg renders one end of a TS.RANGE interval; the zero time means
// the open end marker.
func rangeArg(t time.Time, open string) interface{} {
	if t.IsZero() {
		return open
	}
	return t.UnixMilli()
}

// decodePoint converts a [timestamp, value] reply pair. The module
// returns timestamps as integers and values as strings under RESP2,
// or as doubles under RESP3.
func decodePoint(pair []interface{}) (model.Point, error) {
	if len(pair) != 2 {
		return model.Point{}, fmt.Errorf("reply pair has %d elements", len(pair))
	}
	ms, ok := pair[0].(int64)
	if !ok {
		return model.Point{}, fmt.Errorf("timestamp %v (%T) is not an integer", pair[0], pair[0])
	}
	var price float64
	switch v := pair[1].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return model.Point{}, fmt.Errorf("parse value %q: %w", v, err)
		}
		price = f
	case float64:
		price = v
	default:
		return model.Point{}, fmt.Errorf("value %v (%T) is not numeric", pair[1], pair[1])
	}
	return model.Point{At: time.UnixMilli(ms).UTC(), Price: price}, nil
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}
