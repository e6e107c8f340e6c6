// Package storetest provides an in-memory model.SeriesStore for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"emarket/internal/model"
)

// Store keeps series in maps with last-write-wins duplicate handling,
// mirroring the store contract. The error fields, when set, are
// returned by the corresponding calls to exercise failure paths.
type Store struct {
	mu      sync.Mutex
	series  map[string]map[int64]float64
	created map[string]bool

	PingErr   error
	AppendErr error
	LastErr   error
	RangeErr  error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		series:  make(map[string]map[int64]float64),
		created: make(map[string]bool),
	}
}

func (s *Store) EnsureSeries(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created[name] = true
	if s.series[name] == nil {
		s.series[name] = make(map[int64]float64)
	}
	return nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

func (s *Store) Append(_ context.Context, name string, p model.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	if s.series[name] == nil {
		s.series[name] = make(map[int64]float64)
	}
	s.series[name][p.UnixMilli()] = p.Price
	return nil
}

func (s *Store) Last(_ context.Context, name string) (model.Point, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LastErr != nil {
		return model.Point{}, false, s.LastErr
	}
	var best int64
	found := false
	for ms := range s.series[name] {
		if !found || ms > best {
			best, found = ms, true
		}
	}
	if !found {
		return model.Point{}, false, nil
	}
	return model.Point{At: time.UnixMilli(best).UTC(), Price: s.series[name][best]}, true, nil
}

func (s *Store) Range(_ context.Context, name string, from, to time.Time) ([]model.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RangeErr != nil {
		return nil, s.RangeErr
	}
	var out []model.Point
	for ms, price := range s.series[name] {
		if !from.IsZero() && ms < from.UnixMilli() {
			continue
		}
		if !to.IsZero() && ms > to.UnixMilli() {
			continue
		}
		out = append(out, model.Point{At: time.UnixMilli(ms).UTC(), Price: price})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Points returns an ascending snapshot of name for assertions.
func (s *Store) Points(name string) []model.Point {
	pts, _ := s.Range(context.Background(), name, time.Time{}, time.Time{})
	return pts
}

// Created reports whether EnsureSeries was called for name.
func (s *Store) Created(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created[name]
}
