package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"emarket/internal/model"
)

// writeTimeout bounds a single store write. Saver deliberately does
// not watch the run context: acknowledged points must reach the store
// even during shutdown, so only channel closure stops the drain.
const writeTimeout = 10 * time.Second

// Saver drains the data channel into one series. Any store error is
// fatal; the supervisor restarts the process rather than risk a gap
// below an already-reported high-water mark.
type Saver struct {
	store  model.SeriesWriter
	series string
	log    zerolog.Logger

	// OnSaved, if set, is called after each successful write.
	OnSaved func()
}

// NewSaver returns a Saver appending to series.
func NewSaver(store model.SeriesWriter, series string, log zerolog.Logger) *Saver {
	return &Saver{store: store, series: series, log: log}
}

// Run consumes points until in closes.
func (s *Saver) Run(in <-chan model.Point) error {
	for p := range in {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.store.Append(ctx, s.series, p)
		cancel()
		if err != nil {
			return fmt.Errorf("append %s: %w", s.series, err)
		}
		if s.OnSaved != nil {
			s.OnSaved()
		}
	}
	s.log.Info().Msg("data channel closed, saver exiting")
	return nil
}
