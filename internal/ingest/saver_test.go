package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"emarket/internal/model"
	"emarket/internal/store/storetest"
)

func TestSaverWritesUntilClosed(t *testing.T) {
	st := storetest.New()
	s := NewSaver(st, model.SeriesHourly, zerolog.Nop())
	saved := 0
	s.OnSaved = func() { saved++ }

	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	ch := make(chan model.Point, 10)
	ch <- pt(base, 10)
	ch <- pt(base.Add(time.Hour), 20)
	ch <- pt(base.Add(2*time.Hour), 30)
	close(ch)

	if err := s.Run(ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pts := st.Points(model.SeriesHourly)
	if len(pts) != 3 {
		t.Fatalf("expected 3 stored points, got %d", len(pts))
	}
	if pts[0].Price != 10 || pts[2].Price != 30 {
		t.Errorf("stored points out of order: %v", pts)
	}
	if saved != 3 {
		t.Errorf("expected 3 save callbacks, got %d", saved)
	}
}

func TestSaverFatalOnStoreError(t *testing.T) {
	st := storetest.New()
	st.AppendErr = errors.New("io down")
	s := NewSaver(st, model.SeriesHourly, zerolog.Nop())

	ch := make(chan model.Point, 1)
	ch <- pt(time.Now().UTC(), 1)
	close(ch)

	err := s.Run(ch)
	if err == nil {
		t.Fatal("expected a fatal error from the store")
	}
	if !strings.Contains(err.Error(), "io down") {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}

func TestSaverLastWriteWinsOnReplay(t *testing.T) {
	st := storetest.New()
	s := NewSaver(st, model.SeriesHourly, zerolog.Nop())

	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	ch := make(chan model.Point, 4)
	ch <- pt(base, 10)
	ch <- pt(base.Add(time.Hour), 20)
	// Overlapping windows replay the same instants.
	ch <- pt(base, 11)
	ch <- pt(base.Add(time.Hour), 21)
	close(ch)

	if err := s.Run(ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pts := st.Points(model.SeriesHourly)
	if len(pts) != 2 {
		t.Fatalf("expected replays to collapse to 2 points, got %d", len(pts))
	}
	if pts[0].Price != 11 || pts[1].Price != 21 {
		t.Errorf("expected the replayed values to win, got %v", pts)
	}
}
