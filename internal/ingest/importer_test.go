package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"emarket/internal/model"
)

type noopGate struct{}

func (noopGate) Acquire(ctx context.Context) error { return ctx.Err() }

// scriptedLoader replays canned batches and records the window starts
// it was asked for. Once the script runs out it returns empty windows.
type scriptedLoader struct {
	mu      sync.Mutex
	batches [][]model.Point
	err     error
	windows []time.Time
}

func (l *scriptedLoader) Fetch(ctx context.Context, from, to time.Time) ([]model.Point, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = append(l.windows, from)
	if l.err != nil {
		return nil, l.err
	}
	if len(l.batches) == 0 {
		return nil, nil
	}
	b := l.batches[0]
	l.batches = l.batches[1:]
	return b, nil
}

func (l *scriptedLoader) calls() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.windows...)
}

func pt(at time.Time, price float64) model.Point {
	return model.Point{At: at, Price: price}
}

func newTestImporter(start time.Time, loader Loader, data chan model.Point, hwm chan time.Time) *Importer {
	imp := New(Config{
		Start:  start,
		Loader: loader,
		Gate:   noopGate{},
		Data:   data,
		HWM:    hwm,
		Log:    zerolog.Nop(),
	})
	imp.jitter = func(time.Duration) time.Duration { return 0 }
	return imp
}

func TestImporterForwardsPointsThenMark(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	loader := &scriptedLoader{batches: [][]model.Point{{
		pt(base.Add(1*time.Hour), 10),
		pt(base.Add(2*time.Hour), 20),
		pt(base.Add(3*time.Hour), 30),
	}}}
	data := make(chan model.Point, 100)
	hwm := make(chan time.Time, 100)

	imp := newTestImporter(base, loader, data, hwm)
	imp.now = func() time.Time { return base.Add(72 * time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := imp.Run(ctx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		close(done)
	}()

	var got []model.Point
	for i := 0; i < 3; i++ {
		select {
		case p := <-data:
			got = append(got, p)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for points")
		}
	}

	select {
	case mark := <-hwm:
		if !mark.Equal(base.Add(3 * time.Hour)) {
			t.Errorf("expected mark %s, got %s", base.Add(3*time.Hour), mark)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the high-water mark")
	}

	cancel()
	<-done

	if got[0].Price != 10 || got[1].Price != 20 || got[2].Price != 30 {
		t.Errorf("points forwarded out of order: %v", got)
	}
}

func TestImporterSlidesOverEmptyBacklog(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	loader := &scriptedLoader{}
	data := make(chan model.Point, 10)
	hwm := make(chan time.Time, 10)

	imp := newTestImporter(base, loader, data, hwm)
	imp.now = func() time.Time { return base.Add(30 * 24 * time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		imp.Run(ctx)
		close(done)
	}()

	// Five windows fit before the head catches up with now and the
	// loop settles into its sleep.
	deadline := time.Now().Add(2 * time.Second)
	for len(loader.calls()) < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	calls := loader.calls()
	if len(calls) != 5 {
		t.Fatalf("expected 5 windows, got %d", len(calls))
	}
	for i, call := range calls {
		want := base.Add(time.Duration(i) * backlogStep)
		if !call.Equal(want) {
			t.Errorf("window %d: expected start %s, got %s", i, want, call)
		}
	}
	if len(hwm) != 0 {
		t.Errorf("expected no marks during the backlog slide, got %d", len(hwm))
	}
}

func TestImporterTreatsStaleWindowAsEmpty(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	// The upstream replays a point sitting exactly on the cursor:
	// forwarded downstream but no progress.
	loader := &scriptedLoader{batches: [][]model.Point{{pt(base, 42)}}}
	data := make(chan model.Point, 10)
	hwm := make(chan time.Time, 10)

	imp := newTestImporter(base, loader, data, hwm)
	imp.now = func() time.Time { return base.Add(time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		imp.Run(ctx)
		close(done)
	}()

	select {
	case p := <-data:
		if p.Price != 42 {
			t.Errorf("expected replayed point, got %v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the replayed point")
	}

	select {
	case mark := <-hwm:
		t.Fatalf("unexpected mark %s while the loop should be sleeping", mark)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestImporterMarksAreMonotonic(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	loader := &scriptedLoader{batches: [][]model.Point{
		{pt(base.Add(1*time.Hour), 1), pt(base.Add(3*time.Hour), 3)},
		{pt(base.Add(24*time.Hour), 4), pt(base.Add(26*time.Hour), 6)},
	}}
	data := make(chan model.Point, 100)
	hwm := make(chan time.Time, 100)

	imp := newTestImporter(base, loader, data, hwm)
	imp.now = func() time.Time { return base.Add(27 * time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		imp.Run(ctx)
		close(done)
	}()

	var marks []time.Time
	for i := 0; i < 2; i++ {
		select {
		case m := <-hwm:
			marks = append(marks, m)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for marks")
		}
	}
	cancel()
	<-done

	for i := 1; i < len(marks); i++ {
		if marks[i].Before(marks[i-1]) {
			t.Errorf("marks regressed: %s after %s", marks[i], marks[i-1])
		}
	}
	if !marks[1].Equal(base.Add(26 * time.Hour)) {
		t.Errorf("expected final mark %s, got %s", base.Add(26*time.Hour), marks[1])
	}
}

func TestImporterFatalOnLoaderError(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	loader := &scriptedLoader{err: errors.New("upstream gone")}
	data := make(chan model.Point, 1)
	hwm := make(chan time.Time, 1)

	imp := newTestImporter(base, loader, data, hwm)

	err := imp.Run(context.Background())
	if err == nil {
		t.Fatal("expected a fatal error from the loader")
	}
	if !strings.Contains(err.Error(), "upstream gone") {
		t.Errorf("expected wrapped loader error, got %v", err)
	}
}

func TestImporterCleanExitOnCancel(t *testing.T) {
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	imp := newTestImporter(base, &scriptedLoader{}, make(chan model.Point), make(chan time.Time))
	if err := imp.Run(ctx); err != nil {
		t.Errorf("cancellation must be a clean exit, got %v", err)
	}
}

func TestComputeSleep(t *testing.T) {
	now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	zero := func(time.Duration) time.Duration { return 0 }

	cases := []struct {
		name string
		last time.Time
		want time.Duration
	}{
		{"next batch far ahead", now.Add(25 * time.Hour), 14*time.Hour + 50*time.Minute},
		{"next batch overdue", now.Add(5 * time.Hour), 3 * time.Minute},
		{"last in the past", now.Add(-48 * time.Hour), 3 * time.Minute},
	}
	for _, tc := range cases {
		if got := computeSleep(tc.last, now, zero); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	fixed := func(time.Duration) time.Duration { return time.Minute }
	want := 14*time.Hour + 51*time.Minute
	if got := computeSleep(now.Add(25*time.Hour), now, fixed); got != want {
		t.Errorf("expected jitter to be added, want %v, got %v", want, got)
	}
}
