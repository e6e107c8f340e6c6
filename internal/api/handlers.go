package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"emarket/internal/model"
	"emarket/internal/timebucket"
)

// nowWindowSpan bounds how far into the current hour /np/now looks.
const nowWindowSpan = 50 * time.Minute

// seriesByRange maps the time_range query value to a series name.
var seriesByRange = map[string]string{
	"hourly":  model.SeriesHourly,
	"daily":   model.SeriesDaily,
	"monthly": model.SeriesMonthly,
}

type handlers struct {
	store   model.SeriesStore
	buckets *timebucket.Bucketer
	version string
	log     zerolog.Logger
	now     func() time.Time
}

// live reports store reachability. A failed ping is status:false with
// the error text, not an HTTP error.
func (h *handlers) live(w http.ResponseWriter, r *http.Request) {
	resp := LiveResponse{Status: true, Redis: "ok", Version: h.version}
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("store ping failed")
		resp.Status = false
		resp.Redis = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// prices returns one series over [from, to], both ends optional.
func (h *handlers) prices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	timeRange := q.Get("time_range")
	if timeRange == "" {
		timeRange = "monthly"
	}
	series, ok := seriesByRange[timeRange]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown time_range %q", timeRange), http.StatusBadRequest)
		return
	}
	from, err := msParam(q, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := msParam(q, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	points, err := h.store.Range(r.Context(), series, from, to)
	if err != nil {
		h.serverError(w, err)
		return
	}
	out := make([]PricePoint, 0, len(points))
	for _, p := range points {
		out = append(out, PricePoint{At: p.UnixMilli(), Price: p.Price})
	}
	writeJSON(w, http.StatusOK, out)
}

// summary composes the multi-horizon snapshot around at (default now).
func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	at := h.now()
	if v := r.URL.Query().Get("at"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("parse at: %v", err), http.StatusBadRequest)
			return
		}
		at = time.UnixMilli(ms).UTC()
	}

	ctx := r.Context()
	b := h.buckets
	out := SummaryData{At: at.UnixMilli()}
	var err error
	if out.CurrentMonthAvg, err = h.firstValue(ctx, model.SeriesMonthly, b.MonthBoundary(at, 0), b.MonthBoundary(at, 1), 1); err != nil {
		h.serverError(w, err)
		return
	}
	if out.PreviousMonthAvg, err = h.firstValue(ctx, model.SeriesMonthly, b.MonthBoundary(at, -1), b.MonthBoundary(at, 0), 1); err != nil {
		h.serverError(w, err)
		return
	}
	if out.TodayAvg, err = h.firstValue(ctx, model.SeriesDaily, b.DayBoundary(at, 0), b.DayBoundary(at, 1), 1); err != nil {
		h.serverError(w, err)
		return
	}
	// Tomorrow needs a second daily point in the lookahead window,
	// otherwise a freshly aggregated "today" would masquerade as it.
	if out.TomorrowAvg, err = h.firstValue(ctx, model.SeriesDaily, b.DayBoundary(at, 1), b.DayBoundary(at, 3), 2); err != nil {
		h.serverError(w, err)
		return
	}
	if out.YesterdayAvg, err = h.firstValue(ctx, model.SeriesDaily, b.DayBoundary(at, -1), b.DayBoundary(at, 0), 1); err != nil {
		h.serverError(w, err)
		return
	}
	if out.Last30dAvg, err = h.meanValue(ctx, model.SeriesDaily, b.DayBoundary(at, -29), b.DayBoundary(at, 1)); err != nil {
		h.serverError(w, err)
		return
	}
	if out.Last7Avg, err = h.meanValue(ctx, model.SeriesDaily, b.DayBoundary(at, -6), b.DayBoundary(at, 1)); err != nil {
		h.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// npNow returns the most recent hourly point covering the current
// hour. An empty window is a server error: the importer should always
// be at least one day ahead.
func (h *handlers) npNow(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	hourStart := now.Truncate(time.Hour)
	points, err := h.store.Range(r.Context(), model.SeriesHourly,
		hourStart, hourStart.Add(nowWindowSpan-time.Millisecond))
	if err != nil {
		h.serverError(w, err)
		return
	}
	var cur *model.Point
	for i := range points {
		if !points[i].At.After(now) {
			cur = &points[i]
		}
	}
	if cur == nil {
		h.serverError(w, fmt.Errorf("no hourly price in [%s, +%s)", hourStart.Format(time.RFC3339), nowWindowSpan))
		return
	}
	writeJSON(w, http.StatusOK, NowData{At: cur.UnixMilli(), Price: &cur.Price})
}

// firstValue returns the first point's price in series over the
// half-open [from, to), or nil when the range holds fewer than
// minItems points.
func (h *handlers) firstValue(ctx context.Context, series string, from, to time.Time, minItems int) (*float64, error) {
	points, err := h.store.Range(ctx, series, from, to.Add(-time.Millisecond))
	if err != nil {
		return nil, err
	}
	if len(points) < minItems {
		return nil, nil
	}
	return &points[0].Price, nil
}

// meanValue returns the arithmetic mean of series over the half-open
// [from, to), or nil when the range is empty.
func (h *handlers) meanValue(ctx context.Context, series string, from, to time.Time) (*float64, error) {
	points, err := h.store.Range(ctx, series, from, to.Add(-time.Millisecond))
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	var sum float64
	for _, p := range points {
		sum += p.Price
	}
	avg := sum / float64(len(points))
	return &avg, nil
}

func (h *handlers) serverError(w http.ResponseWriter, err error) {
	h.log.Error().Err(err).Msg("request failed")
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func msParam(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %v", key, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
