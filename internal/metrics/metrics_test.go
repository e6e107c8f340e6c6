package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.WindowsFetched.Inc()
	m.PointsImported.Add(24)
	m.BucketWrites.WithLabelValues("np_lt_d").Inc()
	m.WatermarkAge.Set(-3600)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"importer_windows_fetched_total",
		"importer_points_imported_total",
		"importer_bucket_writes_total",
		"importer_watermark_age_seconds",
	} {
		if !names[want] {
			t.Errorf("expected metric %s to be registered", want)
		}
	}
}

func TestHealthzStatusCodes(t *testing.T) {
	h := NewHealthStatus()
	h.SetRedisConnected(true)
	h.SetUpstreamOK(true)
	h.SetWatermark(time.Now().Add(24 * time.Hour))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %q", body.Status)
	}

	h.SetUpstreamOK(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when degraded, got %d", rec.Code)
	}

	h.SetRedisConnected(false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %q", body.Status)
	}
}

func TestCheckRedisRecordsConnectivity(t *testing.T) {
	h := NewHealthStatus()

	h.CheckRedis(context.Background(), fakePinger{})
	if !h.RedisConnected {
		t.Error("expected redis connected after successful ping")
	}
	if h.LastCheckAt.IsZero() {
		t.Error("expected last check time to be recorded")
	}

	h.CheckRedis(context.Background(), fakePinger{err: errors.New("down")})
	if h.RedisConnected {
		t.Error("expected redis disconnected after failed ping")
	}
}
