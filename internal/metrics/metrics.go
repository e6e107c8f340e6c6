// Package metrics holds the importer's Prometheus collectors and the
// standalone metrics/health listener exposed on METRICS_PORT.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"emarket/internal/model"
)

// Metrics holds the importer pipeline collectors.
type Metrics struct {
	WindowsFetched prometheus.Counter
	PointsImported prometheus.Counter
	PointsSaved    prometheus.Counter
	BucketWrites   *prometheus.CounterVec // labels: series
	WatermarkAge   prometheus.Gauge
}

// NewMetrics registers the pipeline collectors with reg and returns
// them. A nil reg selects the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		WindowsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_windows_fetched_total",
			Help: "Upstream windows fetched",
		}),
		PointsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_points_imported_total",
			Help: "Hourly points accepted from upstream",
		}),
		PointsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_points_saved_total",
			Help: "Hourly points written to the store",
		}),
		BucketWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importer_bucket_writes_total",
			Help: "Aggregated bucket averages written (by destination series)",
		}, []string{"series"}),
		WatermarkAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "importer_watermark_age_seconds",
			Help: "Wall-clock age of the ingest high-water mark (negative while day-ahead data runs ahead of now)",
		}),
	}

	reg.MustRegister(
		m.WindowsFetched,
		m.PointsImported,
		m.PointsSaved,
		m.BucketWrites,
		m.WatermarkAge,
	)

	return m
}

// HealthStatus represents importer health, served on /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool
	UpstreamOK     bool
	Watermark      time.Time

	// Liveness probe results
	RedisLatencyMs float64
	LastCheckAt    time.Time
	StartedAt      time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetUpstreamOK(v bool) {
	h.mu.Lock()
	h.UpstreamOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetWatermark(t time.Time) {
	h.mu.Lock()
	h.Watermark = t
	h.mu.Unlock()
}

// CheckRedis pings the store and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, store model.Pinger) {
	start := time.Now()
	err := store.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker re-probes the store periodically until ctx is
// cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, store model.Pinger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckRedis(probeCtx, store)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected || !h.UpstreamOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected {
		overallStatus = "unhealthy"
	}

	watermark := ""
	watermarkAge := ""
	if !h.Watermark.IsZero() {
		watermark = h.Watermark.Format(time.RFC3339)
		watermarkAge = time.Since(h.Watermark).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		UpstreamOK     bool    `json:"upstream_ok"`
		Watermark      string  `json:"watermark"`
		WatermarkAge   string  `json:"watermark_age"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		UpstreamOK:     h.UpstreamOK,
		Watermark:      watermark,
		WatermarkAge:   watermarkAge,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  zerolog.Logger
}

// NewServer creates a metrics and health server. A nil gatherer
// selects the default one.
func NewServer(addr string, health *HealthStatus, g prometheus.Gatherer, log zerolog.Logger) *Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
		log:  log,
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
