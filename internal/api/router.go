// Package api serves the read-only price API: raw series over a time
// window, the multi-horizon summary, the current hour's price, and
// liveness plus Prometheus exposition.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"emarket/internal/model"
	"emarket/internal/timebucket"
)

// requestTimeout bounds each handler's wall clock.
const requestTimeout = 10 * time.Second

// Config assembles the API handler.
type Config struct {
	Store   model.SeriesStore
	Buckets *timebucket.Bucketer
	Version string
	Log     zerolog.Logger
	Now     func() time.Time // nil selects time.Now
}

// New returns the HTTP handler for cfg: a chi router with request
// IDs, access logging, Prometheus instrumentation, a 10s timeout and
// permissive CORS around the read endpoints.
func New(cfg Config) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	reg := prometheus.NewRegistry()
	m := newHTTPMetrics(reg)
	h := &handlers{
		store:   cfg.Store,
		buckets: cfg.Buckets,
		version: cfg.Version,
		log:     cfg.Log,
		now:     cfg.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog(cfg.Log))
	r.Use(m.instrument)
	r.Use(recoverer(cfg.Log))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/live", h.live)
	r.Get("/prices", h.prices)
	r.Get("/summary", h.summary)
	r.Get("/np/now", h.npNow)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}

func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

// recoverer maps handler panics to the generic 500 body; the detail
// only goes to the log.
func recoverer(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
