// The importer keeps the hourly day-ahead price series current with
// the ENTSO-E transparency platform and maintains the daily and
// monthly aggregates. Three long-lived tasks cooperate over bounded
// channels: ingest pulls windows from upstream, the saver drains
// points into the store, the aggregator catches buckets up to each
// high-water mark.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"emarket/config"
	"emarket/internal/aggregate"
	"emarket/internal/entsoe"
	"emarket/internal/ingest"
	"emarket/internal/logger"
	"emarket/internal/metrics"
	"emarket/internal/model"
	"emarket/internal/rategate"
	"emarket/internal/store/redists"
	"emarket/internal/timebucket"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

const (
	channelCap     = 100
	startupTimeout = 15 * time.Second
	probeInterval  = 30 * time.Second
)

func main() {
	cfg, err := config.LoadImporter(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.Init("importer", cfg.LogLevel)
	log.Info().Str("version", version).Str("domain", cfg.Domain).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := redists.New(cfg.RedisURL, logger.Named(log, "redis"))
	if err != nil {
		log.Error().Err(err).Msg("store unavailable")
		os.Exit(1)
	}
	defer store.Close()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	for _, name := range []string{model.SeriesHourly, model.SeriesDaily, model.SeriesMonthly} {
		if err := store.EnsureSeries(startCtx, name); err != nil {
			log.Error().Err(err).Str("series", name).Msg("create series failed")
			os.Exit(1)
		}
	}

	client := entsoe.New(entsoe.Config{
		URL:      cfg.EntsoeURL,
		Token:    cfg.Key,
		Document: cfg.Document,
		Domain:   cfg.Domain,
	}, logger.Named(log, "entsoe"))
	if err := client.Live(startCtx); err != nil {
		log.Error().Err(err).Msg("upstream probe failed")
		os.Exit(1)
	}

	buckets, err := timebucket.ForZone(timebucket.DefaultZone)
	if err != nil {
		log.Error().Err(err).Msg("load time zone")
		os.Exit(1)
	}

	m := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	health.SetRedisConnected(true)
	health.SetUpstreamOK(true)
	health.StartLivenessChecker(ctx, store, probeInterval)
	if cfg.MetricsPort != 0 {
		msrv := metrics.NewServer(fmt.Sprintf(":%d", cfg.MetricsPort), health, nil, logger.Named(log, "metrics"))
		msrv.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			msrv.Stop(stopCtx)
		}()
	}

	// Resume from the store: never re-ask upstream for hours we hold.
	start := cfg.StartFrom
	if p, ok, err := store.Last(startCtx, model.SeriesHourly); err != nil {
		log.Error().Err(err).Msg("read hourly watermark")
		os.Exit(1)
	} else if ok && p.At.After(start) {
		start = p.At
	}
	log.Info().Time("start", start).Msg("import cursor established")

	data := make(chan model.Point, channelCap)
	hwm := make(chan time.Time, channelCap)

	imp := ingest.New(ingest.Config{
		Start:  start,
		Loader: client,
		Gate:   rategate.New(),
		Data:   data,
		HWM:    hwm,
		Log:    logger.Named(log, "ingest"),
	})
	imp.OnImported = func(n int) {
		m.WindowsFetched.Inc()
		m.PointsImported.Add(float64(n))
	}
	imp.OnMark = func(t time.Time) {
		m.WatermarkAge.Set(time.Since(t).Seconds())
		health.SetWatermark(t)
	}

	saver := ingest.NewSaver(store, model.SeriesHourly, logger.Named(log, "saver"))
	saver.OnSaved = m.PointsSaved.Inc

	agg := aggregate.New(aggregate.Config{
		Store: store,
		Day:   buckets.DayWindow,
		Month: buckets.MonthWindow,
		Log:   logger.Named(log, "aggregate"),
	})
	agg.OnBucket = func(series string) {
		m.BucketWrites.WithLabelValues(series).Inc()
	}

	// Prime the pump: one mark with the initial cursor lets the
	// aggregator reconcile buckets written before a restart.
	hwm <- start

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(data)
		defer close(hwm)
		return imp.Run(runCtx)
	})
	g.Go(func() error { return saver.Run(data) })
	g.Go(func() error { return agg.Run(hwm) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("pipeline failed")
		os.Exit(1)
	}
	log.Info().Msg("importer stopped")
}
