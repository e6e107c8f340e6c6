// The importer-ws binary serves the read-only price API backed by the
// same time-series store the importer writes to.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"emarket/config"
	"emarket/internal/api"
	"emarket/internal/logger"
	"emarket/internal/store/redists"
	"emarket/internal/timebucket"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadWS(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.Init("importer-ws", cfg.LogLevel)
	log.Info().Str("version", version).Int("port", cfg.Port).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := redists.New(cfg.RedisURL, logger.Named(log, "redis"))
	if err != nil {
		log.Error().Err(err).Msg("store unavailable")
		os.Exit(1)
	}
	defer store.Close()

	buckets, err := timebucket.ForZone(timebucket.DefaultZone)
	if err != nil {
		log.Error().Err(err).Msg("load time zone")
		os.Exit(1)
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: api.New(api.Config{
			Store:   store,
			Buckets: buckets,
			Version: version,
			Log:     logger.Named(log, "http"),
		}),
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
	log.Info().Msg("importer-ws stopped")
}
