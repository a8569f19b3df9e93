package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"incomed/internal/config"
	"incomed/internal/engine"
	"incomed/internal/events"
	"incomed/internal/httpapi"
	"incomed/internal/log"
	"incomed/internal/metrics"
	"incomed/internal/settings"
	"incomed/internal/storage"
	"incomed/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "incomed:", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := log.New(log.Config{Level: log.LevelFromEnv(cfg.LogLevel)})
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	store, err := settings.NewStore(ctx, repo, logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Event stream is optional: without AMQP the services run with a
	// no-op publisher.
	var pub events.Publisher = events.Nop{}
	if cfg.EventsEnabled() {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, event stream disabled", log.FieldError, err)
		} else {
			pub = amqpPub
			defer amqpPub.Close()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	eng := engine.New(repo, store, pub, m, logger)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	coord := syncer.New(repo, store, pub, m, logger)
	coord.Start(ctx)
	defer coord.Stop()

	srv := httpapi.NewServer(":"+cfg.Port, eng, coord, store, reg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("incomed running", "port", cfg.Port)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
