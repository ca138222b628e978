package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/tambola-backend/internal/config"
	"github.com/DoyleJ11/tambola-backend/internal/feed"
	"github.com/DoyleJ11/tambola-backend/internal/feed/archive"
	"github.com/DoyleJ11/tambola-backend/internal/feed/broker"
	"github.com/DoyleJ11/tambola-backend/internal/httpapi"
	"github.com/DoyleJ11/tambola-backend/internal/hub"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	addr := pflag.String("addr", "", "listen address, overrides ADDR")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.LogDev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	return zc.Build()
}

type namedSink interface {
	feed.Sink
	io.Closer
}

func openSinks(cfg config.Config, log *zap.Logger) ([]namedSink, error) {
	var sinks []namedSink
	if cfg.ArchiveDSN != "" {
		st, err := archive.Open(cfg.ArchiveDSN)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, st)
		log.Info("results archive enabled")
	}
	if cfg.AMQPURL != "" {
		p, err := broker.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			closeSinks(sinks, log)
			return nil, err
		}
		sinks = append(sinks, p)
		log.Info("results broker enabled", zap.String("exchange", cfg.AMQPExchange))
	}
	return sinks, nil
}

func closeSinks(sinks []namedSink, log *zap.Logger) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Warn("close sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	sinks, err := openSinks(cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks(sinks, log)

	feedSinks := make([]feed.Sink, len(sinks))
	for i, s := range sinks {
		feedSinks[i] = s
	}
	results := feed.NewDispatcher(log, 256, feedSinks...)

	// The hub and the feed outlive the signal context so rooms can be
	// stopped and their last results flushed after the listener closes.
	h := hub.NewHub(context.Background(), hub.Options{
		Logger:        log,
		Results:       results,
		Limits:        cfg.Limits(),
		IdleTTL:       cfg.RoomIdleTTL,
		SweepInterval: cfg.SweepInterval,
	})
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:            h,
			Logger:         log,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return results.Run(feedCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		h.Shutdown()
		stopFeed()
		return err
	})
	return g.Wait()
}
