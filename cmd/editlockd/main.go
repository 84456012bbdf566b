package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-editlock/v1/adapter"
	"github.com/mirkobrombin/go-editlock/v1/broadcast"
	"github.com/mirkobrombin/go-editlock/v1/cache"
	"github.com/mirkobrombin/go-editlock/v1/config"
	"github.com/mirkobrombin/go-editlock/v1/gateway"
	"github.com/mirkobrombin/go-editlock/v1/lock"
	"github.com/mirkobrombin/go-editlock/v1/metrics"
	"github.com/mirkobrombin/go-editlock/v1/relay"
	"github.com/mirkobrombin/go-editlock/v1/session"
	"github.com/mirkobrombin/go-editlock/v1/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	level, _ := cfg.Level()
	opts := &slog.HandlerOptions{Level: level}
	var logger *slog.Logger
	if cfg.Production() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("editlockd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting editlockd", "env", cfg.Env, "addr", cfg.HTTPAddr, "room", cfg.Room)

	if cfg.TraceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedFile != "" {
		if err := seed(ctx, store, cfg.SeedFile, logger); err != nil {
			return err
		}
	}

	snapshots, err := cache.NewRistretto[gateway.Snapshot[adapter.Document]](cache.WithMaxBytes(cfg.CacheMaxBytes))
	if err != nil {
		return fmt.Errorf("snapshot cache: %w", err)
	}
	defer snapshots.Close()

	hub := broadcast.NewHub(broadcast.WithBuffer(cfg.SessionBuffer), broadcast.WithLogger(logger))
	locks := lock.NewManager(lock.NewStore(),
		lock.WithPublisher(hub),
		lock.WithRoom(cfg.Room),
		lock.WithLeaseDuration(cfg.LeaseDuration),
		lock.WithMaxLease(cfg.MaxLease),
		lock.WithSweepInterval(cfg.SweepInterval),
		lock.WithLogger(logger),
	)
	defer locks.Close()

	gw := gateway.New[adapter.Document](store, locks,
		gateway.WithCache[adapter.Document](snapshots, cfg.CacheTTL),
		gateway.WithLogger[adapter.Document](logger),
	)
	registry := session.NewRegistry(hub, locks, session.WithLogger(logger))

	promReg := metrics.NewRegistry()
	metrics.RegisterMetrics(promReg)

	streams := transport.NewStreams(registry, cfg.Room, logger)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           transport.NewHandler(transport.NewAPI(gw, logger), streams, promReg, logger),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	server.RegisterOnShutdown(streams.Close)

	g, gctx := errgroup.WithContext(ctx)

	sinks, err := openSinks(cfg, logger)
	if err != nil {
		return err
	}
	for _, sink := range sinks {
		r := relay.New(hub, cfg.Room, sink, relay.WithLogger(logger))
		g.Go(func() error { return r.Run(gctx) })
	}
	defer func() {
		for _, sink := range sinks {
			if err := sink.Close(); err != nil {
				logger.Warn("close relay sink", "error", err)
			}
		}
	}()

	g.Go(func() error {
		logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (adapter.Store[adapter.Document], func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory record store")
		return adapter.NewInMemoryStore[adapter.Document](), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
	}
	return adapter.NewRedisStore[adapter.Document](client), closeFn, nil
}

func seed(ctx context.Context, store adapter.Store[adapter.Document], path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	n, err := adapter.Seed[adapter.Document](ctx, store, f)
	if err != nil {
		return err
	}
	logger.Info("seeded records", "count", n, "file", path)
	return nil
}

func openSinks(cfg *config.Config, logger *slog.Logger) ([]relay.Sink, error) {
	var sinks []relay.Sink
	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL, nats.Name("editlockd"))
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		sinks = append(sinks, &natsSink{NATSSink: relay.NewNATSSink(conn, cfg.NATSSubject), conn: conn})
		logger.Info("relaying events to nats", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := relay.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, nil)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, fmt.Errorf("connect to kafka: %w", err)
		}
		sinks = append(sinks, sink)
		logger.Info("relaying events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	return sinks, nil
}

// natsSink closes the connection it was given once the sink is flushed.
type natsSink struct {
	*relay.NATSSink
	conn *nats.Conn
}

func (s *natsSink) Close() error {
	err := s.NATSSink.Close()
	s.conn.Close()
	return err
}
