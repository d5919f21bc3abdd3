package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/redis/rueidis"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/dlq/stream"
	"github.com/xraph/courier/internal/config"
	"github.com/xraph/courier/internal/logger"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	memqueue "github.com/xraph/courier/queue/memory"
	redisqueue "github.com/xraph/courier/queue/redis"
	"github.com/xraph/courier/store"
	memstore "github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/mongo"
	"github.com/xraph/courier/store/postgres"
)

type globalFlags struct {
	store    string
	logLevel string
}

// app holds a wired Courier and the resources to release on shutdown.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	courier  *courier.Courier
	closers  []func() error
}

func loadConfig(flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if flags.store != "" {
		cfg.Store = flags.store
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	return cfg, log, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return postgres.Open(cfg.PostgresDSN)
	case config.StoreMongo:
		return mongo.Open(cfg.MongoURI, mongo.WithDatabasePrefix(cfg.MongoPrefix))
	default:
		return memstore.New(), nil
	}
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   log,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	a.closers = append(a.closers, s.Close)
	if err := s.Ping(ctx); err != nil {
		_ = a.close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.Store, err)
	}

	opts := []courier.Option{
		courier.WithStore(s),
		courier.WithLogger(log),
		courier.WithConcurrency(cfg.Concurrency),
		courier.WithPollInterval(cfg.PollInterval),
		courier.WithRequestTimeout(cfg.RequestTimeout),
		courier.WithLeaseDuration(cfg.LeaseDuration),
		courier.WithReconcileInterval(cfg.ReconcileInterval),
		courier.WithReconcileGrace(cfg.ReconcileGrace),
		courier.WithShutdownTimeout(cfg.ShutdownTimeout),
		courier.WithAllowInsecureURLs(cfg.AllowInsecureURLs),
		courier.WithMetrics(observability.NewMetrics(a.registry)),
		courier.WithTracer(observability.NewTracer()),
		courier.WithNotifier(dlq.LogNotifier{Logger: log}),
	}

	var q queue.Queue
	if cfg.Store == config.StoreMemory {
		q = memqueue.New()
	} else {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = a.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		q = redisqueue.New(rdb)

		if cfg.DeadLetterStream {
			client, err := rueidis.NewClient(rueidis.ClientOption{
				InitAddress: []string{cfg.RedisAddr},
				Password:    cfg.RedisPassword,
				SelectDB:    cfg.RedisDB,
			})
			if err != nil {
				_ = a.close()
				return nil, fmt.Errorf("dial dead-letter stream: %w", err)
			}
			pub := stream.New(client)
			a.closers = append(a.closers, func() error { pub.Close(); return nil })
			opts = append(opts, courier.WithNotifier(pub))
		}
	}
	opts = append(opts, courier.WithQueue(q))

	c, err := courier.New(opts...)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	a.courier = c
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
