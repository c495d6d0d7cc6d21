package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/elmanelman/sql-judge/config"
	"github.com/elmanelman/sql-judge/engine"
	"github.com/elmanelman/sql-judge/judge"
	"github.com/elmanelman/sql-judge/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var configPath string

// app holds the dependencies every command is built from.
type app struct {
	cfg         config.JudgeConfig
	logger      *zap.Logger
	store       *registry.Store
	redis       *redis.Client
	checker     *judge.Checker
	provisioner *judge.Provisioner
}

func setup(ctx context.Context) (*app, error) {
	cfg := config.Default()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, err
	}

	logger, err := cfg.LoggerConfig.Build()
	if err != nil {
		return nil, err
	}

	store, err := registry.Open(ctx, cfg.Registry.DBMS, cfg.Registry.DSN, cfg.Registry.TablePrefix)
	if err != nil {
		return nil, err
	}
	logger.Info("registry connected", zap.String("dbms", cfg.Registry.DBMS))

	a := &app{cfg: cfg, logger: logger, store: store}

	var locker judge.Locker = judge.NewLocalLocker()
	if cfg.Lock.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		locker = judge.ChainLockers(
			locker,
			judge.NewRedisLocker(a.redis, cfg.Lock.KeyPrefix, cfg.Lock.TTL(), cfg.Lock.Retry()),
		)
		logger.Info("distributed sandbox lock enabled", zap.String("redis_addr", cfg.Lock.RedisAddr))
	}

	metrics := judge.NewMetrics(prometheus.DefaultRegisterer)
	connector := engine.NewConnector(cfg.ConnectionStrings)
	a.provisioner = judge.NewProvisioner(logger, store, connector, locker, metrics)
	a.checker = judge.NewChecker(logger, store, a.provisioner, metrics, cfg.Concurrency)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close registry", zap.String("error_message", err.Error()))
	}
	_ = a.logger.Sync()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
