package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/maumercado/task-queue-go/internal/api"
	"github.com/maumercado/task-queue-go/internal/config"
	"github.com/maumercado/task-queue-go/internal/dispatch"
	"github.com/maumercado/task-queue-go/internal/events"
	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/registry"
	"github.com/maumercado/task-queue-go/internal/rpcfabric"
	"github.com/maumercado/task-queue-go/internal/scanner"
	"github.com/maumercado/task-queue-go/internal/statemachine"
	"github.com/maumercado/task-queue-go/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("Starting supervisor...")

	pool, err := newPostgresPool(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	defer pool.Close()
	st := store.New(pool)

	redisClient := newRedisClient(cfg)
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}()

	reg, err := newRegistry(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize registry")
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close registry")
		}
	}()

	rpc := rpcfabric.NewDestination(cfg.RPC.AppID, cfg.RPC.Secret)
	router := dispatch.NewRouter(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	dispatcher := dispatch.NewDispatcher(st, reg, router, rpc)

	publisher := events.NewRedisPubSub(redisClient)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()

	// Driver depends on Dispatcher; Dispatcher reports exhausted-retry
	// failures back through Driver. Construct Dispatcher first, then
	// Driver, then wire Driver back into Dispatcher.
	driver := statemachine.NewDriver(st, dispatcher, publisher, reg)
	dispatcher.SetDriver(driver)

	triggeringScanner := scanner.NewTriggeringScanner(st, driver, redisClient, cfg.Scanner.TriggeringInterval, cfg.Scanner.TriggeringBatch)
	waitingScanner := scanner.NewWaitingScanner(st, driver, redisClient, cfg.Scanner.WaitingInterval, cfg.Scanner.WaitingStaleFor, cfg.Scanner.WaitingBatch)
	runningScanner := scanner.NewRunningScanner(st, driver, reg, redisClient, cfg.Scanner.RunningInterval, cfg.Scanner.RunningStaleFor, cfg.Scanner.RunningBatch)

	server := api.NewServer(cfg, st, driver, reg, rpc, publisher)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server.Start(ctx)
	go triggeringScanner.Run(ctx)
	go waitingScanner.Run(ctx)
	go runningScanner.Run(ctx)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("supervisor HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down supervisor...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	triggeringScanner.Stop()
	waitingScanner.Stop()
	runningScanner.Stop()
	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Supervisor stopped")
}

func newPostgresPool(cfg *config.Config) (*pgxpool.Pool, error) {
	pgCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pgCfg.MaxConns = cfg.Postgres.MaxConns
	pgCfg.MinConns = cfg.Postgres.MinConns
	pgCfg.MaxConnLifetime = cfg.Postgres.MaxConnLifetime
	pgCfg.MaxConnIdleTime = cfg.Postgres.MaxConnIdleTime

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func newRedisClient(cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	return client
}

func newRegistry(cfg *config.Config, redisClient *redis.Client) (registry.Registry, error) {
	if cfg.Registry.Backend == "consul" {
		consulCfg := consulapi.DefaultConfig()
		consulCfg.Address = cfg.Registry.ConsulAddr
		client, err := consulapi.NewClient(consulCfg)
		if err != nil {
			return nil, fmt.Errorf("create consul client: %w", err)
		}
		return registry.NewConsulRegistry(client, cfg.Registry.TTL), nil
	}
	return registry.NewRedisRegistry(redisClient, cfg.Registry.TTL), nil
}
