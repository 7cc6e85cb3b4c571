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
	"github.com/redis/go-redis/v9"

	"github.com/maumercado/task-queue-go/internal/api"
	"github.com/maumercado/task-queue-go/internal/config"
	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/registry"
	"github.com/maumercado/task-queue-go/internal/rpcfabric"
	"github.com/maumercado/task-queue-go/internal/timingwheel"
	"github.com/maumercado/task-queue-go/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("Starting worker...")

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
	supervisorProxy := rpcfabric.NewDiscoveryProxy(rpc, reg, cfg.Worker.Group, model.RoleSupervisor)

	exec := worker.NewExecutor(map[string]worker.Handler{
		"echo":    echoHandler,
		"sleep":   sleepHandler,
		"compute": computeHandler,
		"fail":    failHandler,
	})

	wheel := timingwheel.New(time.Duration(cfg.TimingWheel.TickMs)*time.Millisecond, cfg.TimingWheel.RingSize)

	endpoint := model.ServerEndpoint{
		Group: cfg.Worker.Group,
		Host:  cfg.Server.Host,
		Port:  cfg.Server.Port,
		Role:  model.RoleWorker,
	}

	pool := worker.NewPool(worker.Config{
		ID:            cfg.Worker.ID,
		Endpoint:      endpoint,
		Concurrency:   cfg.Worker.Concurrency,
		RegisterEvery: cfg.Worker.RegisterEvery,
	}, wheel, exec, reg, supervisorProxy)

	server := api.NewWorkerServer(cfg, pool)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker pool")
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("worker RPC server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	if err := pool.Stop(ctx, cfg.Worker.ShutdownTimeout); err != nil {
		log.Error().Err(err).Msg("Worker pool shutdown error")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Worker stopped")
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
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

// Example task handlers, registered above by name for jobs whose Handler
// field references them.

func echoHandler(ctx context.Context, req worker.ReceivedTask) (string, error) {
	logger.Info().Int64("task_id", req.TaskID).Str("param", req.Param).Msg("echo handler processing task")
	return req.Param, nil
}

func sleepHandler(ctx context.Context, req worker.ReceivedTask) (string, error) {
	duration := 1 * time.Second
	logger.Info().Int64("task_id", req.TaskID).Dur("duration", duration).Msg("sleep handler processing task")
	select {
	case <-time.After(duration):
		return fmt.Sprintf("slept for %s", duration), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func computeHandler(ctx context.Context, req worker.ReceivedTask) (string, error) {
	iterations := 1000000
	logger.Info().Int64("task_id", req.TaskID).Int("iterations", iterations).Msg("compute handler processing task")
	sum := 0
	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
			sum += i
		}
	}
	return fmt.Sprintf("%d", sum), nil
}

func failHandler(ctx context.Context, req worker.ReceivedTask) (string, error) {
	logger.Info().Int64("task_id", req.TaskID).Msg("fail handler processing task")
	return "", fmt.Errorf("intentional failure for testing")
}
