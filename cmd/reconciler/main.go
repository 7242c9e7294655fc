package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ericomondi/e-api/internal/config"
	"github.com/ericomondi/e-api/internal/queue"
	"github.com/ericomondi/e-api/internal/reconciler"
	"github.com/ericomondi/e-api/internal/repository"
	"github.com/ericomondi/e-api/internal/services"
	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/ericomondi/e-api/pkg/pg"
	"github.com/ericomondi/e-api/pkg/prom"
	"github.com/ericomondi/e-api/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting reconciler", "version", version, "commit", commit, "date", date, "env", cfg.AppEnv)

	readConf := pg.Config{
		User:     cfg.PostgresReadUser,
		Host:     cfg.PostgresReadHost,
		Port:     cfg.PostgresReadPort,
		Password: cfg.PostgresReadPassword,
		Database: cfg.PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     cfg.PostgresWriteUser,
		Host:     cfg.PostgresWriteHost,
		Port:     cfg.PostgresWritePort,
		Password: cfg.PostgresWritePassword,
		Database: cfg.PostgresWriteDatabase,
	}

	db, err := pg.CreateReadWrite(readConf, writeConf, cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName + "-reconciler",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	transactionRepo := repository.NewTransactionRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	// Replays never reach the gateway, so no client is wired here.
	opts := []services.Option{}
	if cfg.PaymentInflightTTL > 0 {
		guard, err := services.NewInflightGuard(redisAdap, cfg.PaymentInflightTTL)
		if err != nil {
			logger.Error("failed creating in-flight guard", "error", err)
			return
		}
		opts = append(opts, services.WithInflightGuard(guard))
	}
	if cfg.PaymentRestockOnReject {
		opts = append(opts, services.WithInventoryHook(orderRepo))
	}
	paymentService := services.NewPaymentService(transactionRepo, orderRepo, nil, opts...)

	consumer := cfg.OrphanQueueConsumer
	if consumer == "" {
		consumer = hostname
	}
	service := reconciler.NewService(redisAdap,
		reconciler.NewOrphanProcessor(paymentService, reconciler.NewReplayLock(redisAdap, reconciler.DefaultReplayLockConfig())),
		reconciler.Config{
			Queue: queue.QueueConfig{
				Name:              cfg.OrphanQueueName,
				ConsumerGroup:     cfg.OrphanQueueGroup,
				ConsumerName:      consumer,
				MaxRetries:        cfg.OrphanQueueMaxRetries,
				VisibilityTimeout: cfg.OrphanQueueVisibilityTimeout,
				PollInterval:      cfg.OrphanQueuePollInterval,
				MaxLen:            cfg.OrphanQueueMaxLen,
				EnableDLQ:         true,
			},
			Consumers: cfg.ReconcilerConsumers,
			Workers:   cfg.ReconcilerWorkers,
		})

	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.PromListenAddr, "/metrics")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := service.Start(); err != nil {
		logger.Error("failed to start reconciler", "error", err)
		return
	}

	<-c
	service.Stop()
	_ = redisAdap.Close()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if path, ok := strings.CutPrefix(v, "--env="); ok {
			if _, err := os.Stat(path); err != nil {
				logger.Error("failed to open the passed env file", "error", err)
				return ""
			}
			return path
		}
	}
	return ""
}
