package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ericomondi/e-api/internal/config"
	gateway "github.com/ericomondi/e-api/internal/gateways"
	"github.com/ericomondi/e-api/internal/handlers"
	"github.com/ericomondi/e-api/internal/queue"
	"github.com/ericomondi/e-api/internal/repository"
	"github.com/ericomondi/e-api/internal/services"
	xhttp "github.com/ericomondi/e-api/pkg/http"
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
	logger.Info("starting api", "version", version, "commit", commit, "date", date, "env", cfg.AppEnv)

	if !cfg.MpesaConfigured() {
		logger.Error("M-Pesa credentials are not configured")
		return
	}
	if cfg.AuthJWTSecret == "" {
		logger.Error("AUTH_JWT_SECRET is not configured")
		return
	}

	opts := xhttp.DefaultOptions()
	opts.Name = cfg.AppName
	opts.ReadBufferSize = 1024 * 16
	opts.WriteBufferSize = 1024 * 16
	s := xhttp.NewServer(opts)
	s.Use(xhttp.CompressMiddleware(opts.CompressionLevel))
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	// the gateway must always get its 200, however slow the ledger is
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout, handlers.CallbackPath))

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
		ClientName: cfg.AppName,
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	client, err := gateway.NewClient(&gateway.Config{
		ConsumerKey:     cfg.MpesaConsumerKey,
		ConsumerSecret:  cfg.MpesaConsumerSecret,
		Environment:     cfg.MpesaEnvironment,
		Host:            cfg.MpesaHost,
		BaseURL:         cfg.MpesaBaseURL,
		PassKey:         cfg.MpesaPassKey,
		ShortCode:       cfg.MpesaShortCode,
		CallbackURL:     cfg.MpesaCallbackURL,
		Timeout:         cfg.MpesaTimeout,
		TokenRetries:    cfg.MpesaTokenRetries,
		TokenRetryDelay: cfg.MpesaTokenRetryDelay,
	})
	if err != nil {
		logger.Error("failed to create gateway client", "error", err)
		return
	}

	orphanQ, err := queue.NewQueue(context.Background(), redisAdap, queue.QueueConfig{
		Name:              cfg.OrphanQueueName,
		ConsumerGroup:     cfg.OrphanQueueGroup,
		MaxRetries:        cfg.OrphanQueueMaxRetries,
		VisibilityTimeout: cfg.OrphanQueueVisibilityTimeout,
		PollInterval:      cfg.OrphanQueuePollInterval,
		MaxLen:            cfg.OrphanQueueMaxLen,
		EnableDLQ:         true,
	})
	if err != nil {
		logger.Error("failed creating orphan queue", "error", err)
		return
	}

	transactionRepo := repository.NewTransactionRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	svcOpts := []services.Option{services.WithOrphanParker(services.NewOrphanQueue(orphanQ))}
	if cfg.PaymentInflightTTL > 0 {
		guard, err := services.NewInflightGuard(redisAdap, cfg.PaymentInflightTTL)
		if err != nil {
			logger.Error("failed creating in-flight guard", "error", err)
			return
		}
		svcOpts = append(svcOpts, services.WithInflightGuard(guard))
	}
	if cfg.PaymentRestockOnReject {
		svcOpts = append(svcOpts, services.WithInventoryHook(orderRepo))
	}

	// services
	paymentService := services.NewPaymentService(transactionRepo, orderRepo, client, svcOpts...)
	healthService := services.NewHealthService(db, redisAdap)

	// handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group(handlers.PaymentPrefix)
	handlers.RegisterPaymentRoutes(g, paymentHandler, handlers.AuthMiddleware(cfg.AuthJWTSecret))
	handlers.RegisterHealthRoutes(s.Router, healthHandler)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.PromListenAddr, "/metrics")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
	_ = orphanQ.Stop(cfg.HttpRequestTimeout)
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
