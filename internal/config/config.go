package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every value the binaries need. It is loaded once at process
// start; components receive the parts they use through their own config
// structs and never read the environment at call time.
type Config struct {
	AppEnv  string `env:"APP_ENV,default=dev"`
	AppName string `env:"APP_NAME,default=e-api"`

	HttpListenAddr     string        `env:"HTTP_LISTEN_ADDR,default=:8000"`
	HttpRequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=30s"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	MpesaConsumerKey     string        `env:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret  string        `env:"MPESA_CONSUMER_SECRET"`
	MpesaEnvironment     string        `env:"MPESA_ENVIRONMENT,default=sandbox"`
	MpesaHost            string        `env:"MPESA_HOST,default=safaricom.co.ke"`
	MpesaBaseURL         string        `env:"MPESA_BASE_URL"`
	MpesaPassKey         string        `env:"MPESA_PASS_KEY"`
	MpesaShortCode       string        `env:"MPESA_SHORT_CODE"`
	MpesaCallbackURL     string        `env:"MPESA_CALLBACK_URL"`
	MpesaTimeout         time.Duration `env:"MPESA_TIMEOUT,default=15s"`
	MpesaTokenRetries    int           `env:"MPESA_TOKEN_RETRIES,default=2"`
	MpesaTokenRetryDelay time.Duration `env:"MPESA_TOKEN_RETRY_DELAY,default=200ms"`

	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`

	PaymentInflightTTL     time.Duration `env:"PAYMENT_INFLIGHT_TTL,default=2m"`
	PaymentRestockOnReject bool          `env:"PAYMENT_RESTOCK_ON_REJECT,default=false"`

	OrphanQueueName              string        `env:"ORPHAN_QUEUE_NAME,default=callbacks:orphan"`
	OrphanQueueGroup             string        `env:"ORPHAN_QUEUE_GROUP,default=reconciler"`
	OrphanQueueConsumer          string        `env:"ORPHAN_QUEUE_CONSUMER"`
	OrphanQueueMaxRetries        int           `env:"ORPHAN_QUEUE_MAX_RETRIES,default=5"`
	OrphanQueueVisibilityTimeout time.Duration `env:"ORPHAN_QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	OrphanQueuePollInterval      time.Duration `env:"ORPHAN_QUEUE_POLL_INTERVAL,default=1s"`
	OrphanQueueMaxLen            int64         `env:"ORPHAN_QUEUE_MAX_LEN,default=100000"`

	ReconcilerConsumers int `env:"RECONCILER_CONSUMERS,default=2"`
	ReconcilerWorkers   int `env:"RECONCILER_WORKERS,default=8"`

	PromNamespace  string `env:"PROM_NAMESPACE,default=eapi"`
	PromListenAddr string `env:"PROM_LISTEN_ADDR,default=:9100"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// MpesaConfigured reports whether the gateway credentials are present.
func (c *Config) MpesaConfigured() bool {
	return c.MpesaConsumerKey != "" && c.MpesaConsumerSecret != "" &&
		c.MpesaPassKey != "" && c.MpesaShortCode != "" && c.MpesaCallbackURL != ""
}
