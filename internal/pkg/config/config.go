package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds configuration shared by the webhook and worker processes.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	RedisAddr   string `env:"REDIS_ADDR,required,notEmpty"`
	PostgresURL string `env:"POSTGRES_URL,required,notEmpty"`

	WebhookServerAddr string   `env:"WEBHOOK_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr   string   `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	MaxPayloadSize    int64    `env:"MAX_PAYLOAD_SIZE_BYTES" envDefault:"1048576"` // 1MB
	RealtimeOrigins   []string `env:"REALTIME_ALLOWED_ORIGINS" envSeparator:","`

	LockTTL            time.Duration `env:"LOCK_TTL" envDefault:"5s"`
	InFlightTTL        time.Duration `env:"IN_FLIGHT_TTL" envDefault:"30s"`
	AuthCacheTTL       time.Duration `env:"AUTH_CACHE_TTL" envDefault:"24h"`
	LockRetryAttempts  int           `env:"LOCK_RETRY_ATTEMPTS" envDefault:"3"`
	LockRetryBaseDelay time.Duration `env:"LOCK_RETRY_BASE_DELAY" envDefault:"100ms"`
	LockRetryMaxDelay  time.Duration `env:"LOCK_RETRY_MAX_DELAY" envDefault:"1s"`

	InboundStream    string        `env:"INBOUND_STREAM" envDefault:"inbound_events"`
	InboundDLQStream string        `env:"INBOUND_DLQ_STREAM" envDefault:"inbound_events_dlq"`
	ConsumerGroup    string        `env:"CONSUMER_GROUP" envDefault:"inbound-processors"`
	WorkerBatchSize  int           `env:"WORKER_BATCH_SIZE" envDefault:"100"`
	WorkerInterval   time.Duration `env:"WORKER_INTERVAL" envDefault:"1s"`
	MaxRequeues      int           `env:"MAX_REQUEUES" envDefault:"5"`
	ClaimMinIdle     time.Duration `env:"CLAIM_MIN_IDLE" envDefault:"60s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.LockTTL <= 0:
		return fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
	case c.InFlightTTL <= 0:
		return fmt.Errorf("IN_FLIGHT_TTL must be positive, got %s", c.InFlightTTL)
	case c.AuthCacheTTL <= 0:
		return fmt.Errorf("AUTH_CACHE_TTL must be positive, got %s", c.AuthCacheTTL)
	case c.MaxRequeues < 0:
		return fmt.Errorf("MAX_REQUEUES must not be negative, got %d", c.MaxRequeues)
	case c.ClaimMinIdle <= c.InFlightTTL:
		return fmt.Errorf("CLAIM_MIN_IDLE (%s) must exceed IN_FLIGHT_TTL (%s)", c.ClaimMinIdle, c.InFlightTTL)
	case c.InboundStream == c.InboundDLQStream:
		return fmt.Errorf("INBOUND_DLQ_STREAM must differ from INBOUND_STREAM")
	}
	return nil
}
