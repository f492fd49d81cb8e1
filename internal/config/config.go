package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN      string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL      string `env:"RABBITMQ_URL"`
	RedisURL         string `env:"REDIS_URL,required=true"`
	ProviderEndpoint string `env:"PROVIDER_ENDPOINT,required=true"`
	ProviderToken    string `env:"PROVIDER_TOKEN,required=true"`
	GlobalRateCap    int    `env:"GLOBAL_RATE_CAP,default=0"`
	DispatchBatch    int    `env:"DISPATCH_BATCH_SIZE,default=50"`
	MaxSendAttempts  int    `env:"MAX_SEND_ATTEMPTS,default=3"`
	SweepIntervalSec int    `env:"SWEEP_INTERVAL_SEC,default=30"`
	APIPort          int    `env:"API_PORT,default=8080"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
