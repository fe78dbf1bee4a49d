package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
	"github.com/emrekoca/audit-relay/internal/domain"
)

type Config struct {
	AMQPURL           string `env:"AMQP_URL,required=true"`
	SourceQueue       string `env:"SOURCE_QUEUE,default=inbound"`
	DestinationURI    string `env:"DESTINATION_URI,required=true"`
	AuditEndpointURI  string `env:"AUDIT_ENDPOINT_URI,required=true"`
	AuditEvents       string `env:"AUDIT_EVENTS"`
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=8"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// AuditKinds parses AUDIT_EVENTS into event kinds. An empty value means
// every kind is audited.
func (c *Config) AuditKinds() ([]domain.Kind, error) {
	if c == nil || strings.TrimSpace(c.AuditEvents) == "" {
		return nil, nil
	}

	parts := strings.Split(c.AuditEvents, ",")
	kinds := make([]domain.Kind, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		kind, err := domain.ParseKindFromString(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
