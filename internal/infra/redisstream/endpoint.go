package redisstream

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/emrekoca/audit-relay/internal/domain"
	"github.com/emrekoca/audit-relay/internal/endpoint"
)

const maxStreamLength = 100_000

// NewFactory returns an endpoint factory for the redis scheme. URIs take the
// form redis:<stream>; each resolved endpoint appends exchange bodies to that
// stream with XADD.
func NewFactory(client *redis.Client) (endpoint.Factory, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return func(uri string) (endpoint.Endpoint, error) {
		stream, err := ParseStreamURI(uri)
		if err != nil {
			return nil, err
		}

		return &Endpoint{uri: uri, stream: stream, client: client}, nil
	}, nil
}

// ParseStreamURI extracts the stream key from a redis:<stream> URI.
func ParseStreamURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "redis:")
	if !ok {
		return "", fmt.Errorf("%w: uri %q is not a redis uri", domain.ErrConfiguration, uri)
	}

	stream := strings.TrimPrefix(rest, "//")
	if strings.TrimSpace(stream) == "" {
		return "", fmt.Errorf("%w: uri %q is missing a stream key", domain.ErrConfiguration, uri)
	}

	return stream, nil
}

type Endpoint struct {
	uri    string
	stream string
	client *redis.Client
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return &Producer{stream: e.stream, client: e.client}, nil
}

// Producer appends exchange bodies to a redis stream. Streams are capped so a
// slow reader cannot grow the key without bound.
type Producer struct {
	stream  string
	client  *redis.Client
	started atomic.Bool
}

func (p *Producer) NewExchange() *domain.Exchange {
	return domain.NewExchange()
}

func (p *Producer) Start(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to start redis stream producer for %q: %w", p.stream, err)
	}

	p.started.Store(true)
	return nil
}

func (p *Producer) Stop(ctx context.Context) error {
	p.started.Store(false)
	return nil
}

func (p *Producer) Send(ctx context.Context, ex *domain.Exchange) error {
	if !p.started.Load() {
		return fmt.Errorf("redis stream producer for %q is not started", p.stream)
	}
	if ex == nil {
		return fmt.Errorf("exchange is required")
	}

	body, err := endpoint.EncodeBody(ex.Body())
	if err != nil {
		return fmt.Errorf("failed to encode exchange body: %w", err)
	}

	values := map[string]any{
		"exchangeId": ex.ID(),
		"body":       string(body),
	}
	if correlationID := ex.StringProperty(domain.PropertyCorrelationID); correlationID != "" {
		values["correlationId"] = correlationID
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: maxStreamLength,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return &endpoint.SendError{
			Message:   fmt.Sprintf("failed to append to stream %q", p.stream),
			Transient: true,
			Cause:     err,
		}
	}

	return nil
}
