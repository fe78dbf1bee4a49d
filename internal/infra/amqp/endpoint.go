package amqp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/emrekoca/audit-relay/internal/domain"
	"github.com/emrekoca/audit-relay/internal/endpoint"
)

// NewFactory returns an endpoint factory for the amqp scheme. URIs take the
// form amqp:<queue>; each resolved endpoint publishes to that queue through
// the shared client.
func NewFactory(client *Client) (endpoint.Factory, error) {
	if client == nil {
		return nil, fmt.Errorf("amqp client is required")
	}

	return func(uri string) (endpoint.Endpoint, error) {
		queue, err := ParseQueueURI(uri)
		if err != nil {
			return nil, err
		}

		return &Endpoint{uri: uri, queue: queue, client: client}, nil
	}, nil
}

// ParseQueueURI extracts the queue name from an amqp:<queue> URI.
func ParseQueueURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "amqp:")
	if !ok {
		return "", fmt.Errorf("%w: uri %q is not an amqp uri", domain.ErrConfiguration, uri)
	}

	queue := strings.TrimPrefix(rest, "//")
	if strings.TrimSpace(queue) == "" {
		return "", fmt.Errorf("%w: uri %q is missing a queue name", domain.ErrConfiguration, uri)
	}

	return queue, nil
}

type Endpoint struct {
	uri    string
	queue  string
	client *Client
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return &Producer{queue: e.queue, client: e.client}, nil
}

// Producer publishes exchange bodies to a single queue as persistent messages.
type Producer struct {
	queue   string
	client  *Client
	started atomic.Bool
}

func (p *Producer) NewExchange() *domain.Exchange {
	return domain.NewExchange()
}

// Start verifies connectivity and declares the queue topology up front so a
// bad broker or queue fails fast rather than on the first send.
func (p *Producer) Start(ctx context.Context) error {
	ch, err := p.client.channel(ctx, p.queue)
	if err != nil {
		return fmt.Errorf("failed to start amqp producer for queue %q: %w", p.queue, err)
	}
	_ = ch.Close()

	p.started.Store(true)
	return nil
}

// Stop marks the producer stopped. The shared client stays open; its owner
// closes it during shutdown.
func (p *Producer) Stop(ctx context.Context) error {
	p.started.Store(false)
	return nil
}

func (p *Producer) Send(ctx context.Context, ex *domain.Exchange) error {
	if !p.started.Load() {
		return fmt.Errorf("amqp producer for queue %q is not started", p.queue)
	}
	if ex == nil {
		return fmt.Errorf("exchange is required")
	}

	body, err := endpoint.EncodeBody(ex.Body())
	if err != nil {
		return fmt.Errorf("failed to encode exchange body: %w", err)
	}

	ch, err := p.client.channel(ctx, p.queue)
	if err != nil {
		return &endpoint.SendError{
			Message:   fmt.Sprintf("amqp channel unavailable for queue %q", p.queue),
			Transient: true,
			Cause:     err,
		}
	}
	defer func() { _ = ch.Close() }()

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     ex.ID(),
		CorrelationId: ex.StringProperty(domain.PropertyCorrelationID),
		Body:          body,
	}

	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return &endpoint.SendError{
			Message:   fmt.Sprintf("failed to publish to queue %q", p.queue),
			Transient: true,
			Cause:     err,
		}
	}

	return nil
}
