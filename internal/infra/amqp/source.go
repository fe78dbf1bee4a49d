package amqp

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// InboundMessage is a message taken off the source queue. The body is opaque
// to the relay; routing decisions use the broker metadata only.
type InboundMessage struct {
	MessageID     string
	CorrelationID string
	Body          []byte
}

// MessageHandler processes a single inbound message. A non-nil error
// dead-letters the message; nil acknowledges it.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

type Source struct {
	client   *Client
	queue    string
	prefetch int
	logger   *zap.Logger
}

func NewSource(client *Client, queue string, prefetch int, logger *zap.Logger) (*Source, error) {
	if client == nil {
		return nil, fmt.Errorf("amqp client is required")
	}
	if queue == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Source{
		client:   client,
		queue:    queue,
		prefetch: prefetch,
		logger:   logger,
	}, nil
}

// Consume reads from the source queue until the context is canceled,
// reconnecting with backoff when the broker drops the channel.
func (s *Source) Consume(ctx context.Context, handler MessageHandler) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("source is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := s.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		s.logger.Warn("consumer loop interrupted, reconnecting",
			zap.Error(err),
			zap.String("queue", s.queue),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Source) consumeOnce(ctx context.Context, handler MessageHandler) error {
	ch, err := s.client.channel(ctx, s.queue)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		s.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", s.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := s.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (s *Source) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	if len(d.Body) == 0 {
		s.logger.Warn("rejecting message: empty body",
			zap.String("queue", s.queue),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject empty message: %w", rejectErr)
		}
		return nil
	}

	msg := InboundMessage{
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		Body:          d.Body,
	}

	if err := handler(ctx, msg); err != nil {
		// Dead-letter the message: the handler has already recorded the
		// failure, so a requeue would only replay it.
		if nackErr := d.Nack(false, false); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}
