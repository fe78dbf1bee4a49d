package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/emrekoca/audit-relay/internal/domain"
	"github.com/emrekoca/audit-relay/internal/endpoint"
	"github.com/emrekoca/audit-relay/internal/engine"
	infraamqp "github.com/emrekoca/audit-relay/internal/infra/amqp"
	"github.com/emrekoca/audit-relay/internal/observability"
	"github.com/emrekoca/audit-relay/internal/ratelimit"
)

const minWorkerConcurrency = 1

// Source is the inbound side of the relay.
type Source interface {
	Consume(ctx context.Context, handler infraamqp.MessageHandler) error
}

// RouteService relays messages from the source queue to the destination
// endpoint, emitting a lifecycle event at every step so audit notifiers can
// observe the exchange.
type RouteService struct {
	engine         *engine.Engine
	source         Source
	destinationURI string
	route          string
	rateLimiter    ratelimit.RateLimiter
	logger         *zap.Logger
	metrics        *observability.Metrics
	concurrency    int
	now            func() time.Time

	producer endpoint.Producer
}

func NewRouteService(
	eng *engine.Engine,
	source Source,
	destinationURI string,
	route string,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*RouteService, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if destinationURI == "" {
		return nil, fmt.Errorf("%w: destination uri is required", domain.ErrConfiguration)
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RouteService{
		engine:         eng,
		source:         source,
		destinationURI: destinationURI,
		route:          route,
		rateLimiter:    rateLimiter,
		logger:         logger,
		metrics:        metrics,
		concurrency:    concurrency,
		now:            time.Now,
	}, nil
}

// Start resolves the destination, then consumes the source queue with a pool
// of workers until the context is canceled.
func (s *RouteService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ep, err := s.engine.Endpoint(s.destinationURI)
	if err != nil {
		return fmt.Errorf("failed to resolve destination %q: %w", s.destinationURI, err)
	}

	producer, err := ep.CreateProducer()
	if err != nil {
		return fmt.Errorf("failed to create destination producer: %w", err)
	}
	if err := producer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start destination producer: %w", err)
	}
	s.producer = producer

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := producer.Stop(stopCtx); err != nil {
			s.logger.Warn("failed to stop destination producer", zap.Error(err))
		}
	}()

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("relay worker started",
				zap.Int("workerId", workerID),
				zap.String("destination", s.destinationURI),
			)

			err := s.source.Consume(groupCtx, s.processMessage)
			if err != nil {
				s.logger.Error("relay worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("relay worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *RouteService) processMessage(ctx context.Context, msg infraamqp.InboundMessage) error {
	ex := s.newExchange(msg)

	ctx = observability.WithExchangeID(ctx, ex.ID())
	if correlationID := ex.StringProperty(domain.PropertyCorrelationID); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	s.metrics.IncRelayInFlight()
	defer s.metrics.DecRelayInFlight()

	s.engine.Emit(ctx, domain.NewCreatedEvent(ex))

	if err := s.rateLimiter.Wait(ctx, s.route); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	s.engine.Emit(ctx, domain.NewSendingEvent(ex, s.destinationURI))

	sendStart := s.now()
	sendErr := s.producer.Send(ctx, ex)
	s.metrics.ObserveRelaySendDuration(s.destinationURI, s.now().Sub(sendStart))

	if sendErr != nil {
		s.logger.Warn("relay send failed",
			zap.String("exchangeId", ex.ID()),
			zap.String("destination", s.destinationURI),
			zap.Error(sendErr),
		)
		s.engine.Emit(ctx, domain.NewFailedEvent(ex, s.destinationURI, sendErr))
		s.engine.Emit(ctx, domain.NewFailureHandledEvent(ex, sendErr))
		s.metrics.IncRelayMessage("dead_lettered")
		return sendErr
	}

	s.engine.Emit(ctx, domain.NewSentEvent(ex, s.destinationURI))
	s.metrics.IncRelayMessage("delivered")
	return nil
}

func (s *RouteService) newExchange(msg infraamqp.InboundMessage) *domain.Exchange {
	var ex *domain.Exchange
	if msg.MessageID != "" {
		ex = domain.NewExchangeWithID(msg.MessageID)
	} else {
		ex = s.engine.NewExchange()
	}

	ex.SetBody(msg.Body)
	if msg.CorrelationID != "" {
		ex.SetProperty(domain.PropertyCorrelationID, msg.CorrelationID)
	}

	return ex
}
