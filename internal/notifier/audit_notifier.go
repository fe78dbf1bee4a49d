// Package notifier bridges exchange lifecycle events to a configured audit
// destination. Every enabled event is wrapped in an audit record and sent
// synchronously through a producer resolved at startup.
package notifier

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/emrekoca/audit-relay/internal/domain"
	"github.com/emrekoca/audit-relay/internal/endpoint"
	"github.com/emrekoca/audit-relay/internal/engine"
	"github.com/emrekoca/audit-relay/internal/observability"
	"go.uber.org/zap"
)

var _ engine.Notifier = (*AuditNotifier)(nil)

// RecordFactory builds the audit record for a lifecycle event.
type RecordFactory func(evt domain.Event) *domain.AuditRecord

// PayloadBuilder turns an audit record into the carrier body. The default
// builder hands the record through unchanged; wire producers encode it.
type PayloadBuilder func(record *domain.AuditRecord) (any, error)

// Predicate decides per event whether the notifier is interested. It is
// evaluated by the engine before Notify, ahead of any side effect.
type Predicate func(evt domain.Event) bool

// AuditNotifier forwards lifecycle events as audit records to one configured
// destination. Exactly one of an endpoint handle or an endpoint URI must be
// configured before Start.
//
// Exchanges observed in CREATED or SENDING events are enriched with a fresh
// dispatch ID so concurrent sends of the same exchange to the same
// destination can be told apart when their completion events arrive.
type AuditNotifier struct {
	engine      *engine.Engine
	endpoint    endpoint.Endpoint
	endpointURI string

	predicate  Predicate
	newRecord  RecordFactory
	newPayload PayloadBuilder
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	producer endpoint.Producer
	started  atomic.Bool
}

type Option func(*AuditNotifier)

// WithEndpoint sets the destination as a resolved endpoint handle.
// Mutually exclusive with WithEndpointURI.
func WithEndpoint(ep endpoint.Endpoint) Option {
	return func(n *AuditNotifier) { n.endpoint = ep }
}

// WithEndpointURI sets the destination as an address resolved at startup.
// Mutually exclusive with WithEndpoint.
func WithEndpointURI(uri string) Option {
	return func(n *AuditNotifier) { n.endpointURI = uri }
}

// WithPredicate installs the enablement filter. The default accepts every
// valid event kind.
func WithPredicate(p Predicate) Option {
	return func(n *AuditNotifier) {
		if p != nil {
			n.predicate = p
		}
	}
}

// WithRecordFactory overrides audit record construction.
func WithRecordFactory(f RecordFactory) Option {
	return func(n *AuditNotifier) {
		if f != nil {
			n.newRecord = f
		}
	}
}

// WithPayloadBuilder overrides carrier payload construction.
func WithPayloadBuilder(b PayloadBuilder) Option {
	return func(n *AuditNotifier) {
		if b != nil {
			n.newPayload = b
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(n *AuditNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(n *AuditNotifier) { n.metrics = metrics }
}

// KindPredicate builds a predicate accepting only the listed kinds.
func KindPredicate(kinds ...domain.Kind) Predicate {
	enabled := make(map[domain.Kind]bool, len(kinds))
	for _, k := range kinds {
		enabled[k] = true
	}
	return func(evt domain.Event) bool {
		return enabled[evt.Kind]
	}
}

func NewAuditNotifier(eng *engine.Engine, opts ...Option) (*AuditNotifier, error) {
	if eng == nil {
		return nil, fmt.Errorf("%w: engine is required", domain.ErrConfiguration)
	}

	n := &AuditNotifier{
		engine:    eng,
		predicate: func(evt domain.Event) bool { return evt.Kind.IsValid() },
		newRecord: domain.NewAuditRecord,
		newPayload: func(record *domain.AuditRecord) (any, error) {
			return record, nil
		},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Start resolves the destination and starts its producer. Neither or both
// destination forms configured is a fatal configuration error.
func (n *AuditNotifier) Start(ctx context.Context) error {
	if n == nil {
		return fmt.Errorf("audit notifier is not initialized")
	}
	if n.started.Load() {
		return nil
	}

	if n.endpoint == nil && n.endpointURI == "" {
		return fmt.Errorf("%w: either an endpoint or an endpoint uri must be configured", domain.ErrConfiguration)
	}
	if n.endpoint != nil && n.endpointURI != "" {
		return fmt.Errorf("%w: endpoint and endpoint uri are mutually exclusive", domain.ErrConfiguration)
	}

	ep := n.endpoint
	if ep == nil {
		resolved, err := n.engine.Endpoint(n.endpointURI)
		if err != nil {
			return err
		}
		ep = resolved
	}

	producer, err := ep.CreateProducer()
	if err != nil {
		return fmt.Errorf("failed to create audit producer for %q: %w", ep.URI(), err)
	}
	if err := producer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start audit producer for %q: %w", ep.URI(), err)
	}

	n.endpoint = ep
	n.endpointURI = ""
	n.producer = producer
	n.started.Store(true)

	n.logger.Info("audit notifier started", zap.String("endpointUri", ep.URI()))
	return nil
}

// Stop releases the producer.
func (n *AuditNotifier) Stop(ctx context.Context) error {
	if n == nil || !n.started.Swap(false) {
		return nil
	}
	if n.producer == nil {
		return nil
	}
	return n.producer.Stop(ctx)
}

// Enabled implements engine.Notifier.
func (n *AuditNotifier) Enabled(evt domain.Event) bool {
	if n == nil || n.predicate == nil {
		return false
	}
	return n.predicate(evt)
}

// Notify translates one lifecycle event into an outbound audit record.
//
// CREATED and SENDING events first enrich the originating exchange with a
// fresh dispatch ID; this happens even while the notifier is stopped so the
// token is in place when later completion events arrive. Events observed
// while the notifier or the engine is stopped are dropped silently. The
// carrier is marked with the suppression property for the duration of the
// send and the marker is removed on every exit path; a send failure reaches
// the caller only after the marker is gone.
func (n *AuditNotifier) Notify(ctx context.Context, evt domain.Event) error {
	if n == nil {
		return fmt.Errorf("audit notifier is not initialized")
	}

	if !evt.Kind.IsValid() {
		n.logger.Debug("ignoring event with unknown kind", zap.String("kind", evt.Kind.String()))
		n.metrics.IncAuditEventDropped(evt.Kind.String(), "unknown_kind")
		return nil
	}
	n.metrics.IncAuditEventReceived(evt.Kind.String())

	if evt.Kind == domain.KindCreated || evt.Kind == domain.KindSending {
		evt.Exchange.SetProperty(domain.PropertyDispatchID, n.engine.NextID())
	}

	if !n.started.Load() {
		n.logger.Debug("cannot publish event: audit notifier not started",
			zap.String("kind", evt.Kind.String()),
			zap.String("exchangeId", evt.Exchange.ID()),
		)
		n.metrics.IncAuditEventDropped(evt.Kind.String(), "notifier_stopped")
		return nil
	}
	if !n.engine.Started() {
		n.logger.Debug("cannot publish event: engine not started",
			zap.String("kind", evt.Kind.String()),
			zap.String("exchangeId", evt.Exchange.ID()),
		)
		n.metrics.IncAuditEventDropped(evt.Kind.String(), "engine_stopped")
		return nil
	}

	record := n.newRecord(evt)
	payload, err := n.newPayload(record)
	if err != nil {
		return fmt.Errorf("failed to build audit payload: %w", err)
	}

	carrier := n.producer.NewExchange()
	carrier.SetBody(payload)

	// Sends of the carrier itself must not feed back into the notifier.
	release := domain.MarkEventsSuppressed(carrier)
	defer release()

	start := n.now()
	sendErr := n.producer.Send(ctx, carrier)
	n.metrics.ObserveAuditPublishDuration(evt.Kind.String(), n.now().Sub(start))

	if sendErr != nil {
		n.metrics.IncAuditPublishFailed(evt.Kind.String())
		return fmt.Errorf("failed to publish audit record: %w", sendErr)
	}

	n.metrics.IncAuditPublished(evt.Kind.String())
	return nil
}

func (n *AuditNotifier) String() string {
	if n == nil {
		return "AuditNotifier[]"
	}
	if n.endpoint != nil {
		return fmt.Sprintf("AuditNotifier[%s]", n.endpoint.URI())
	}
	return fmt.Sprintf("AuditNotifier[%s]", n.endpointURI)
}
