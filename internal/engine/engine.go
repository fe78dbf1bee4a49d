package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/emrekoca/audit-relay/internal/domain"
	"github.com/emrekoca/audit-relay/internal/endpoint"
	"github.com/emrekoca/audit-relay/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier receives lifecycle events for exchanges. Enabled is evaluated
// before Notify so notifiers can opt out without side effects.
type Notifier interface {
	Enabled(evt domain.Event) bool
	Notify(ctx context.Context, evt domain.Event) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Engine is the owning context of the relay: it resolves endpoints, manages
// notifier lifecycles, generates IDs, and fans lifecycle events out to
// notifiers. Endpoints and notifiers are registered before Start; after that
// the engine is read-only apart from its started flag.
type Engine struct {
	endpoints *endpoint.Registry
	logger    *zap.Logger
	metrics   *observability.Metrics
	ids       func() string

	mu        sync.Mutex
	notifiers []Notifier
	started   atomic.Bool
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithIDGenerator overrides the dispatch ID generator.
func WithIDGenerator(ids func() string) Option {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

func New(endpoints *endpoint.Registry, opts ...Option) (*Engine, error) {
	if endpoints == nil {
		return nil, fmt.Errorf("%w: endpoint registry is required", domain.ErrConfiguration)
	}

	e := &Engine{
		endpoints: endpoints,
		logger:    zap.NewNop(),
		ids:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// AddNotifier registers a notifier. Notifiers added after Start are not
// managed by the engine lifecycle and must be started by the caller.
func (e *Engine) AddNotifier(n Notifier) error {
	if e == nil {
		return fmt.Errorf("engine is not initialized")
	}
	if n == nil {
		return fmt.Errorf("%w: notifier is required", domain.ErrConfiguration)
	}

	e.mu.Lock()
	e.notifiers = append(e.notifiers, n)
	e.mu.Unlock()
	return nil
}

// Start starts registered notifiers, then marks the engine as running.
// A notifier start failure aborts the whole start and stops the notifiers
// started so far.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("engine is not initialized")
	}
	if e.started.Load() {
		return nil
	}

	for i, n := range e.snapshotNotifiers() {
		if err := n.Start(ctx); err != nil {
			for _, started := range e.snapshotNotifiers()[:i] {
				if stopErr := started.Stop(ctx); stopErr != nil {
					e.logger.Warn("failed to stop notifier during aborted start", zap.Error(stopErr))
				}
			}
			return fmt.Errorf("failed to start notifier: %w", err)
		}
	}

	e.started.Store(true)
	e.logger.Info("engine started")
	return nil
}

// Stop marks the engine stopped, then stops notifiers in reverse order.
func (e *Engine) Stop(ctx context.Context) error {
	if e == nil || !e.started.Swap(false) {
		return nil
	}

	var firstErr error
	notifiers := e.snapshotNotifiers()
	for i := len(notifiers) - 1; i >= 0; i-- {
		if err := notifiers[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.logger.Info("engine stopped")
	return firstErr
}

func (e *Engine) Started() bool {
	return e != nil && e.started.Load()
}

// Endpoint resolves an endpoint URI through the registry.
func (e *Engine) Endpoint(uri string) (endpoint.Endpoint, error) {
	if e == nil {
		return nil, fmt.Errorf("engine is not initialized")
	}
	return e.endpoints.Resolve(uri)
}

// NextID generates a unique identifier, used for dispatch IDs.
func (e *Engine) NextID() string {
	if e == nil || e.ids == nil {
		return uuid.NewString()
	}
	return e.ids()
}

// NewExchange creates an exchange with an engine-generated ID.
func (e *Engine) NewExchange() *domain.Exchange {
	return domain.NewExchangeWithID(e.NextID())
}

// Emit delivers a lifecycle event to every enabled notifier. Events are
// dropped while the engine is stopped, when the kind is unknown, and when the
// exchange carries the suppression marker. Notifier failures are logged and
// counted but never surface to the emitter.
func (e *Engine) Emit(ctx context.Context, evt domain.Event) {
	if e == nil {
		return
	}

	if !evt.Kind.IsValid() {
		e.logger.Debug("dropping event with unknown kind", zap.String("kind", evt.Kind.String()))
		e.metrics.IncAuditEventDropped(evt.Kind.String(), "unknown_kind")
		return
	}
	if !e.started.Load() {
		e.logger.Debug("dropping event: engine not started", zap.String("kind", evt.Kind.String()))
		e.metrics.IncAuditEventDropped(evt.Kind.String(), "engine_stopped")
		return
	}
	if domain.EventsSuppressed(evt.Exchange) {
		e.logger.Debug("dropping event for suppressed exchange",
			zap.String("kind", evt.Kind.String()),
			zap.String("exchangeId", evt.Exchange.ID()),
		)
		e.metrics.IncAuditEventDropped(evt.Kind.String(), "suppressed")
		return
	}

	for _, n := range e.snapshotNotifiers() {
		if !n.Enabled(evt) {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			e.logger.Error("notifier failed",
				zap.String("kind", evt.Kind.String()),
				zap.String("exchangeId", evt.Exchange.ID()),
				zap.Error(err),
			)
			e.metrics.IncAuditPublishFailed(evt.Kind.String())
		}
	}
}

func (e *Engine) snapshotNotifiers() []Notifier {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := make([]Notifier, len(e.notifiers))
	copy(snapshot, e.notifiers)
	return snapshot
}
