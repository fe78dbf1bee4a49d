package domain

import (
	"sync"

	"github.com/google/uuid"
)

// Well-known exchange property keys.
const (
	// PropertyDispatchID carries the per-send correlation token attached
	// when an exchange is created or about to be sent. Multiple concurrent
	// sends of the same exchange to the same destination each get a fresh
	// value, so completion events can be matched to the right send.
	PropertyDispatchID = "audit.dispatchId"

	// PropertySuppressEvents marks an exchange whose sends must not
	// generate lifecycle events. Set on audit carriers to avoid a feedback
	// loop of audit events about audit events.
	PropertySuppressEvents = "audit.suppressEvents"

	// PropertyCorrelationID carries the caller-supplied correlation ID.
	PropertyCorrelationID = "relay.correlationId"
)

// Exchange is the unit of work flowing through the relay. It carries a
// message body and a property bag. The property bag is safe for concurrent
// use; the body is written once by the producer of the exchange.
type Exchange struct {
	id string

	mu         sync.RWMutex
	body       any
	properties map[string]any
}

// NewExchange creates an exchange with a generated ID.
func NewExchange() *Exchange {
	return NewExchangeWithID(uuid.NewString())
}

// NewExchangeWithID creates an exchange with the given ID.
func NewExchangeWithID(id string) *Exchange {
	return &Exchange{
		id:         id,
		properties: make(map[string]any),
	}
}

func (e *Exchange) ID() string {
	if e == nil {
		return ""
	}
	return e.id
}

func (e *Exchange) Body() any {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.body
}

func (e *Exchange) SetBody(body any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.body = body
	e.mu.Unlock()
}

// Property returns the value stored under key and whether it was present.
func (e *Exchange) Property(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	value, ok := e.properties[key]
	return value, ok
}

// StringProperty returns the property value if it is a non-empty string.
func (e *Exchange) StringProperty(key string) string {
	value, ok := e.Property(key)
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return s
}

func (e *Exchange) SetProperty(key string, value any) {
	if e == nil || key == "" {
		return
	}
	e.mu.Lock()
	e.properties[key] = value
	e.mu.Unlock()
}

func (e *Exchange) RemoveProperty(key string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	delete(e.properties, key)
	e.mu.Unlock()
}

// Properties returns a snapshot copy of the property bag.
func (e *Exchange) Properties() map[string]any {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	snapshot := make(map[string]any, len(e.properties))
	for k, v := range e.properties {
		snapshot[k] = v
	}
	return snapshot
}

// MarkEventsSuppressed sets the suppression marker on the exchange and
// returns a release that removes it. Callers defer the release so the marker
// is cleared on every exit path, including panics and send failures.
func MarkEventsSuppressed(e *Exchange) (release func()) {
	if e == nil {
		return func() {}
	}
	e.SetProperty(PropertySuppressEvents, true)
	return func() {
		e.RemoveProperty(PropertySuppressEvents)
	}
}

// EventsSuppressed reports whether the exchange carries the suppression marker.
func EventsSuppressed(e *Exchange) bool {
	value, ok := e.Property(PropertySuppressEvents)
	if !ok {
		return false
	}
	suppressed, _ := value.(bool)
	return suppressed
}
