package endpoint

import (
	"fmt"
	"strings"
	"sync"

	"github.com/emrekoca/audit-relay/internal/domain"
)

// Registry resolves endpoint URIs through scheme-keyed factories. Resolved
// endpoints are cached per URI so repeated lookups return the same instance.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	resolved  map[string]Endpoint
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		resolved:  make(map[string]Endpoint),
	}
}

// Register binds a factory to a URI scheme, e.g. "amqp" for "amqp:audit".
func (r *Registry) Register(scheme string, factory Factory) error {
	if r == nil {
		return fmt.Errorf("registry is not initialized")
	}
	normalized := strings.ToLower(strings.TrimSpace(scheme))
	if normalized == "" {
		return fmt.Errorf("%w: endpoint scheme is required", domain.ErrConfiguration)
	}
	if factory == nil {
		return fmt.Errorf("%w: endpoint factory is required for scheme %q", domain.ErrConfiguration, normalized)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[normalized]; exists {
		return fmt.Errorf("%w: endpoint scheme %q already registered", domain.ErrConfiguration, normalized)
	}
	r.factories[normalized] = factory
	return nil
}

// Resolve returns the endpoint for a URI, building it on first use.
func (r *Registry) Resolve(uri string) (Endpoint, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is not initialized")
	}
	trimmed := strings.TrimSpace(uri)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: endpoint uri is required", domain.ErrConfiguration)
	}

	r.mu.RLock()
	if ep, ok := r.resolved[trimmed]; ok {
		r.mu.RUnlock()
		return ep, nil
	}
	r.mu.RUnlock()

	scheme := uriScheme(trimmed)
	if scheme == "" {
		return nil, fmt.Errorf("%w: endpoint uri %q has no scheme", domain.ErrConfiguration, trimmed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ep, ok := r.resolved[trimmed]; ok {
		return ep, nil
	}

	factory, ok := r.factories[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no endpoint registered for scheme %q", domain.ErrConfiguration, scheme)
	}

	ep, err := factory(trimmed)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve endpoint %q: %w", trimmed, err)
	}

	r.resolved[trimmed] = ep
	return ep, nil
}

func uriScheme(uri string) string {
	idx := strings.Index(uri, ":")
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(uri[:idx])
}
