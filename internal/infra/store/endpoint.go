package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/emrekoca/audit-relay/internal/domain"
	"github.com/emrekoca/audit-relay/internal/endpoint"
	"github.com/emrekoca/audit-relay/internal/repository"
)

// NewFactory returns an endpoint factory for the store scheme. A store:
// endpoint persists each exchange body as an audit record through the
// repository instead of publishing it anywhere.
func NewFactory(repo repository.AuditRecordRepository) (endpoint.Factory, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit record repository is required")
	}

	return func(uri string) (endpoint.Endpoint, error) {
		if !strings.HasPrefix(uri, "store:") {
			return nil, fmt.Errorf("%w: uri %q is not a store uri", domain.ErrConfiguration, uri)
		}

		return &Endpoint{uri: uri, repo: repo}, nil
	}, nil
}

type Endpoint struct {
	uri  string
	repo repository.AuditRecordRepository
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return &Producer{repo: e.repo}, nil
}

type Producer struct {
	repo    repository.AuditRecordRepository
	started atomic.Bool
}

func (p *Producer) NewExchange() *domain.Exchange {
	return domain.NewExchange()
}

func (p *Producer) Start(ctx context.Context) error {
	p.started.Store(true)
	return nil
}

func (p *Producer) Stop(ctx context.Context) error {
	p.started.Store(false)
	return nil
}

func (p *Producer) Send(ctx context.Context, ex *domain.Exchange) error {
	if !p.started.Load() {
		return fmt.Errorf("store producer is not started")
	}
	if ex == nil {
		return fmt.Errorf("exchange is required")
	}

	record, err := recordFromBody(ex.Body())
	if err != nil {
		return err
	}

	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid audit record: %w", err)
	}

	if err := p.repo.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to persist audit record: %w", err)
	}

	return nil
}

// recordFromBody accepts the record struct itself or its JSON encoding, so
// the store endpoint works with or without a payload builder in front of it.
func recordFromBody(body any) (*domain.AuditRecord, error) {
	switch v := body.(type) {
	case *domain.AuditRecord:
		if v == nil {
			return nil, fmt.Errorf("exchange body is nil")
		}
		clone := *v
		return &clone, nil
	case domain.AuditRecord:
		clone := v
		return &clone, nil
	case []byte:
		var record domain.AuditRecord
		if err := json.Unmarshal(v, &record); err != nil {
			return nil, fmt.Errorf("failed to decode audit record: %w", err)
		}
		return &record, nil
	case string:
		var record domain.AuditRecord
		if err := json.Unmarshal([]byte(v), &record); err != nil {
			return nil, fmt.Errorf("failed to decode audit record: %w", err)
		}
		return &record, nil
	default:
		return nil, fmt.Errorf("unsupported exchange body type %T", body)
	}
}
