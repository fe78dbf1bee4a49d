package endpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emrekoca/audit-relay/internal/domain"
)

// Producer synchronously delivers exchanges to one destination. Producers
// must be safe for concurrent Send calls once started.
type Producer interface {
	// NewExchange creates an outbound carrier exchange.
	NewExchange() *domain.Exchange

	// Send delivers the exchange and blocks until the destination has
	// accepted or rejected it.
	Send(ctx context.Context, ex *domain.Exchange) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Endpoint is a resolved destination address.
type Endpoint interface {
	URI() string
	CreateProducer() (Producer, error)
}

// Factory builds an endpoint from a full URI.
type Factory func(uri string) (Endpoint, error)

// EncodeBody turns an exchange body into wire bytes. Byte slices and strings
// pass through untouched; everything else is JSON encoded.
func EncodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, fmt.Errorf("%w: exchange body is required", domain.ErrValidation)
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode exchange body: %w", err)
	}
	return encoded, nil
}
