package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/emrekoca/audit-relay/internal/domain"
	"github.com/emrekoca/audit-relay/internal/endpoint"
)

const defaultTimeout = 10 * time.Second

// NewFactory returns an endpoint factory for http and https URIs. Each
// resolved endpoint POSTs the exchange body to the URI as JSON.
func NewFactory(client *resty.Client) endpoint.Factory {
	return func(uri string) (endpoint.Endpoint, error) {
		return NewEndpoint(uri, client)
	}
}

type Endpoint struct {
	uri    string
	client *resty.Client
}

func NewEndpoint(uri string, client *resty.Client) (*Endpoint, error) {
	trimmed := strings.TrimSpace(uri)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: webhook uri is required", domain.ErrConfiguration)
	}

	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid webhook uri %q: %v", domain.ErrConfiguration, trimmed, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: webhook uri %q must be http or https", domain.ErrConfiguration, trimmed)
	}

	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	client.SetRetryCount(0)

	return &Endpoint{uri: trimmed, client: client}, nil
}

func (e *Endpoint) URI() string { return e.uri }

func (e *Endpoint) CreateProducer() (endpoint.Producer, error) {
	return &Producer{uri: e.uri, client: e.client}, nil
}

type Producer struct {
	uri     string
	client  *resty.Client
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
		return fmt.Errorf("webhook producer for %q is not started", p.uri)
	}
	if ex == nil {
		return fmt.Errorf("exchange is required")
	}

	body, err := endpoint.EncodeBody(ex.Body())
	if err != nil {
		return fmt.Errorf("failed to encode exchange body: %w", err)
	}

	request := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	if correlationID := ex.StringProperty(domain.PropertyCorrelationID); correlationID != "" {
		request.SetHeader("X-Correlation-Id", correlationID)
	}

	response, err := request.Post(p.uri)
	if err != nil {
		return &endpoint.SendError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &endpoint.SendError{
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &endpoint.SendError{
		StatusCode: statusCode,
		Message:    errorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func errorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
