package endpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/emrekoca/audit-relay/internal/domain"
)

type staticEndpoint struct {
	uri string
}

func (e *staticEndpoint) URI() string { return e.uri }

func (e *staticEndpoint) CreateProducer() (Producer, error) { return nil, nil }

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	var factoryCalls int
	err := registry.Register("amqp", func(uri string) (Endpoint, error) {
		factoryCalls++
		return &staticEndpoint{uri: uri}, nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ep, err := registry.Resolve("amqp:audit")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ep.URI() != "amqp:audit" {
		t.Fatalf("uri = %s, want amqp:audit", ep.URI())
	}

	again, err := registry.Resolve("amqp:audit")
	if err != nil {
		t.Fatalf("Resolve() second error = %v", err)
	}
	if again != ep {
		t.Fatal("resolved endpoint should be cached per uri")
	}
	if factoryCalls != 1 {
		t.Fatalf("factory calls = %d, want 1", factoryCalls)
	}
}

func TestRegistryResolveUnknownScheme(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if _, err := registry.Resolve("bogus:thing"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for unknown scheme, got %v", err)
	}
	if _, err := registry.Resolve("  "); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty uri, got %v", err)
	}
	if _, err := registry.Resolve("noscheme"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for missing scheme, got %v", err)
	}
}

func TestRegistryRegisterValidation(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if err := registry.Register("", func(string) (Endpoint, error) { return nil, nil }); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty scheme, got %v", err)
	}
	if err := registry.Register("amqp", nil); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for nil factory, got %v", err)
	}

	if err := registry.Register("amqp", func(uri string) (Endpoint, error) { return &staticEndpoint{uri: uri}, nil }); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.Register("AMQP", func(uri string) (Endpoint, error) { return &staticEndpoint{uri: uri}, nil }); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for duplicate scheme, got %v", err)
	}
}

func TestEncodeBody(t *testing.T) {
	t.Parallel()

	if _, err := EncodeBody(nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for nil body, got %v", err)
	}

	raw, err := EncodeBody([]byte("raw"))
	if err != nil {
		t.Fatalf("EncodeBody(bytes) error = %v", err)
	}
	if string(raw) != "raw" {
		t.Fatalf("bytes body = %q", raw)
	}

	text, err := EncodeBody("plain")
	if err != nil {
		t.Fatalf("EncodeBody(string) error = %v", err)
	}
	if string(text) != "plain" {
		t.Fatalf("string body = %q", text)
	}

	encoded, err := EncodeBody(map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("EncodeBody(map) error = %v", err)
	}
	if string(encoded) != `{"n":1}` {
		t.Fatalf("json body = %q", encoded)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	if IsTransient(nil) {
		t.Fatal("nil error is not transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded should be transient")
	}
	if IsTransient(context.Canceled) {
		t.Fatal("cancellation should not be transient")
	}
	if !IsTransient(&SendError{StatusCode: 503, Transient: true}) {
		t.Fatal("transient send error should report transient")
	}
	if IsTransient(&SendError{StatusCode: 400}) {
		t.Fatal("permanent send error should not report transient")
	}
}

func TestSendErrorMessage(t *testing.T) {
	t.Parallel()

	err := &SendError{
		StatusCode: 502,
		Message:    "destination returned status 502",
		Cause:      errors.New("bad gateway"),
	}
	want := "send error: status=502: destination returned status 502: bad gateway"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	var nilErr *SendError
	if nilErr.Error() != "<nil>" {
		t.Fatalf("nil Error() = %q", nilErr.Error())
	}
}
