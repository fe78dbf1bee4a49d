package redisstream

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/emrekoca/audit-relay/internal/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestParseStreamURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		uri     string
		want    string
		wantErr bool
	}{
		{name: "plain stream", uri: "redis:audit", want: "audit"},
		{name: "slashed form", uri: "redis://audit.events", want: "audit.events"},
		{name: "missing stream", uri: "redis:", wantErr: true},
		{name: "wrong scheme", uri: "amqp:audit", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStreamURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseStreamURI(%q) expected error, got %q", tt.uri, got)
				}
				if !errors.Is(err, domain.ErrConfiguration) {
					t.Errorf("ParseStreamURI(%q) error = %v, want ErrConfiguration", tt.uri, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStreamURI(%q) unexpected error: %v", tt.uri, err)
			}
			if got != tt.want {
				t.Errorf("ParseStreamURI(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}

func TestProducerSendAppendsToStream(t *testing.T) {
	mr, client := newTestClient(t)

	factory, err := NewFactory(client)
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}

	ep, err := factory("redis:audit")
	if err != nil {
		t.Fatalf("factory error = %v", err)
	}

	producer, err := ep.CreateProducer()
	if err != nil {
		t.Fatalf("CreateProducer() error = %v", err)
	}
	if err := producer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ex := producer.NewExchange()
	ex.SetBody(map[string]string{"kind": "SENT"})
	ex.SetProperty(domain.PropertyCorrelationID, "corr-7")

	if err := producer.Send(context.Background(), ex); err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	entries, err := mr.Stream("audit")
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream length = %d, want 1", len(entries))
	}

	fields := map[string]string{}
	values := entries[0].Values
	for i := 0; i+1 < len(values); i += 2 {
		fields[values[i]] = values[i+1]
	}

	if fields["exchangeId"] != ex.ID() {
		t.Errorf("exchangeId = %q, want %q", fields["exchangeId"], ex.ID())
	}
	if fields["correlationId"] != "corr-7" {
		t.Errorf("correlationId = %q, want %q", fields["correlationId"], "corr-7")
	}
	if fields["body"] != `{"kind":"SENT"}` {
		t.Errorf("body = %q, want %q", fields["body"], `{"kind":"SENT"}`)
	}
}

func TestProducerSendRequiresStart(t *testing.T) {
	_, client := newTestClient(t)

	p := &Producer{stream: "audit", client: client}

	ex := p.NewExchange()
	ex.SetBody("payload")

	if err := p.Send(context.Background(), ex); err == nil {
		t.Fatal("expected error from Send before Start")
	}
}

func TestProducerSendAfterStopFails(t *testing.T) {
	_, client := newTestClient(t)

	p := &Producer{stream: "audit", client: client}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	ex := p.NewExchange()
	ex.SetBody("payload")

	if err := p.Send(context.Background(), ex); err == nil {
		t.Fatal("expected error from Send after Stop")
	}
}
