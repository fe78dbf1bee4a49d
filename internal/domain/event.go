package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a lifecycle event variant.
type Kind string

const (
	KindCreated        Kind = "CREATED"
	KindSending        Kind = "SENDING"
	KindSent           Kind = "SENT"
	KindFailed         Kind = "FAILED"
	KindFailureHandled Kind = "FAILURE_HANDLED"
)

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	switch k {
	case KindCreated, KindSending, KindSent, KindFailed, KindFailureHandled:
		return true
	}
	return false
}

func ParseKindFromString(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid event kind %q", ErrValidation, s)
	}
	return k, nil
}

// AllKinds returns every lifecycle event kind.
func AllKinds() []Kind {
	return []Kind{KindCreated, KindSending, KindSent, KindFailed, KindFailureHandled}
}

// Event is a lifecycle notification for an exchange. The variant is decided
// once where the event enters the system; consumers switch on Kind instead of
// on concrete event types.
type Event struct {
	Kind     Kind
	Exchange *Exchange

	// EndpointURI is the destination involved in SENDING/SENT/FAILED events.
	EndpointURI string

	// Err is set for FAILED and FAILURE_HANDLED events.
	Err error

	Timestamp time.Time
}

func NewCreatedEvent(ex *Exchange) Event {
	return Event{Kind: KindCreated, Exchange: ex, Timestamp: time.Now().UTC()}
}

func NewSendingEvent(ex *Exchange, endpointURI string) Event {
	return Event{Kind: KindSending, Exchange: ex, EndpointURI: endpointURI, Timestamp: time.Now().UTC()}
}

func NewSentEvent(ex *Exchange, endpointURI string) Event {
	return Event{Kind: KindSent, Exchange: ex, EndpointURI: endpointURI, Timestamp: time.Now().UTC()}
}

func NewFailedEvent(ex *Exchange, endpointURI string, err error) Event {
	return Event{Kind: KindFailed, Exchange: ex, EndpointURI: endpointURI, Err: err, Timestamp: time.Now().UTC()}
}

func NewFailureHandledEvent(ex *Exchange, err error) Event {
	return Event{Kind: KindFailureHandled, Exchange: ex, Err: err, Timestamp: time.Now().UTC()}
}
