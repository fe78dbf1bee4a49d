package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is an immutable snapshot of a lifecycle event, built once per
// notification and never reused.
type AuditRecord struct {
	ID            string    `json:"id"`
	ExchangeID    string    `json:"exchangeId"`
	DispatchID    string    `json:"dispatchId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Kind          Kind      `json:"kind"`
	EndpointURI   string    `json:"endpointUri,omitempty"`
	Body          string    `json:"body,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewAuditRecord builds the default audit record for a lifecycle event.
func NewAuditRecord(evt Event) *AuditRecord {
	record := &AuditRecord{
		ID:          uuid.NewString(),
		Kind:        evt.Kind,
		EndpointURI: evt.EndpointURI,
		Timestamp:   evt.Timestamp,
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if evt.Err != nil {
		record.Error = evt.Err.Error()
	}
	if evt.Exchange != nil {
		record.ExchangeID = evt.Exchange.ID()
		record.DispatchID = evt.Exchange.StringProperty(PropertyDispatchID)
		record.CorrelationID = evt.Exchange.StringProperty(PropertyCorrelationID)
		record.Body = stringifyBody(evt.Exchange.Body())
	}
	return record
}

func (r *AuditRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: audit record is required", ErrValidation)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: audit record id is required", ErrValidation)
	}
	if r.ExchangeID == "" {
		return fmt.Errorf("%w: exchange id is required", ErrValidation)
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: invalid event kind %q", ErrValidation, r.Kind)
	}
	return nil
}

func stringifyBody(body any) string {
	switch b := body.(type) {
	case nil:
		return ""
	case string:
		return b
	case []byte:
		return string(b)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf("%v", body)
	}
	return string(encoded)
}
