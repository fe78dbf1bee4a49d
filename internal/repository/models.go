package repository

import (
	"time"

	"github.com/emrekoca/audit-relay/internal/domain"
)

// AuditRecordModel is the persistence model for the audit_records table.
type AuditRecordModel struct {
	ID            string      `gorm:"type:uuid;primaryKey"`
	ExchangeID    string      `gorm:"type:varchar(64);not null"`
	DispatchID    string      `gorm:"type:varchar(64)"`
	CorrelationID string      `gorm:"type:varchar(64)"`
	Kind          domain.Kind `gorm:"type:varchar(20);not null"`
	EndpointURI   string      `gorm:"type:varchar(512)"`
	Body          string      `gorm:"type:text"`
	Error         string      `gorm:"type:text"`
	Timestamp     time.Time   `gorm:"type:timestamptz;not null"`
	CreatedAt     time.Time
}

func (AuditRecordModel) TableName() string {
	return "audit_records"
}

func auditRecordModelFromDomain(r *domain.AuditRecord) *AuditRecordModel {
	if r == nil {
		return nil
	}

	return &AuditRecordModel{
		ID:            r.ID,
		ExchangeID:    r.ExchangeID,
		DispatchID:    r.DispatchID,
		CorrelationID: r.CorrelationID,
		Kind:          r.Kind,
		EndpointURI:   r.EndpointURI,
		Body:          r.Body,
		Error:         r.Error,
		Timestamp:     r.Timestamp,
	}
}

func auditRecordModelToDomain(m *AuditRecordModel) *domain.AuditRecord {
	if m == nil {
		return nil
	}

	return &domain.AuditRecord{
		ID:            m.ID,
		ExchangeID:    m.ExchangeID,
		DispatchID:    m.DispatchID,
		CorrelationID: m.CorrelationID,
		Kind:          m.Kind,
		EndpointURI:   m.EndpointURI,
		Body:          m.Body,
		Error:         m.Error,
		Timestamp:     m.Timestamp,
	}
}
