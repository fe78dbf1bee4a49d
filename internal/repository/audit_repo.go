package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/emrekoca/audit-relay/internal/domain"
)

type ListParams struct {
	ExchangeID *string
	DispatchID *string
	Kind       *domain.Kind
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

type AuditRecordRepository interface {
	Create(ctx context.Context, r *domain.AuditRecord) error
	GetByID(ctx context.Context, id string) (*domain.AuditRecord, error)
	List(ctx context.Context, params ListParams) ([]domain.AuditRecord, int64, error)
}

type GormAuditRecordRepo struct {
	db *gorm.DB
}

func NewGormAuditRecordRepo(db *gorm.DB) *GormAuditRecordRepo {
	return &GormAuditRecordRepo{db: db}
}

func (r *GormAuditRecordRepo) Create(ctx context.Context, record *domain.AuditRecord) error {
	model := auditRecordModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if record != nil {
		*record = *auditRecordModelToDomain(model)
	}
	return nil
}

func (r *GormAuditRecordRepo) GetByID(ctx context.Context, id string) (*domain.AuditRecord, error) {
	var model AuditRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return auditRecordModelToDomain(&model), nil
}

func (r *GormAuditRecordRepo) List(ctx context.Context, params ListParams) ([]domain.AuditRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&AuditRecordModel{})

	if params.ExchangeID != nil {
		query = query.Where("exchange_id = ?", *params.ExchangeID)
	}
	if params.DispatchID != nil {
		query = query.Where("dispatch_id = ?", *params.DispatchID)
	}
	if params.Kind != nil {
		query = query.Where("kind = ?", *params.Kind)
	}
	if params.From != nil {
		query = query.Where("timestamp >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("timestamp <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []AuditRecordModel
	err := query.
		Order("timestamp DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	records := make([]domain.AuditRecord, 0, len(models))
	for i := range models {
		records = append(records, *auditRecordModelToDomain(&models[i]))
	}

	return records, total, nil
}
