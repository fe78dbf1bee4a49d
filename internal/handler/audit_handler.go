package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/emrekoca/audit-relay/internal/domain"
	"github.com/emrekoca/audit-relay/internal/repository"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type AuditRecordHandler struct {
	repo repository.AuditRecordRepository
}

func NewAuditRecordHandler(repo repository.AuditRecordRepository) (*AuditRecordHandler, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit record repository is required")
	}
	return &AuditRecordHandler{repo: repo}, nil
}

func RegisterAuditRoutes(router fiber.Router, repo repository.AuditRecordRepository) error {
	h, err := NewAuditRecordHandler(repo)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/audit-records", h.ListAuditRecords)
	v1.Get("/audit-records/:id", h.GetAuditRecord)

	return nil
}

type auditRecordResponse struct {
	ID            string    `json:"id"`
	ExchangeID    string    `json:"exchangeId"`
	DispatchID    string    `json:"dispatchId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Kind          string    `json:"kind"`
	EndpointURI   string    `json:"endpointUri,omitempty"`
	Body          string    `json:"body,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type listAuditRecordsResponse struct {
	Data []auditRecordResponse `json:"data"`
	Meta listMeta              `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *AuditRecordHandler) GetAuditRecord(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	record, err := h.repo.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toAuditRecordResponse(record))
}

func (h *AuditRecordHandler) ListAuditRecords(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	records, total, err := h.repo.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]auditRecordResponse, 0, len(records))
	for i := range records {
		responses = append(responses, toAuditRecordResponse(&records[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listAuditRecordsResponse{
		Data: responses,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if exchangeID := strings.TrimSpace(c.Query("exchangeId")); exchangeID != "" {
		params.ExchangeID = &exchangeID
	}
	if dispatchID := strings.TrimSpace(c.Query("dispatchId")); dispatchID != "" {
		params.DispatchID = &dispatchID
	}

	if rawKind := strings.TrimSpace(c.Query("kind")); rawKind != "" {
		kind, err := domain.ParseKindFromString(rawKind)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Kind = &kind
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toAuditRecordResponse(r *domain.AuditRecord) auditRecordResponse {
	if r == nil {
		return auditRecordResponse{}
	}

	return auditRecordResponse{
		ID:            r.ID,
		ExchangeID:    r.ExchangeID,
		DispatchID:    r.DispatchID,
		CorrelationID: r.CorrelationID,
		Kind:          string(r.Kind),
		EndpointURI:   r.EndpointURI,
		Body:          r.Body,
		Error:         r.Error,
		Timestamp:     r.Timestamp,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return err
	}
}
