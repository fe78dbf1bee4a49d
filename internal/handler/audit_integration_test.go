package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/emrekoca/audit-relay/internal/domain"
	"github.com/emrekoca/audit-relay/internal/repository"
	"github.com/emrekoca/audit-relay/internal/transport"
)

func TestAuditIntegration_GetAuditRecord(t *testing.T) {
	t.Parallel()

	record := domain.AuditRecord{
		ID:          "r-1",
		ExchangeID:  "ex-1",
		DispatchID:  "d-1",
		Kind:        domain.KindSent,
		EndpointURI: "amqp:orders",
		Body:        `{"orderId":42}`,
		Timestamp:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	repo := &stubAuditRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.AuditRecord, error) {
			if id != "r-1" {
				return nil, domain.ErrNotFound
			}
			clone := record
			return &clone, nil
		},
	}

	app := newAuditTestApp(t, repo)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/audit-records/r-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got["id"] != "r-1" {
		t.Fatalf("id = %v, want r-1", got["id"])
	}
	if got["kind"] != "SENT" {
		t.Fatalf("kind = %v, want SENT", got["kind"])
	}
	if got["dispatchId"] != "d-1" {
		t.Fatalf("dispatchId = %v, want d-1", got["dispatchId"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/audit-records/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown record", resp.StatusCode)
	}
}

func TestAuditIntegration_ListAuditRecords(t *testing.T) {
	t.Parallel()

	var gotParams repository.ListParams
	repo := &stubAuditRepo{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.AuditRecord, int64, error) {
			gotParams = params
			return []domain.AuditRecord{
				{ID: "r-1", ExchangeID: "ex-1", Kind: domain.KindCreated, Timestamp: time.Now()},
				{ID: "r-2", ExchangeID: "ex-1", Kind: domain.KindSent, Timestamp: time.Now()},
			}, 2, nil
		},
	}

	app := newAuditTestApp(t, repo)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/audit-records?exchangeId=ex-1&kind=sent&page=2&pageSize=10", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var got listAuditRecordsResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(got.Data) != 2 {
		t.Fatalf("data length = %d, want 2", len(got.Data))
	}
	if got.Meta.Total != 2 {
		t.Fatalf("meta.total = %d, want 2", got.Meta.Total)
	}
	if got.Meta.Page != 2 || got.Meta.PageSize != 10 {
		t.Fatalf("meta paging = %d/%d, want 2/10", got.Meta.Page, got.Meta.PageSize)
	}

	if gotParams.ExchangeID == nil || *gotParams.ExchangeID != "ex-1" {
		t.Fatalf("exchangeId param = %v, want ex-1", gotParams.ExchangeID)
	}
	if gotParams.Kind == nil || *gotParams.Kind != domain.KindSent {
		t.Fatalf("kind param = %v, want SENT", gotParams.Kind)
	}
}

func TestAuditIntegration_ListValidation(t *testing.T) {
	t.Parallel()

	app := newAuditTestApp(t, &stubAuditRepo{})

	testCases := []struct {
		name string
		path string
	}{
		{name: "page below 1", path: "/v1/audit-records?page=0"},
		{name: "pageSize above max", path: "/v1/audit-records?pageSize=500"},
		{name: "unknown kind", path: "/v1/audit-records?kind=EXPLODED"},
		{name: "bad from timestamp", path: "/v1/audit-records?from=yesterday"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resp, body := performRequest(t, app, http.MethodGet, tc.path, "")
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(body))
			}
		})
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

func newAuditTestApp(t *testing.T, repo repository.AuditRecordRepository) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterAuditRoutes(app, repo); err != nil {
		t.Fatalf("RegisterAuditRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubAuditRepo struct {
	createFn  func(ctx context.Context, r *domain.AuditRecord) error
	getByIDFn func(ctx context.Context, id string) (*domain.AuditRecord, error)
	listFn    func(ctx context.Context, params repository.ListParams) ([]domain.AuditRecord, int64, error)
}

func (s *stubAuditRepo) Create(ctx context.Context, r *domain.AuditRecord) error {
	if s.createFn != nil {
		return s.createFn(ctx, r)
	}
	return nil
}

func (s *stubAuditRepo) GetByID(ctx context.Context, id string) (*domain.AuditRecord, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubAuditRepo) List(ctx context.Context, params repository.ListParams) ([]domain.AuditRecord, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
