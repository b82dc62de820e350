package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/keygate/keygate/internal/db/repositories"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testTenant   = "guild-1"
	testIdentity = "100200300"
	testOwner    = "999"
)

var (
	keyCols     = []string{"code", "tenant_id", "product_id", "created_at", "expires_at", "used_by", "used_at"}
	entryCols   = []string{"tenant_id", "identity", "external_ref", "source", "granted_at"}
	requestCols = []string{"tenant_id", "identity", "external_ref", "requested_at"}
	managerCols = []string{"tenant_id", "identity", "granted_by", "granted_at"}
	statsCols   = []string{"product_count", "key_count", "used_key_count", "whitelist_count", "pending_request_count"}
	productCols = []string{"tenant_id", "product_id", "title", "description", "color", "icon", "image_url", "redeem_role", "deliverable_content", "deliverable_ref", "created_at", "updated_at"}
	testCreated = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

// testServices wires real repositories over sqlmock into the entitlement services.
type testServices struct {
	mock      sqlmock.Sqlmock
	keys      *entitlement.KeyManager
	whitelist *entitlement.WhitelistManager
	catalog   *entitlement.Catalog
	gate      *entitlement.Gate
	stats     *entitlement.StatsReporter
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := sqlx.NewDb(sqlDB, "sqlmock")

	products := repositories.NewProductRepository(db)
	return &testServices{
		mock: mock,
		keys: entitlement.NewKeyManager(repositories.NewKeyRepository(db), entitlement.DefaultMaxBatch),
		whitelist: entitlement.NewWhitelistManager(
			repositories.NewWhitelistRepository(db),
			repositories.NewWhitelistRequestRepository(db),
			products, nil),
		catalog: entitlement.NewCatalog(products, nil, 0),
		gate:    entitlement.NewGate(entitlement.NewAuthorizationContext([]string{testOwner}), repositories.NewManagerRepository(db)),
		stats:   entitlement.NewStatsReporter(repositories.NewStatsRepository(db)),
	}
}

// newCallerRouter returns an engine whose requests carry the given caller.
func newCallerRouter(tenantID, identity string) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.TenantIDKey, tenantID)
		c.Set(middleware.IdentityKey, identity)
		c.Next()
	})
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	if got := decodeBody(t, w)["code"]; got != code {
		t.Errorf("code = %v, want %s", got, code)
	}
}

func assertExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
