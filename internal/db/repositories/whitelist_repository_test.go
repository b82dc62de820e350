package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/keygate/keygate/internal/db/models"
)

var whitelistCols = []string{"tenant_id", "identity", "external_ref", "source", "granted_at"}
var requestCols = []string{"tenant_id", "identity", "external_ref", "requested_at"}

func newWhitelistRepo(t *testing.T) (*WhitelistRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewWhitelistRepository(db), mock
}

func newRequestRepo(t *testing.T) (*WhitelistRequestRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewWhitelistRequestRepository(db), mock
}

// ---------------------------------------------------------------------------
// WhitelistRepository
// ---------------------------------------------------------------------------

func TestWhitelistUpsert_Success(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectExec("INSERT INTO whitelist.*ON CONFLICT \\(tenant_id, identity\\) DO UPDATE").
		WithArgs("t1", "u1", "order-7", models.WhitelistSourceGrant, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &models.WhitelistEntry{
		TenantID: "t1", Identity: "u1", ExternalRef: "order-7",
		Source: models.WhitelistSourceGrant, GrantedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertExpectations(t, mock)
}

func TestWhitelistUpsert_DBError(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectExec("INSERT INTO whitelist").WillReturnError(errDB)

	if err := repo.Upsert(context.Background(), &models.WhitelistEntry{}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestWhitelistDelete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"existing entry", 1, true},
		{"no entry", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newWhitelistRepo(t)
			mock.ExpectExec("DELETE FROM whitelist WHERE tenant_id = \\$1 AND identity = \\$2").
				WithArgs("t1", "u1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.Delete(context.Background(), "t1", "u1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Delete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWhitelistDelete_DBError(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectExec("DELETE FROM whitelist").WillReturnError(errDB)

	if _, err := repo.Delete(context.Background(), "t1", "u1"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestWhitelistGet_Found(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectQuery("SELECT.*FROM whitelist.*WHERE tenant_id = \\$1 AND identity = \\$2").
		WithArgs("t1", "u1").
		WillReturnRows(sqlmock.NewRows(whitelistCols).AddRow("t1", "u1", "", "redeem", time.Now()))

	entry, err := repo.Get(context.Background(), "t1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry == nil || entry.Source != models.WhitelistSourceRedeem {
		t.Errorf("entry = %+v", entry)
	}
}

func TestWhitelistGet_NotFound(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectQuery("SELECT.*FROM whitelist").WillReturnRows(sqlmock.NewRows(whitelistCols))

	entry, err := repo.Get(context.Background(), "t1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil, got %+v", entry)
	}
}

func TestWhitelistExists(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("t1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.Exists(context.Background(), "t1", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("Exists() = false, want true")
	}
}

func TestWhitelistExists_DBError(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectQuery("SELECT EXISTS").WillReturnError(errDB)

	if _, err := repo.Exists(context.Background(), "t1", "u1"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestWhitelistCount(t *testing.T) {
	repo, mock := newWhitelistRepo(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM whitelist WHERE tenant_id").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := repo.Count(context.Background(), "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("Count() = %d, want 4", n)
	}
}

// ---------------------------------------------------------------------------
// WhitelistRequestRepository
// ---------------------------------------------------------------------------

func TestRequestUpsert_OverwritesOnConflict(t *testing.T) {
	repo, mock := newRequestRepo(t)
	mock.ExpectExec("INSERT INTO whitelist_requests.*ON CONFLICT \\(tenant_id, identity\\) DO UPDATE.*requested_at = EXCLUDED.requested_at").
		WithArgs("t1", "u1", "second", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &models.WhitelistRequest{
		TenantID: "t1", Identity: "u1", ExternalRef: "second", RequestedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertExpectations(t, mock)
}

func TestRequestUpsert_DBError(t *testing.T) {
	repo, mock := newRequestRepo(t)
	mock.ExpectExec("INSERT INTO whitelist_requests").WillReturnError(errDB)

	if err := repo.Upsert(context.Background(), &models.WhitelistRequest{}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestRequestCount(t *testing.T) {
	repo, mock := newRequestRepo(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM whitelist_requests").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.Count(context.Background(), "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestRequestList(t *testing.T) {
	repo, mock := newRequestRepo(t)
	mock.ExpectQuery("SELECT.*FROM whitelist_requests.*LIMIT \\$2 OFFSET \\$3").
		WithArgs("t1", 50, 0).
		WillReturnRows(sqlmock.NewRows(requestCols).
			AddRow("t1", "u2", "", time.Now()).
			AddRow("t1", "u1", "ref", time.Now().Add(-time.Hour)))

	reqs, err := repo.List(context.Background(), "t1", 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 2 || reqs[0].Identity != "u2" {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestRequestList_DBError(t *testing.T) {
	repo, mock := newRequestRepo(t)
	mock.ExpectQuery("SELECT.*FROM whitelist_requests").WillReturnError(errDB)

	if _, err := repo.List(context.Background(), "t1", 50, 0); err == nil {
		t.Error("expected error, got nil")
	}
}
