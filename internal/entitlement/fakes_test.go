package entitlement

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/db/models"
	"github.com/keygate/keygate/internal/db/repositories"
	"github.com/keygate/keygate/internal/storage"
)

var errStore = errors.New("store unavailable")

// memStore is an in-memory stand-in for every store interface. A single mutex
// serializes RedeemKey the way the row lock does in Postgres.
type memStore struct {
	mu        sync.Mutex
	keys      map[string]models.Key
	whitelist map[[2]string]models.WhitelistEntry
	requests  map[[2]string]models.WhitelistRequest
	products  map[[2]string]models.Product
	managers  map[[2]string]models.ManagerGrant

	failWith           error // returned by every call when set
	failWhitelistWrite bool
	redeemWrites       int
	restores           int
	upserts            int
}

func newMemStore() *memStore {
	return &memStore{
		keys:      map[string]models.Key{},
		whitelist: map[[2]string]models.WhitelistEntry{},
		requests:  map[[2]string]models.WhitelistRequest{},
		products:  map[[2]string]models.Product{},
		managers:  map[[2]string]models.ManagerGrant{},
	}
}

// ---- KeyStore ----

func (m *memStore) Create(_ context.Context, key *models.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.keys[key.Code]; ok {
		return repositories.ErrCodeCollision
	}
	m.keys[key.Code] = *key
	return nil
}

func (m *memStore) CreateBatch(_ context.Context, tenantID, productID string, codes []string, createdAt time.Time, expiresAt *time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var inserted []string
	for _, code := range codes {
		if _, ok := m.keys[code]; ok {
			continue
		}
		m.keys[code] = models.Key{Code: code, TenantID: tenantID, ProductID: productID, CreatedAt: createdAt, ExpiresAt: expiresAt}
		inserted = append(inserted, code)
	}
	return inserted, nil
}

func (m *memStore) GetByCode(_ context.Context, code string) (*models.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	k, ok := m.keys[code]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (m *memStore) DeleteExpiredUnused(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for code, k := range m.keys {
		if k.UsedBy == nil && k.ExpiresAt != nil && k.ExpiresAt.Before(before) {
			delete(m.keys, code)
			n++
		}
	}
	return n, nil
}

func (m *memStore) RedeemKey(_ context.Context, code string, check repositories.RedeemCheck, entry *models.WhitelistEntry) (*models.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}

	var key *models.Key
	if k, ok := m.keys[code]; ok {
		key = &k
	}
	action, err := check(key)
	if err != nil || action == repositories.RedeemAbort {
		return key, err
	}
	if action == repositories.RedeemRestore {
		if m.failWhitelistWrite {
			return nil, errStore
		}
		wk := [2]string{entry.TenantID, entry.Identity}
		if _, ok := m.whitelist[wk]; !ok {
			m.whitelist[wk] = *entry
			m.restores++
		}
		return key, nil
	}
	if key.UsedBy != nil {
		return key, repositories.ErrKeyClaimed
	}
	if m.failWhitelistWrite {
		// the transaction rolls back, so the key stays unused
		return nil, errStore
	}

	identity, usedAt := entry.Identity, entry.GrantedAt
	key.UsedBy, key.UsedAt = &identity, &usedAt
	m.keys[code] = *key
	m.whitelist[[2]string{entry.TenantID, entry.Identity}] = *entry
	m.redeemWrites++
	return key, nil
}

// ---- WhitelistStore ----

type whitelistView struct{ *memStore }

func (w whitelistView) Upsert(_ context.Context, e *models.WhitelistEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return w.failWith
	}
	w.whitelist[[2]string{e.TenantID, e.Identity}] = *e
	return nil
}

func (w whitelistView) Delete(_ context.Context, tenantID, identity string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return false, w.failWith
	}
	k := [2]string{tenantID, identity}
	_, ok := w.whitelist[k]
	delete(w.whitelist, k)
	return ok, nil
}

func (w whitelistView) Get(_ context.Context, tenantID, identity string) (*models.WhitelistEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return nil, w.failWith
	}
	e, ok := w.whitelist[[2]string{tenantID, identity}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (w whitelistView) Exists(ctx context.Context, tenantID, identity string) (bool, error) {
	e, err := w.Get(ctx, tenantID, identity)
	return e != nil, err
}

func (w whitelistView) Count(_ context.Context, tenantID string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return 0, w.failWith
	}
	var n int64
	for k := range w.whitelist {
		if k[0] == tenantID {
			n++
		}
	}
	return n, nil
}

// ---- RequestStore ----

type requestView struct{ *memStore }

func (r requestView) Upsert(_ context.Context, req *models.WhitelistRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.requests[[2]string{req.TenantID, req.Identity}] = *req
	return nil
}

func (r requestView) Count(_ context.Context, tenantID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return 0, r.failWith
	}
	var n int64
	for k := range r.requests {
		if k[0] == tenantID {
			n++
		}
	}
	return n, nil
}

func (r requestView) List(_ context.Context, tenantID string, limit, offset int) ([]models.WhitelistRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	out := []models.WhitelistRequest{}
	for k, v := range r.requests {
		if k[0] == tenantID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if offset >= len(out) {
		return []models.WhitelistRequest{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- ProductStore ----

type productView struct{ *memStore }

func (p productView) Get(_ context.Context, tenantID, productID string) (*models.Product, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return nil, p.failWith
	}
	v, ok := p.products[[2]string{tenantID, productID}]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (p productView) List(_ context.Context, tenantID string) ([]models.Product, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return nil, p.failWith
	}
	out := []models.Product{}
	for k, v := range p.products {
		if k[0] == tenantID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (p productView) Upsert(_ context.Context, prod *models.Product) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	k := [2]string{prod.TenantID, prod.ProductID}
	if old, ok := p.products[k]; ok {
		prod.CreatedAt = old.CreatedAt
	} else {
		prod.CreatedAt = prod.UpdatedAt
	}
	p.products[k] = *prod
	p.upserts++
	return nil
}

// ---- ManagerStore ----

type managerView struct{ *memStore }

func (m managerView) Grant(_ context.Context, g *models.ManagerGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.managers[[2]string{g.TenantID, g.Identity}] = *g
	return nil
}

func (m managerView) Revoke(_ context.Context, tenantID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	delete(m.managers, [2]string{tenantID, identity})
	return nil
}

func (m managerView) IsManager(_ context.Context, tenantID, identity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	_, scoped := m.managers[[2]string{tenantID, identity}]
	_, global := m.managers[[2]string{models.AllTenants, identity}]
	return scoped || global, nil
}

func (m managerView) List(_ context.Context, tenantID string) ([]models.ManagerGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := []models.ManagerGrant{}
	for k, v := range m.managers {
		if k[0] == tenantID || k[0] == models.AllTenants {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// ---- StatsStore ----

type statsView struct{ *memStore }

func (s statsView) TenantStats(ctx context.Context, tenantID string) (*models.TenantStats, error) {
	s.mu.Lock()
	if s.failWith != nil {
		s.mu.Unlock()
		return nil, s.failWith
	}
	st := &models.TenantStats{}
	for _, p := range s.products {
		if p.TenantID == tenantID {
			st.ProductCount++
		}
	}
	for _, k := range s.keys {
		if k.TenantID == tenantID {
			st.KeyCount++
			if k.UsedBy != nil {
				st.UsedKeyCount++
			}
		}
	}
	s.mu.Unlock()

	var err error
	if st.WhitelistCount, err = (whitelistView{s.memStore}).Count(ctx, tenantID); err != nil {
		return nil, err
	}
	if st.PendingRequestCount, err = (requestView{s.memStore}).Count(ctx, tenantID); err != nil {
		return nil, err
	}
	return st, nil
}

// ---- storage.Storage ----

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
	deleted []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Upload(_ context.Context, path string, r io.Reader, size int64) (*storage.UploadResult, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = data
	return &storage.UploadResult{Path: path, Size: int64(len(data))}, nil
}

func (b *memBlobs) Download(_ context.Context, path string) (io.ReadCloser, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, path)
	b.deleted = append(b.deleted, path)
	return nil
}

func (b *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

// ---- fixtures ----

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

// sequenceCodes yields the given codes in order, then panics.
func sequenceCodes(codes ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i]
		i++
		return c
	}
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
