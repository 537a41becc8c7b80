package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"orbitdrive/internal/domain"
)

// memStore — память вместо Postgres для тестов координатора.
// RunInTx снимает копию состояния и откатывает её при ошибке,
// воспроизводя транзакционную семантику настоящего хранилища.
// memCatalog и memReservations — представления того же состояния,
// удовлетворяющие CatalogStore и ReservationStore.
type memStore struct {
	accounts     map[string]*domain.QuotaAccount
	catalog      map[string]map[string]*domain.CatalogEntry
	reservations map[string]map[string]*domain.Reservation
}

type memCatalog struct{ *memStore }

type memReservations struct{ *memStore }

func newMemStore() *memStore {
	return &memStore{
		accounts:     make(map[string]*domain.QuotaAccount),
		catalog:      make(map[string]map[string]*domain.CatalogEntry),
		reservations: make(map[string]map[string]*domain.Reservation),
	}
}

func newMemLedger() (*LedgerService, *memStore) {
	store := newMemStore()
	svc := NewLedgerService(store, store, memCatalog{store}, memReservations{store})
	return svc, store
}

func (m *memStore) snapshot() *memStore {
	snap := newMemStore()
	for id, acc := range m.accounts {
		cp := *acc
		snap.accounts[id] = &cp
	}
	for id, entries := range m.catalog {
		snap.catalog[id] = make(map[string]*domain.CatalogEntry, len(entries))
		for k, e := range entries {
			cp := *e
			if e.DeletedAt != nil {
				t := *e.DeletedAt
				cp.DeletedAt = &t
			}
			snap.catalog[id][k] = &cp
		}
	}
	for id, res := range m.reservations {
		snap.reservations[id] = make(map[string]*domain.Reservation, len(res))
		for k, r := range res {
			cp := *r
			snap.reservations[id][k] = &cp
		}
	}
	return snap
}

func (m *memStore) restore(snap *memStore) {
	m.accounts = snap.accounts
	m.catalog = snap.catalog
	m.reservations = snap.reservations
}

func (m *memStore) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	snap := m.snapshot()
	if err := fn(nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) Get(ctx context.Context, userID string) (*domain.QuotaAccount, error) {
	acc, ok := m.accounts[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *acc
	return &cp, nil
}

func (m *memStore) GetForUpdate(ctx context.Context, tx *sqlx.Tx, userID string) (*domain.QuotaAccount, error) {
	return m.Get(ctx, userID)
}

func (m *memStore) ApplyDeltas(ctx context.Context, tx *sqlx.Tx, userID string, usedDelta, reservedDelta int64) (*domain.QuotaAccount, error) {
	acc, ok := m.accounts[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	acc.UsedBytes += usedDelta
	if acc.UsedBytes < 0 {
		acc.UsedBytes = 0
	}
	acc.ReservedBytes += reservedDelta
	if acc.ReservedBytes < 0 {
		acc.ReservedBytes = 0
	}
	acc.UpdatedAt = time.Now()
	cp := *acc
	return &cp, nil
}

func (m *memStore) Create(ctx context.Context, acc *domain.QuotaAccount) error {
	cp := *acc
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.accounts[acc.UserID] = &cp
	return nil
}

func (m *memStore) UpdateQuotaLimit(ctx context.Context, userID string, newLimit int64) error {
	acc, ok := m.accounts[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	acc.QuotaBytes = newLimit
	return nil
}

func (m memCatalog) ActiveSize(ctx context.Context, tx *sqlx.Tx, userID, key string) (int64, error) {
	entry, ok := m.catalog[userID][key]
	if !ok || entry.DeletedAt != nil {
		return 0, nil
	}
	return entry.SizeBytes, nil
}

func (m memCatalog) ActiveExists(ctx context.Context, tx *sqlx.Tx, userID, key string) (bool, error) {
	entry, ok := m.catalog[userID][key]
	return ok && entry.DeletedAt == nil, nil
}

func (m memCatalog) ListActiveByPrefix(ctx context.Context, userID, prefix string, limit int) ([]string, error) {
	keys := []string{}
	for k, e := range m.catalog[userID] {
		if e.DeletedAt == nil && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m memCatalog) Upsert(ctx context.Context, tx *sqlx.Tx, userID, key string, sizeBytes int64, etag string) error {
	if m.catalog[userID] == nil {
		m.catalog[userID] = make(map[string]*domain.CatalogEntry)
	}
	m.catalog[userID][key] = &domain.CatalogEntry{
		UserID:    userID,
		Key:       key,
		SizeBytes: sizeBytes,
		ETag:      etag,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (m memCatalog) Tombstone(ctx context.Context, tx *sqlx.Tx, userID string, keys []string) ([]string, int64, error) {
	found := []string{}
	var total int64
	now := time.Now()
	for _, k := range keys {
		entry, ok := m.catalog[userID][k]
		if !ok || entry.DeletedAt != nil {
			continue
		}
		entry.DeletedAt = &now
		found = append(found, k)
		total += entry.SizeBytes
	}
	sort.Strings(found)
	return found, total, nil
}

func (m memCatalog) TombstoneByPrefix(ctx context.Context, tx *sqlx.Tx, userID, prefix string, limit int) ([]string, int64, bool, error) {
	matched := []string{}
	for k, e := range m.catalog[userID] {
		if e.DeletedAt == nil && strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}

	_, total, err := m.Tombstone(ctx, tx, userID, matched)
	return matched, total, hasMore, err
}

func (m memReservations) ReclaimExpired(ctx context.Context, tx *sqlx.Tx, userID string, now time.Time) (int64, error) {
	var reclaimed int64
	for k, r := range m.reservations[userID] {
		if r.ExpiresAt.Before(now) {
			reclaimed += r.SizeBytes
			delete(m.reservations[userID], k)
		}
	}
	return reclaimed, nil
}

func (m memReservations) Upsert(ctx context.Context, tx *sqlx.Tx, userID, key string, sizeBytes int64, expiresAt time.Time) error {
	if m.reservations[userID] == nil {
		m.reservations[userID] = make(map[string]*domain.Reservation)
	}
	m.reservations[userID][key] = &domain.Reservation{
		UserID:    userID,
		Key:       key,
		SizeBytes: sizeBytes,
		ExpiresAt: expiresAt,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (m memReservations) Active(ctx context.Context, tx *sqlx.Tx, userID, key string, now time.Time) (int64, error) {
	r, ok := m.reservations[userID][key]
	if !ok || r.ExpiresAt.Before(now) {
		return 0, nil
	}
	return r.SizeBytes, nil
}

func (m memReservations) DeleteKeys(ctx context.Context, tx *sqlx.Tx, userID string, keys []string) (int64, error) {
	var released int64
	for _, k := range keys {
		if r, ok := m.reservations[userID][k]; ok {
			released += r.SizeBytes
			delete(m.reservations[userID], k)
		}
	}
	return released, nil
}
