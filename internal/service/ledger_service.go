package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"orbitdrive/internal/domain"
)

const (
	defaultReserveTTLSeconds = 900
	minReserveTTLSeconds     = 60
	maxReserveTTLSeconds     = 3600

	defaultListLimit = 1000
	maxListLimit     = 5000
)

// TxRunner выполняет функцию внутри одной транзакции
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// AccountStore — строки quota_accounts. Счетчики меняются только через
// ApplyDeltas и только под блокировкой GetForUpdate.
type AccountStore interface {
	Get(ctx context.Context, userID string) (*domain.QuotaAccount, error)
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, userID string) (*domain.QuotaAccount, error)
	ApplyDeltas(ctx context.Context, tx *sqlx.Tx, userID string, usedDelta, reservedDelta int64) (*domain.QuotaAccount, error)
	Create(ctx context.Context, acc *domain.QuotaAccount) error
	UpdateQuotaLimit(ctx context.Context, userID string, newLimit int64) error
}

// CatalogStore — записи об объектах с мягким удалением
type CatalogStore interface {
	ActiveSize(ctx context.Context, tx *sqlx.Tx, userID, key string) (int64, error)
	ActiveExists(ctx context.Context, tx *sqlx.Tx, userID, key string) (bool, error)
	ListActiveByPrefix(ctx context.Context, userID, prefix string, limit int) ([]string, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, userID, key string, sizeBytes int64, etag string) error
	Tombstone(ctx context.Context, tx *sqlx.Tx, userID string, keys []string) ([]string, int64, error)
	TombstoneByPrefix(ctx context.Context, tx *sqlx.Tx, userID, prefix string, limit int) ([]string, int64, bool, error)
}

// ReservationStore — временные брони под незавершенные загрузки
type ReservationStore interface {
	ReclaimExpired(ctx context.Context, tx *sqlx.Tx, userID string, now time.Time) (int64, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, userID, key string, sizeBytes int64, expiresAt time.Time) error
	Active(ctx context.Context, tx *sqlx.Tx, userID, key string, now time.Time) (int64, error)
	DeleteKeys(ctx context.Context, tx *sqlx.Tx, userID string, keys []string) (int64, error)
}

// LedgerService — координатор учета квоты. Каждая мутирующая операция
// выполняется как одна транзакция: блокировка строки аккаунта, сбор
// просроченных броней, вычисление дельты от текущего состояния, проверка
// жесткого порога, применение изменений.
type LedgerService struct {
	tx           TxRunner
	accounts     AccountStore
	catalog      CatalogStore
	reservations ReservationStore
	now          func() time.Time
}

func NewLedgerService(tx TxRunner, accounts AccountStore, catalog CatalogStore, reservations ReservationStore) *LedgerService {
	return &LedgerService{
		tx:           tx,
		accounts:     accounts,
		catalog:      catalog,
		reservations: reservations,
		now:          time.Now,
	}
}

type MutationResult struct {
	Usage   domain.Usage `json:"usage"`
	Warning bool         `json:"warning"`
}

type ReserveResult struct {
	Usage     domain.Usage `json:"usage"`
	Warning   bool         `json:"warning"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type DeletePrefixResult struct {
	Keys    []string     `json:"keys"`
	Usage   domain.Usage `json:"usage"`
	HasMore bool         `json:"has_more"`
}

// GetUsage возвращает снимок использования без блокировки
func (s *LedgerService) GetUsage(ctx context.Context, userID string) (domain.Usage, error) {
	if userID == "" {
		return domain.Usage{}, fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}

	acc, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return domain.Usage{}, err
	}

	return domain.BuildUsage(acc), nil
}

// Reserve берет бронь под ожидаемую загрузку. Держится только приращение
// сверх уже закоммиченного размера ключа: повторная загрузка того же
// размера не стоит дополнительной емкости.
func (s *LedgerService) Reserve(ctx context.Context, userID, key string, expectedSizeBytes, ttlSeconds int64) (*ReserveResult, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", domain.ErrValidation)
	}

	expectedSizeBytes = clampSize(expectedSizeBytes)
	expiresAt := s.now().Add(time.Duration(clampTTLSeconds(ttlSeconds)) * time.Second)

	usage, err := s.mutate(ctx, userID, func(tx *sqlx.Tx, acc *domain.QuotaAccount) (int64, int64, error) {
		currentSize, err := s.catalog.ActiveSize(ctx, tx, userID, key)
		if err != nil {
			return 0, 0, err
		}

		reserveNeeded := expectedSizeBytes - currentSize
		if reserveNeeded < 0 {
			reserveNeeded = 0
		}

		existing, err := s.reservations.Active(ctx, tx, userID, key, s.now())
		if err != nil {
			return 0, 0, err
		}

		reserveDelta := reserveNeeded - existing
		if err := s.checkHardCap(acc, acc.UsedBytes+acc.ReservedBytes, reserveDelta); err != nil {
			return 0, 0, err
		}

		if err := s.reservations.Upsert(ctx, tx, userID, key, reserveNeeded, expiresAt); err != nil {
			return 0, 0, err
		}

		return 0, reserveDelta, nil
	})
	if err != nil {
		return nil, err
	}

	return &ReserveResult{
		Usage:     usage,
		Warning:   softOver(usage),
		ExpiresAt: expiresAt,
	}, nil
}

// Confirm завершает двухфазную загрузку: бронь снимается независимо от
// того, совпала ли оценка с фактом, а каталог и used_bytes обновляются
// по фактическому размеру.
func (s *LedgerService) Confirm(ctx context.Context, userID, key string, actualSizeBytes int64, etag string) (*MutationResult, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", domain.ErrValidation)
	}

	actualSizeBytes = clampSize(actualSizeBytes)

	usage, err := s.mutate(ctx, userID, func(tx *sqlx.Tx, acc *domain.QuotaAccount) (int64, int64, error) {
		currentSize, err := s.catalog.ActiveSize(ctx, tx, userID, key)
		if err != nil {
			return 0, 0, err
		}

		released, err := s.reservations.DeleteKeys(ctx, tx, userID, []string{key})
		if err != nil {
			return 0, 0, err
		}

		actualDelta := actualSizeBytes - currentSize
		reservedAfter := acc.ReservedBytes - released
		if reservedAfter < 0 {
			reservedAfter = 0
		}

		if err := s.checkHardCap(acc, acc.UsedBytes+reservedAfter, actualDelta); err != nil {
			return 0, 0, err
		}

		if err := s.catalog.Upsert(ctx, tx, userID, key, actualSizeBytes, etag); err != nil {
			return 0, 0, err
		}

		return actualDelta, -released, nil
	})
	if err != nil {
		return nil, err
	}

	return &MutationResult{Usage: usage, Warning: softOver(usage)}, nil
}

// Upsert — прямой путь записи без брони, для мелких доверенных загрузок
func (s *LedgerService) Upsert(ctx context.Context, userID, key string, sizeBytes int64, etag string) (*MutationResult, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", domain.ErrValidation)
	}

	sizeBytes = clampSize(sizeBytes)

	usage, err := s.mutate(ctx, userID, func(tx *sqlx.Tx, acc *domain.QuotaAccount) (int64, int64, error) {
		currentSize, err := s.catalog.ActiveSize(ctx, tx, userID, key)
		if err != nil {
			return 0, 0, err
		}

		delta := sizeBytes - currentSize
		if err := s.checkHardCap(acc, acc.UsedBytes+acc.ReservedBytes, delta); err != nil {
			return 0, 0, err
		}

		if err := s.catalog.Upsert(ctx, tx, userID, key, sizeBytes, etag); err != nil {
			return 0, 0, err
		}

		return delta, 0, nil
	})
	if err != nil {
		return nil, err
	}

	return &MutationResult{Usage: usage, Warning: softOver(usage)}, nil
}

// Cancel снимает брони по списку ключей. Ключи без активной брони пропускаются.
func (s *LedgerService) Cancel(ctx context.Context, userID string, keys []string) error {
	keys = dedupeKeys(keys)

	_, err := s.mutate(ctx, userID, func(tx *sqlx.Tx, acc *domain.QuotaAccount) (int64, int64, error) {
		released, err := s.reservations.DeleteKeys(ctx, tx, userID, keys)
		if err != nil {
			return 0, 0, err
		}
		return 0, -released, nil
	})

	return err
}

// DeleteKeys помечает объекты удаленными и списывает их размер из used_bytes
func (s *LedgerService) DeleteKeys(ctx context.Context, userID string, keys []string) (domain.Usage, error) {
	keys = dedupeKeys(keys)

	return s.mutate(ctx, userID, func(tx *sqlx.Tx, acc *domain.QuotaAccount) (int64, int64, error) {
		_, total, err := s.catalog.Tombstone(ctx, tx, userID, keys)
		if err != nil {
			return 0, 0, err
		}
		return -total, 0, nil
	})
}

// DeletePrefix — порционное удаление по префиксу. При hasMore=true вызывающий
// должен повторить вызов, чтобы добить остаток.
func (s *LedgerService) DeletePrefix(ctx context.Context, userID, prefix string, limit int) (*DeletePrefixResult, error) {
	limit = clampLimit(limit)

	var deleted []string
	var hasMore bool

	usage, err := s.mutate(ctx, userID, func(tx *sqlx.Tx, acc *domain.QuotaAccount) (int64, int64, error) {
		keys, total, more, err := s.catalog.TombstoneByPrefix(ctx, tx, userID, prefix, limit)
		if err != nil {
			return 0, 0, err
		}
		deleted = keys
		hasMore = more
		return -total, 0, nil
	})
	if err != nil {
		return nil, err
	}

	return &DeletePrefixResult{Keys: deleted, Usage: usage, HasMore: hasMore}, nil
}

// GetActiveSize возвращает закоммиченный размер ключа, 0 для отсутствующих
// и удаленных записей
func (s *LedgerService) GetActiveSize(ctx context.Context, userID, key string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}
	if key == "" {
		return 0, fmt.Errorf("%w: empty key", domain.ErrValidation)
	}

	return s.catalog.ActiveSize(ctx, nil, userID, key)
}

// HasActive сообщает, существует ли активная запись по ключу.
// В отличие от GetActiveSize отличает пустой объект от отсутствующего.
func (s *LedgerService) HasActive(ctx context.Context, userID, key string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}
	if key == "" {
		return false, fmt.Errorf("%w: empty key", domain.ErrValidation)
	}

	return s.catalog.ActiveExists(ctx, nil, userID, key)
}

func (s *LedgerService) ListActiveByPrefix(ctx context.Context, userID, prefix string, limit int) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}

	return s.catalog.ListActiveByPrefix(ctx, userID, prefix, clampLimit(limit))
}

// CreateAccount заводит аккаунт квоты. Лимит берется из явного
// переопределения или из дефолта тарифа; операции леджера сами аккаунты
// никогда не создают.
func (s *LedgerService) CreateAccount(ctx context.Context, userID, tier string, quotaOverride int64) (*domain.QuotaAccount, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}

	acc := &domain.QuotaAccount{
		UserID:     userID,
		QuotaBytes: domain.ResolveQuota(tier, quotaOverride),
	}

	if err := s.accounts.Create(ctx, acc); err != nil {
		return nil, err
	}

	log.Printf("[Ledger] Создан аккаунт квоты %s: лимит %d байт", userID, acc.QuotaBytes)
	return acc, nil
}

// UpdateQuotaLimit — административное изменение лимита
func (s *LedgerService) UpdateQuotaLimit(ctx context.Context, userID string, newLimit int64) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}
	if newLimit < 1 {
		return fmt.Errorf("%w: quota limit must be positive", domain.ErrValidation)
	}

	return s.accounts.UpdateQuotaLimit(ctx, userID, newLimit)
}

// mutate выполняет шаги координатора, общие для всех мутирующих операций:
// блокировка аккаунта, сбор просроченных броней, вычисление дельт операцией,
// одно применение дельт к счетчикам, коммит.
func (s *LedgerService) mutate(ctx context.Context, userID string, fn func(tx *sqlx.Tx, acc *domain.QuotaAccount) (usedDelta, reservedDelta int64, err error)) (domain.Usage, error) {
	if userID == "" {
		return domain.Usage{}, fmt.Errorf("%w: empty user id", domain.ErrValidation)
	}

	var final *domain.QuotaAccount

	err := s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		acc, err := s.accounts.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		reclaimed, err := s.reservations.ReclaimExpired(ctx, tx, userID, s.now())
		if err != nil {
			return err
		}
		if reclaimed > 0 {
			acc, err = s.accounts.ApplyDeltas(ctx, tx, userID, 0, -reclaimed)
			if err != nil {
				return err
			}
			log.Printf("[Ledger] Возвращено %d байт из просроченных броней пользователя %s", reclaimed, userID)
		}

		usedDelta, reservedDelta, err := fn(tx, acc)
		if err != nil {
			return err
		}

		final, err = s.accounts.ApplyDeltas(ctx, tx, userID, usedDelta, reservedDelta)
		return err
	})
	if err != nil {
		return domain.Usage{}, err
	}

	return domain.BuildUsage(final), nil
}

// checkHardCap сравнивает дельту операции с оставшимся запасом до жесткого
// порога. Сумма base + delta не вычисляется: при гигантской дельте она
// переполнила бы int64 и отрицательное значение проскочило бы проверку.
// baseBytes складывается из счетчиков, ограниченных порогом, и не переполняется.
func (s *LedgerService) checkHardCap(acc *domain.QuotaAccount, baseBytes, deltaBytes int64) error {
	_, hard := domain.Thresholds(acc.QuotaBytes)
	headroom := hard - baseBytes
	if deltaBytes > headroom {
		log.Printf("[Ledger] Отказ по жесткому порогу для %s: дельта %d байт при запасе %d",
			acc.UserID, deltaBytes, headroom)
		return fmt.Errorf("%w: limit %d bytes", domain.ErrHardCapExceeded, hard)
	}
	return nil
}

func softOver(u domain.Usage) bool {
	return u.EffectiveUsedBytes > u.SoftCapBytes
}

func clampSize(size int64) int64 {
	if size < 0 {
		return 0
	}
	return size
}

func clampTTLSeconds(ttl int64) int64 {
	switch {
	case ttl <= 0:
		return defaultReserveTTLSeconds
	case ttl < minReserveTTLSeconds:
		return minReserveTTLSeconds
	case ttl > maxReserveTTLSeconds:
		return maxReserveTTLSeconds
	}
	return ttl
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
