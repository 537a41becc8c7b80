package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type CatalogRepository struct {
	db *sqlx.DB
}

func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ActiveSize возвращает размер активной (не удаленной) записи, 0 если её нет.
// Если передана транзакция, читаем через неё, чтобы видеть состояние под блокировкой.
func (r *CatalogRepository) ActiveSize(ctx context.Context, tx *sqlx.Tx, userID, key string) (int64, error) {
	query := `
        SELECT COALESCE(SUM(size_bytes), 0)
        FROM catalog_entries
        WHERE user_id = $1 AND key = $2 AND deleted_at IS NULL`

	var size int64
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &size, query, userID, key)
	} else {
		err = r.db.GetContext(ctx, &size, query, userID, key)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get active size: %w", err)
	}

	return size, nil
}

// ActiveExists проверяет наличие активной записи независимо от её размера
func (r *CatalogRepository) ActiveExists(ctx context.Context, tx *sqlx.Tx, userID, key string) (bool, error) {
	query := `
        SELECT EXISTS(
            SELECT 1 FROM catalog_entries
            WHERE user_id = $1 AND key = $2 AND deleted_at IS NULL
        )`

	var exists bool
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &exists, query, userID, key)
	} else {
		err = r.db.GetContext(ctx, &exists, query, userID, key)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check entry existence: %w", err)
	}

	return exists, nil
}

func (r *CatalogRepository) ListActiveByPrefix(ctx context.Context, userID, prefix string, limit int) ([]string, error) {
	query := `
        SELECT key FROM catalog_entries
        WHERE user_id = $1 AND starts_with(key, $2) AND deleted_at IS NULL
        ORDER BY key ASC
        LIMIT $3`

	keys := []string{}
	if err := r.db.SelectContext(ctx, &keys, query, userID, prefix, limit); err != nil {
		return nil, fmt.Errorf("failed to list keys by prefix: %w", err)
	}

	return keys, nil
}

// Upsert записывает объект с семантикой полной замены: новый размер и etag,
// томбстоун снимается, если запись была удалена.
func (r *CatalogRepository) Upsert(ctx context.Context, tx *sqlx.Tx, userID, key string, sizeBytes int64, etag string) error {
	query := `
        INSERT INTO catalog_entries (user_id, key, size_bytes, etag)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id, key) DO UPDATE
        SET size_bytes = EXCLUDED.size_bytes,
            etag = EXCLUDED.etag,
            deleted_at = NULL,
            updated_at = CURRENT_TIMESTAMP`

	if _, err := tx.ExecContext(ctx, query, userID, key, sizeBytes, etag); err != nil {
		return fmt.Errorf("failed to upsert catalog entry: %w", err)
	}

	return nil
}

// Tombstone мягко удаляет активные записи по списку ключей.
// Возвращает реально найденные ключи и сумму их размеров; уже удаленные
// и несуществующие ключи молча пропускаются.
func (r *CatalogRepository) Tombstone(ctx context.Context, tx *sqlx.Tx, userID string, keys []string) ([]string, int64, error) {
	if len(keys) == 0 {
		return []string{}, 0, nil
	}

	query := `
        UPDATE catalog_entries
        SET deleted_at = CURRENT_TIMESTAMP,
            updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $1 AND key = ANY($2) AND deleted_at IS NULL
        RETURNING key, size_bytes`

	rows, err := tx.QueryContext(ctx, query, userID, pq.Array(keys))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to tombstone catalog entries: %w", err)
	}
	defer rows.Close()

	found := []string{}
	var total int64
	for rows.Next() {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			return nil, 0, fmt.Errorf("failed to scan tombstoned entry: %w", err)
		}
		found = append(found, key)
		total += size
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read tombstoned entries: %w", err)
	}

	sort.Strings(found)
	return found, total, nil
}

// TombstoneByPrefix мягко удаляет не больше limit активных записей с данным
// префиксом. hasMore сигнализирует вызывающему, что нужно повторить вызов.
func (r *CatalogRepository) TombstoneByPrefix(ctx context.Context, tx *sqlx.Tx, userID, prefix string, limit int) ([]string, int64, bool, error) {
	query := `
        UPDATE catalog_entries
        SET deleted_at = CURRENT_TIMESTAMP,
            updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $1 AND deleted_at IS NULL AND key IN (
            SELECT key FROM catalog_entries
            WHERE user_id = $1 AND starts_with(key, $2) AND deleted_at IS NULL
            ORDER BY key ASC
            LIMIT $3
        )
        RETURNING key, size_bytes`

	rows, err := tx.QueryContext(ctx, query, userID, prefix, limit)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to tombstone entries by prefix: %w", err)
	}
	defer rows.Close()

	found := []string{}
	var total int64
	for rows.Next() {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			return nil, 0, false, fmt.Errorf("failed to scan tombstoned entry: %w", err)
		}
		found = append(found, key)
		total += size
	}
	if err := rows.Err(); err != nil {
		return nil, 0, false, fmt.Errorf("failed to read tombstoned entries: %w", err)
	}

	var hasMore bool
	err = tx.GetContext(ctx, &hasMore, `
        SELECT EXISTS(
            SELECT 1 FROM catalog_entries
            WHERE user_id = $1 AND starts_with(key, $2) AND deleted_at IS NULL
        )`, userID, prefix)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to check remaining entries: %w", err)
	}

	sort.Strings(found)
	return found, total, hasMore, nil
}
