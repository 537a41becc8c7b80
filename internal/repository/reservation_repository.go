package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type ReservationRepository struct {
	db *sqlx.DB
}

func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// ReclaimExpired удаляет все просроченные брони пользователя и возвращает
// сумму их размеров, чтобы вызывающий уменьшил reserved_bytes.
// Вызывается в начале каждой мутирующей операции, фонового чистильщика нет.
func (r *ReservationRepository) ReclaimExpired(ctx context.Context, tx *sqlx.Tx, userID string, now time.Time) (int64, error) {
	query := `
        WITH expired AS (
            DELETE FROM reservations
            WHERE user_id = $1 AND expires_at < $2
            RETURNING size_bytes
        )
        SELECT COALESCE(SUM(size_bytes), 0) FROM expired`

	var reclaimed int64
	if err := tx.GetContext(ctx, &reclaimed, query, userID, now); err != nil {
		return 0, fmt.Errorf("failed to reclaim expired reservations: %w", err)
	}

	return reclaimed, nil
}

// Upsert создает или заменяет бронь для ключа
func (r *ReservationRepository) Upsert(ctx context.Context, tx *sqlx.Tx, userID, key string, sizeBytes int64, expiresAt time.Time) error {
	query := `
        INSERT INTO reservations (user_id, key, size_bytes, expires_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id, key) DO UPDATE
        SET size_bytes = EXCLUDED.size_bytes,
            expires_at = EXCLUDED.expires_at,
            updated_at = CURRENT_TIMESTAMP`

	if _, err := tx.ExecContext(ctx, query, userID, key, sizeBytes, expiresAt); err != nil {
		return fmt.Errorf("failed to upsert reservation: %w", err)
	}

	return nil
}

// Active возвращает размер непросроченной брони для ключа, 0 если её нет
func (r *ReservationRepository) Active(ctx context.Context, tx *sqlx.Tx, userID, key string, now time.Time) (int64, error) {
	query := `
        SELECT COALESCE(SUM(size_bytes), 0)
        FROM reservations
        WHERE user_id = $1 AND key = $2 AND expires_at >= $3`

	var size int64
	if err := tx.GetContext(ctx, &size, query, userID, key, now); err != nil {
		return 0, fmt.Errorf("failed to get active reservation: %w", err)
	}

	return size, nil
}

// DeleteKeys удаляет брони по списку ключей и возвращает сумму освобожденных байт
func (r *ReservationRepository) DeleteKeys(ctx context.Context, tx *sqlx.Tx, userID string, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	query := `
        WITH released AS (
            DELETE FROM reservations
            WHERE user_id = $1 AND key = ANY($2)
            RETURNING size_bytes
        )
        SELECT COALESCE(SUM(size_bytes), 0) FROM released`

	var released int64
	if err := tx.GetContext(ctx, &released, query, userID, pq.Array(keys)); err != nil {
		return 0, fmt.Errorf("failed to delete reservations: %w", err)
	}

	return released, nil
}
