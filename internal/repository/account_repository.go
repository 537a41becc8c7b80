package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"orbitdrive/internal/domain"
)

type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Get читает аккаунт без блокировки (для снимков использования)
func (r *AccountRepository) Get(ctx context.Context, userID string) (*domain.QuotaAccount, error) {
	var acc domain.QuotaAccount

	err := r.db.GetContext(ctx, &acc,
		`SELECT * FROM quota_accounts WHERE user_id = $1`,
		userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get quota account: %w", err)
	}

	return &acc, nil
}

// GetForUpdate берет эксклюзивную блокировку на строку аккаунта до конца
// транзакции. Все мутации квоты одного пользователя сериализуются здесь.
func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, userID string) (*domain.QuotaAccount, error) {
	var acc domain.QuotaAccount

	err := tx.GetContext(ctx, &acc,
		`SELECT * FROM quota_accounts WHERE user_id = $1 FOR UPDATE`,
		userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock quota account: %w", err)
	}

	return &acc, nil
}

// ApplyDeltas сдвигает счетчики аккаунта и возвращает новые значения.
// GREATEST страхует инварианты used_bytes >= 0 и reserved_bytes >= 0.
func (r *AccountRepository) ApplyDeltas(ctx context.Context, tx *sqlx.Tx, userID string, usedDelta, reservedDelta int64) (*domain.QuotaAccount, error) {
	var acc domain.QuotaAccount

	query := `
        UPDATE quota_accounts
        SET used_bytes = GREATEST(0, used_bytes + $1),
            reserved_bytes = GREATEST(0, reserved_bytes + $2),
            updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $3
        RETURNING *`

	err := tx.GetContext(ctx, &acc, query, usedDelta, reservedDelta, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update quota counters: %w", err)
	}

	return &acc, nil
}

func (r *AccountRepository) Create(ctx context.Context, acc *domain.QuotaAccount) error {
	query := `
        INSERT INTO quota_accounts (user_id, quota_bytes, used_bytes, reserved_bytes)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		acc.UserID,
		acc.QuotaBytes,
		acc.UsedBytes,
		acc.ReservedBytes,
	).Scan(&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create quota account: %w", err)
	}

	return nil
}

func (r *AccountRepository) UpdateQuotaLimit(ctx context.Context, userID string, newLimit int64) error {
	query := `
        UPDATE quota_accounts
        SET quota_bytes = $1,
            updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $2`

	result, err := r.db.ExecContext(ctx, query, newLimit, userID)
	if err != nil {
		return fmt.Errorf("failed to update quota limit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}
