package domain

import "time"

// CatalogEntry — запись об объекте пользователя в хранилище.
// Удаление мягкое: deleted_at ставится вместо физического удаления строки.
type CatalogEntry struct {
	UserID    string     `json:"user_id" db:"user_id"`
	Key       string     `json:"key" db:"key"`
	SizeBytes int64      `json:"size_bytes" db:"size_bytes"`
	ETag      string     `json:"etag" db:"etag"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}
