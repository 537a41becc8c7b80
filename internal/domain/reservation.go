package domain

import "time"

// Reservation — временная бронь байтов под незавершенную загрузку.
// На пару (user_id, key) может существовать не больше одной брони.
// SizeBytes хранит только приращение сверх уже закоммиченного размера.
type Reservation struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Key       string    `json:"key" db:"key"`
	SizeBytes int64     `json:"size_bytes" db:"size_bytes"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
