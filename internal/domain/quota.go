package domain

import "time"

// Статусы использования квоты
const (
	UsageStatusOK       = "ok"
	UsageStatusSoftOver = "soft_over"
	UsageStatusHardOver = "hard_over"
)

// Тарифы аккаунта
const (
	TierFree = "free"
	TierPaid = "paid"
)

type QuotaAccount struct {
	UserID        string    `json:"user_id" db:"user_id"`
	QuotaBytes    int64     `json:"quota_bytes" db:"quota_bytes"`
	UsedBytes     int64     `json:"used_bytes" db:"used_bytes"`
	ReservedBytes int64     `json:"reserved_bytes" db:"reserved_bytes"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Usage — снимок использования квоты для внешних вызывающих
type Usage struct {
	QuotaBytes         int64  `json:"quota_bytes"`
	UsedBytes          int64  `json:"used_bytes"`
	ReservedBytes      int64  `json:"reserved_bytes"`
	EffectiveUsedBytes int64  `json:"effective_used_bytes"`
	LeftBytes          int64  `json:"left_bytes"`
	SoftCapBytes       int64  `json:"soft_cap_bytes"`
	HardCapBytes       int64  `json:"hard_cap_bytes"`
	Status             string `json:"status"`
}

// BuildUsage собирает снимок использования из строки аккаунта
func BuildUsage(acc *QuotaAccount) Usage {
	soft, hard := Thresholds(acc.QuotaBytes)
	effective := saturatingAdd(acc.UsedBytes, acc.ReservedBytes)

	left := acc.QuotaBytes - effective
	if left < 0 {
		left = 0
	}

	status := UsageStatusOK
	switch {
	case effective > hard:
		status = UsageStatusHardOver
	case effective > soft:
		status = UsageStatusSoftOver
	}

	return Usage{
		QuotaBytes:         acc.QuotaBytes,
		UsedBytes:          acc.UsedBytes,
		ReservedBytes:      acc.ReservedBytes,
		EffectiveUsedBytes: effective,
		LeftBytes:          left,
		SoftCapBytes:       soft,
		HardCapBytes:       hard,
		Status:             status,
	}
}
