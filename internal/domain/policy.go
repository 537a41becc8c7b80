package domain

import "math"

// Дефолтные лимиты по тарифам
const (
	FreeTierQuotaBytes = int64(1073741824)  // 1GB
	PaidTierQuotaBytes = int64(10737418240) // 10GB
)

// ResolveQuota возвращает лимит квоты для аккаунта: явное переопределение,
// если оно задано и положительно, иначе дефолт по тарифу.
func ResolveQuota(tier string, explicitOverride int64) int64 {
	if explicitOverride > 0 {
		return explicitOverride
	}

	switch tier {
	case TierPaid:
		return PaidTierQuotaBytes
	default:
		return FreeTierQuotaBytes
	}
}

// Thresholds вычисляет мягкий и жесткий пороги для лимита квоты.
// Мягкий порог равен самой квоте, жесткий дает 10% запас сверху.
func Thresholds(quotaBytes int64) (softCapBytes, hardCapBytes int64) {
	if quotaBytes < 1 {
		quotaBytes = 1
	}
	return quotaBytes, saturatingAdd(quotaBytes, quotaBytes/10)
}

// saturatingAdd складывает неотрицательные счетчики байт без переполнения
func saturatingAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
