package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveQuota(t *testing.T) {
	tests := []struct {
		name     string
		tier     string
		override int64
		want     int64
	}{
		{"free tier default", TierFree, 0, FreeTierQuotaBytes},
		{"paid tier default", TierPaid, 0, PaidTierQuotaBytes},
		{"unknown tier falls back to free", "enterprise", 0, FreeTierQuotaBytes},
		{"explicit override wins", TierFree, 12345, 12345},
		{"negative override ignored", TierPaid, -1, PaidTierQuotaBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveQuota(tt.tier, tt.override))
		})
	}
}

func TestThresholds(t *testing.T) {
	tests := []struct {
		quota    int64
		wantSoft int64
		wantHard int64
	}{
		{100, 100, 110},
		{101, 101, 111},
		{105, 105, 115},
		{1, 1, 1},
		{9, 9, 9},
		{10, 10, 11},
		{0, 1, 1}, // лимит зажимается снизу до 1 байта
		{math.MaxInt64, math.MaxInt64, math.MaxInt64}, // жесткий порог насыщается, а не переполняется
	}

	for _, tt := range tests {
		soft, hard := Thresholds(tt.quota)
		assert.Equal(t, tt.wantSoft, soft, "soft cap for quota %d", tt.quota)
		assert.Equal(t, tt.wantHard, hard, "hard cap for quota %d", tt.quota)
	}
}

func TestBuildUsage(t *testing.T) {
	acc := &QuotaAccount{UserID: "u", QuotaBytes: 100, UsedBytes: 40, ReservedBytes: 20}
	usage := BuildUsage(acc)

	assert.Equal(t, int64(60), usage.EffectiveUsedBytes)
	assert.Equal(t, int64(40), usage.LeftBytes)
	assert.Equal(t, UsageStatusOK, usage.Status)

	acc.UsedBytes = 90
	usage = BuildUsage(acc)
	assert.Equal(t, int64(110), usage.EffectiveUsedBytes)
	assert.Equal(t, int64(0), usage.LeftBytes, "left never goes negative")
	assert.Equal(t, UsageStatusSoftOver, usage.Status, "110 is over quota but not over hard cap")

	acc.UsedBytes = 100
	usage = BuildUsage(acc)
	assert.Equal(t, UsageStatusHardOver, usage.Status)
}

func TestBuildUsageSaturatesOnHugeCounters(t *testing.T) {
	acc := &QuotaAccount{UserID: "u", QuotaBytes: 100, UsedBytes: math.MaxInt64 - 1, ReservedBytes: math.MaxInt64 - 1}
	usage := BuildUsage(acc)

	assert.Equal(t, int64(math.MaxInt64), usage.EffectiveUsedBytes, "sum must saturate instead of wrapping negative")
	assert.Equal(t, int64(0), usage.LeftBytes)
	assert.Equal(t, UsageStatusHardOver, usage.Status)
}
