package cache

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"bursar-backend/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Read-through cache for stable reference data (pricing tiers, chart of
// accounts). Entries carry a TTL and are busted explicitly on write. When
// REDIS_ADDR is not configured every read falls through to the database, so the
// ledger behaves identically with or without Redis.

var (
	rdb *redis.Client
	ttl = 5 * time.Minute
)

const (
	tiersKeyPrefix = "bursar:pricing-tiers:"
	chartKey       = "bursar:chart-of-accounts"
)

// Connect initializes the Redis client from the environment. A missing
// REDIS_ADDR disables caching rather than failing startup.
func Connect() {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return
	}
	rdb = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Second
		}
	}
}

func get(ctx context.Context, key string, dst any) bool {
	if rdb == nil {
		return false
	}
	raw, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func set(ctx context.Context, key string, v any) {
	if rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		logrus.WithField("key", key).WithError(err).Warn("cache set failed")
	}
}

func bust(ctx context.Context, key string) {
	if rdb == nil {
		return
	}
	if err := rdb.Del(ctx, key).Err(); err != nil {
		logrus.WithField("key", key).WithError(err).Warn("cache bust failed")
	}
}

// PricingTiers returns all tiers for a billable item, newest EffectiveFrom
// first, from cache or the database.
func PricingTiers(ctx context.Context, db *gorm.DB, billableItemRef string) ([]models.PricingTier, error) {
	key := tiersKeyPrefix + billableItemRef
	var tiers []models.PricingTier
	if get(ctx, key, &tiers) {
		return tiers, nil
	}
	err := db.Where("billable_item_ref = ?", billableItemRef).
		Order("effective_from DESC").
		Find(&tiers).Error
	if err != nil {
		return nil, err
	}
	set(ctx, key, tiers)
	return tiers, nil
}

// BustPricingTiers invalidates the tier cache for one billable item.
func BustPricingTiers(ctx context.Context, billableItemRef string) {
	bust(ctx, tiersKeyPrefix+billableItemRef)
}

// ChartOfAccounts returns the GL accounts keyed by code.
func ChartOfAccounts(ctx context.Context, db *gorm.DB) (map[string]models.GLAccount, error) {
	var accounts []models.GLAccount
	if !get(ctx, chartKey, &accounts) {
		if err := db.Find(&accounts).Error; err != nil {
			return nil, err
		}
		set(ctx, chartKey, accounts)
	}
	byCode := make(map[string]models.GLAccount, len(accounts))
	for _, a := range accounts {
		byCode[a.Code] = a
	}
	return byCode, nil
}

// BustChartOfAccounts invalidates the chart cache after an account write.
func BustChartOfAccounts(ctx context.Context) {
	bust(ctx, chartKey)
}
