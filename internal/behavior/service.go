package behavior

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/internal/models"
	"github.com/paytech/fraud-detection/internal/repositories"
)

// TransactionStore is the slice of the store the updater reads from
type TransactionStore interface {
	GetAcceptedByUser(ctx context.Context, userID string) ([]*models.Transaction, error)
}

// ProfileStore persists behavior profiles; the updater is its sole writer
type ProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.UserBehavior, error)
	Upsert(ctx context.Context, b *models.UserBehavior) error
}

// Cache holds hot profile snapshots and the short aggregation locks
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
}

const (
	profileCacheTTL = 5 * time.Minute
	updateLockTTL   = 10 * time.Second
)

// ProfileCacheKey is the cache key for a user's behavior snapshot
func ProfileCacheKey(userID string) string {
	return "behavior:" + userID
}

// Updater rewrites behavior profiles from accepted transaction history.
// It is idempotent: duplicate or out-of-order update events converge to
// the same profile because each run reads the latest committed history.
type Updater struct {
	txStore  TransactionStore
	profiles ProfileStore
	cache    Cache
}

// NewUpdater creates a behavior updater
func NewUpdater(txStore TransactionStore, profiles ProfileStore, cache Cache) *Updater {
	return &Updater{
		txStore:  txStore,
		profiles: profiles,
		cache:    cache,
	}
}

// Update recomputes the profile for one user. A short redis lock
// collapses concurrent updates for the same user; the skipped run is
// harmless since the next transaction schedules another one.
func (u *Updater) Update(ctx context.Context, userID string) error {
	if u.cache != nil {
		acquired, err := u.cache.SetNX(ctx, "behavior:lock:"+userID, 1, updateLockTTL)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Behavior update lock unavailable, proceeding")
		} else if !acquired {
			log.Debug().Str("user_id", userID).Msg("Behavior update already in flight, skipping")
			return nil
		}
	}

	existing, err := u.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repositories.ErrBehaviorNotFound) {
			return fmt.Errorf("failed to load behavior profile: %w", err)
		}
		existing = nil
	}

	accepted, err := u.txStore.GetAcceptedByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load accepted transactions: %w", err)
	}

	updated := Aggregate(existing, userID, accepted, time.Now())
	if updated == nil {
		// First reference with no accepted history yet
		updated = NewInitialBehavior(userID)
	} else if updated == existing {
		// No accepted history; leave the stored profile untouched
		return nil
	}

	if err := u.profiles.Upsert(ctx, updated); err != nil {
		return fmt.Errorf("failed to persist behavior profile: %w", err)
	}

	if u.cache != nil {
		if err := u.cache.Set(ctx, ProfileCacheKey(userID), updated, profileCacheTTL); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to cache behavior profile")
		}
	}

	log.Debug().
		Str("user_id", userID).
		Int("data_points", updated.DataPointsCount).
		Float64("avg_amount", updated.AvgTransactionAmount).
		Msg("Behavior profile updated")

	return nil
}
