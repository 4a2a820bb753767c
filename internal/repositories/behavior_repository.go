package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/internal/models"
)

var (
	ErrBehaviorNotFound = errors.New("behavior profile not found")
)

// BehaviorRepository handles user behavior profile operations. Profile list
// fields are native slices in memory and JSON-encoded only here, at the
// store boundary.
type BehaviorRepository struct {
	db *Database
}

// NewBehaviorRepository creates a new behavior repository
func NewBehaviorRepository(db *Database) *BehaviorRepository {
	return &BehaviorRepository{db: db}
}

// GetByUserID retrieves a user's behavior profile
func (r *BehaviorRepository) GetByUserID(ctx context.Context, userID string) (*models.UserBehavior, error) {
	query := `
		SELECT user_id, avg_transaction_amount, max_transaction_amount,
			   min_transaction_amount, std_dev_transaction_amount,
			   transactions_per_day, transactions_per_week, transactions_per_month,
			   preferred_hours, preferred_days, frequent_cities, frequent_countries,
			   known_devices, known_ips, frequent_merchants, frequent_categories,
			   consistency_score, diversity_score, velocity_pattern,
			   failed_attempts, chargebacks, disputed_transactions, data_points_count,
			   last_updated, created_at
		FROM user_behaviors
		WHERE user_id = $1
	`

	b := &models.UserBehavior{}
	var preferredHours, preferredDays, frequentCities, frequentCountries []byte
	var knownDevices, knownIPs, frequentMerchants, frequentCategories []byte

	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&b.UserID,
		&b.AvgTransactionAmount,
		&b.MaxTransactionAmount,
		&b.MinTransactionAmount,
		&b.StdDevTransactionAmount,
		&b.TransactionsPerDay,
		&b.TransactionsPerWeek,
		&b.TransactionsPerMonth,
		&preferredHours,
		&preferredDays,
		&frequentCities,
		&frequentCountries,
		&knownDevices,
		&knownIPs,
		&frequentMerchants,
		&frequentCategories,
		&b.ConsistencyScore,
		&b.DiversityScore,
		&b.VelocityPattern,
		&b.FailedAttempts,
		&b.Chargebacks,
		&b.DisputedTransactions,
		&b.DataPointsCount,
		&b.LastUpdated,
		&b.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBehaviorNotFound
		}
		return nil, err
	}

	decodeList(preferredHours, &b.PreferredHours, "preferred_hours")
	decodeList(preferredDays, &b.PreferredDays, "preferred_days")
	decodeList(frequentCities, &b.FrequentCities, "frequent_cities")
	decodeList(frequentCountries, &b.FrequentCountries, "frequent_countries")
	decodeList(knownDevices, &b.KnownDevices, "known_devices")
	decodeList(knownIPs, &b.KnownIPs, "known_ips")
	decodeList(frequentMerchants, &b.FrequentMerchants, "frequent_merchants")
	decodeList(frequentCategories, &b.FrequentCategories, "frequent_categories")

	return b, nil
}

// Upsert writes a behavior profile wholesale, creating the row on first
// reference. The aggregator is the sole writer, so last-write-wins is safe.
func (r *BehaviorRepository) Upsert(ctx context.Context, b *models.UserBehavior) error {
	query := `
		INSERT INTO user_behaviors (
			user_id, avg_transaction_amount, max_transaction_amount,
			min_transaction_amount, std_dev_transaction_amount,
			transactions_per_day, transactions_per_week, transactions_per_month,
			preferred_hours, preferred_days, frequent_cities, frequent_countries,
			known_devices, known_ips, frequent_merchants, frequent_categories,
			consistency_score, diversity_score, velocity_pattern,
			failed_attempts, chargebacks, disputed_transactions, data_points_count,
			last_updated, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)
		ON CONFLICT (user_id) DO UPDATE SET
			avg_transaction_amount = EXCLUDED.avg_transaction_amount,
			max_transaction_amount = EXCLUDED.max_transaction_amount,
			min_transaction_amount = EXCLUDED.min_transaction_amount,
			std_dev_transaction_amount = EXCLUDED.std_dev_transaction_amount,
			transactions_per_day = EXCLUDED.transactions_per_day,
			transactions_per_week = EXCLUDED.transactions_per_week,
			transactions_per_month = EXCLUDED.transactions_per_month,
			preferred_hours = EXCLUDED.preferred_hours,
			preferred_days = EXCLUDED.preferred_days,
			frequent_cities = EXCLUDED.frequent_cities,
			frequent_countries = EXCLUDED.frequent_countries,
			known_devices = EXCLUDED.known_devices,
			known_ips = EXCLUDED.known_ips,
			frequent_merchants = EXCLUDED.frequent_merchants,
			frequent_categories = EXCLUDED.frequent_categories,
			consistency_score = EXCLUDED.consistency_score,
			diversity_score = EXCLUDED.diversity_score,
			velocity_pattern = EXCLUDED.velocity_pattern,
			failed_attempts = EXCLUDED.failed_attempts,
			chargebacks = EXCLUDED.chargebacks,
			disputed_transactions = EXCLUDED.disputed_transactions,
			data_points_count = EXCLUDED.data_points_count,
			last_updated = EXCLUDED.last_updated
	`

	b.LastUpdated = time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = b.LastUpdated
	}

	_, err := r.db.Pool.Exec(ctx, query,
		b.UserID,
		b.AvgTransactionAmount,
		b.MaxTransactionAmount,
		b.MinTransactionAmount,
		b.StdDevTransactionAmount,
		b.TransactionsPerDay,
		b.TransactionsPerWeek,
		b.TransactionsPerMonth,
		encodeList(b.PreferredHours, "preferred_hours"),
		encodeList(b.PreferredDays, "preferred_days"),
		encodeList(b.FrequentCities, "frequent_cities"),
		encodeList(b.FrequentCountries, "frequent_countries"),
		encodeList(b.KnownDevices, "known_devices"),
		encodeList(b.KnownIPs, "known_ips"),
		encodeList(b.FrequentMerchants, "frequent_merchants"),
		encodeList(b.FrequentCategories, "frequent_categories"),
		b.ConsistencyScore,
		b.DiversityScore,
		b.VelocityPattern,
		b.FailedAttempts,
		b.Chargebacks,
		b.DisputedTransactions,
		b.DataPointsCount,
		b.LastUpdated,
		b.CreatedAt,
	)

	return err
}

// IncrementFailedAttempts bumps the failed-attempt counter without
// rewriting the whole profile
func (r *BehaviorRepository) IncrementFailedAttempts(ctx context.Context, userID string) error {
	query := `
		UPDATE user_behaviors
		SET failed_attempts = failed_attempts + 1, last_updated = NOW()
		WHERE user_id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrBehaviorNotFound
	}

	return nil
}

// encodeList JSON-encodes a profile list field. Encoding failures are
// logged and the field is stored as an empty list rather than failing
// the whole profile write.
func encodeList(v interface{}, field string) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("field", field).Msg("Failed to encode behavior field")
		return []byte("[]")
	}
	if data == nil || string(data) == "null" {
		return []byte("[]")
	}
	return data
}

// decodeList JSON-decodes a profile list field, leaving the target
// unchanged on failure
func decodeList(data []byte, target interface{}, field string) {
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, target); err != nil {
		log.Error().Err(err).Str("field", field).Msg("Failed to decode behavior field")
	}
}
