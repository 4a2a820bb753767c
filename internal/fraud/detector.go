package fraud

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/internal/models"
	"github.com/paytech/fraud-detection/internal/repositories"
	"github.com/paytech/fraud-detection/internal/scoring"
)

// UserStore is the slice of the store the detector needs for users
type UserStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.User, error)
	AdjustTrustScore(ctx context.Context, userID string, delta float64, fraudIncrement int) (float64, error)
	SetAccountLock(ctx context.Context, userID string, locked bool) error
}

// TransactionStore is the slice of the store the detector needs for
// transactions
type TransactionStore interface {
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	GetRecentByUser(ctx context.Context, userID string, since time.Time) ([]*models.Transaction, error)
	GetDistinctDevicesByUser(ctx context.Context, userID string) ([]string, error)
	CountFraudulentByUser(ctx context.Context, userID string) (int, error)
	UpdateFraudFields(ctx context.Context, tx *models.Transaction) error
}

// BehaviorStore reads behavior profiles; the detector never writes them
type BehaviorStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.UserBehavior, error)
	IncrementFailedAttempts(ctx context.Context, userID string) error
}

// AlertStore persists fraud alerts keyed on transaction id
type AlertStore interface {
	Upsert(ctx context.Context, alert *models.FraudAlert) (bool, error)
	CountByUserID(ctx context.Context, userID string) (int, error)
}

// Cache is the optional hot-path cache for profiles and statistics
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

const statsCacheTTL = time.Minute

// Detector runs the scoring pipeline: enrichment, parallel rule and
// model evaluation, and the combined decision. Side effects live in the
// FeedbackApplier.
type Detector struct {
	users        UserStore
	transactions TransactionStore
	behaviors    BehaviorStore
	alerts       AlertStore
	cache        Cache
	ruleEngine   *scoring.RuleEngine
	model        scoring.ModelScorer
	modelTimeout time.Duration
}

// NewDetector creates a fraud detector
func NewDetector(
	users UserStore,
	transactions TransactionStore,
	behaviors BehaviorStore,
	alerts AlertStore,
	cache Cache,
	ruleEngine *scoring.RuleEngine,
	model scoring.ModelScorer,
	modelTimeout time.Duration,
) *Detector {
	return &Detector{
		users:        users,
		transactions: transactions,
		behaviors:    behaviors,
		alerts:       alerts,
		cache:        cache,
		ruleEngine:   ruleEngine,
		model:        model,
		modelTimeout: modelTimeout,
	}
}

// LoadBehavior returns the user's behavior profile, cache-first, or nil
// when none exists yet
func (d *Detector) LoadBehavior(ctx context.Context, userID string) *models.UserBehavior {
	if d.cache != nil {
		var cached models.UserBehavior
		if err := d.cache.Get(ctx, "behavior:"+userID, &cached); err == nil && cached.UserID == userID {
			return &cached
		}
	}

	b, err := d.behaviors.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repositories.ErrBehaviorNotFound) {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to load behavior profile")
		}
		return nil
	}

	return b
}

// Enrich populates the velocity and history fields the rules and model
// read. It loads the recent window once. Counts carried over from an
// earlier scoring pass are discarded so a re-verified transaction is
// recounted against the current window instead of accumulating.
func (d *Detector) Enrich(ctx context.Context, tx *models.Transaction, b *models.UserBehavior) error {
	recent, err := d.transactions.GetRecentByUser(ctx, tx.UserID, tx.TransactionTime.Add(-24*time.Hour))
	if err != nil {
		return err
	}

	tx.TransactionsInLastHour = 0
	tx.TransactionsInLastDay = 0
	tx.TimeSinceLastTransaction = 0

	hourAgo := tx.TransactionTime.Add(-time.Hour)
	for _, prev := range recent {
		if !prev.TransactionTime.Before(tx.TransactionTime) || prev.TransactionID == tx.TransactionID {
			continue
		}
		if tx.TimeSinceLastTransaction == 0 {
			tx.TimeSinceLastTransaction = tx.TransactionTime.Sub(prev.TransactionTime).Seconds()
		}
		tx.TransactionsInLastDay++
		if !prev.TransactionTime.Before(hourAgo) {
			tx.TransactionsInLastHour++
		}
	}

	tx.AvgTransactionAmount = tx.Amount
	if b != nil && b.AvgTransactionAmount > 0 {
		tx.AvgTransactionAmount = b.AvgTransactionAmount
	}
	if b != nil {
		tx.VelocityScore = b.VelocityPattern
	}

	return nil
}

// Check scores an enriched transaction. The rule table and the model
// run in parallel; if the model misses its soft budget the decision
// falls back to rule-only scoring. Any pipeline failure yields the
// neutral ERROR decision instead of propagating.
func (d *Detector) Check(ctx context.Context, tx *models.Transaction, user *models.User, b *models.UserBehavior, mode scoring.Mode) models.Decision {
	startTime := time.Now()

	knownDevices, err := d.transactions.GetDistinctDevicesByUser(ctx, tx.UserID)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Enrichment read failed")
		return scoring.ErrorDecision()
	}

	features := scoring.ExtractFeatures(tx, b)

	ruleCh := make(chan models.RuleResult, 1)
	go func() {
		ruleCh <- d.ruleEngine.Evaluate(&scoring.RuleInput{
			Tx:             tx,
			User:           user,
			Behavior:       b,
			KnownDevices:   knownDevices,
			CountsLastHour: tx.TransactionsInLastHour,
			CountsLastDay:  tx.TransactionsInLastDay,
		})
	}()

	type modelResult struct {
		score float64
		err   error
	}
	modelCh := make(chan modelResult, 1)
	go func() {
		score, err := d.model.Score(ctx, features)
		modelCh <- modelResult{score: score, err: err}
	}()

	ruleResult := <-ruleCh

	method := models.MethodHybrid
	modelScore := scoring.NeutralScore

	timer := time.NewTimer(d.modelTimeout)
	defer timer.Stop()
	select {
	case res := <-modelCh:
		if res.err != nil {
			log.Warn().Err(res.err).Str("transaction_id", tx.TransactionID).Msg("Model scoring failed, using neutral score")
		}
		modelScore = res.score
	case <-timer.C:
		log.Warn().
			Str("transaction_id", tx.TransactionID).
			Dur("budget", d.modelTimeout).
			Msg("Model scoring timed out, falling back to rule-only")
		method = models.MethodRule
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Str("transaction_id", tx.TransactionID).Msg("Scoring cancelled")
		return scoring.ErrorDecision()
	}

	decision := scoring.Combine(ruleResult, modelScore, method, mode, tx.Status)
	decision.Features = features

	log.Info().
		Str("transaction_id", tx.TransactionID).
		Str("user_id", tx.UserID).
		Float64("fraud_score", decision.FraudScore).
		Float64("rule_score", decision.RuleScore).
		Float64("ml_score", decision.MLScore).
		Str("risk_level", decision.RiskLevel).
		Str("status", decision.Status).
		Int("triggered_rules", len(decision.TriggeredRules)).
		Dur("processing_time", time.Since(startTime)).
		Msg("Transaction scored")

	return decision
}

// GetUserFraudStatistics returns the per-user fraud summary, cache-first
func (d *Detector) GetUserFraudStatistics(ctx context.Context, userID string) (*models.UserFraudStats, error) {
	cacheKey := "fraud:stats:" + userID
	if d.cache != nil {
		var cached models.UserFraudStats
		if err := d.cache.Get(ctx, cacheKey, &cached); err == nil && cached.UserID == userID {
			return &cached, nil
		}
	}

	user, err := d.users.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	totalAlerts, err := d.alerts.CountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	fraudulent, err := d.transactions.CountFraudulentByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &models.UserFraudStats{
		UserID:                 userID,
		TrustScore:             user.TrustScore,
		TotalFraudAlerts:       totalAlerts,
		FraudulentTransactions: fraudulent,
		AccountLocked:          user.AccountLocked,
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, cacheKey, stats, statsCacheTTL); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to cache fraud statistics")
		}
	}

	return stats, nil
}
