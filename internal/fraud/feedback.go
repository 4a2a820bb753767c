package fraud

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/internal/models"
	"github.com/paytech/fraud-detection/internal/repositories"
	"github.com/paytech/fraud-detection/internal/scoring"
)

// Trust score adjustments per decision band
const (
	trustPenaltyFraud      = -20.0
	trustPenaltySuspicious = -5.0
	trustRewardClean       = 0.5
	alertThreshold         = 0.4
)

// AlertPublisher emits alert events to the analytics pipeline
type AlertPublisher interface {
	PublishAlert(event *models.AlertEvent) error
}

// FeedbackApplier turns a decision into its side effects: the persisted
// fraud fields, the alert row and event, the trust score adjustment and
// the account lock. Each effect is applied independently so one failure
// never swallows the rest.
type FeedbackApplier struct {
	users        UserStore
	transactions TransactionStore
	behaviors    BehaviorStore
	alerts       AlertStore
	publisher    AlertPublisher
}

// NewFeedbackApplier creates a feedback applier. publisher may be nil
// when no broker is configured.
func NewFeedbackApplier(
	users UserStore,
	transactions TransactionStore,
	behaviors BehaviorStore,
	alerts AlertStore,
	publisher AlertPublisher,
) *FeedbackApplier {
	return &FeedbackApplier{
		users:        users,
		transactions: transactions,
		behaviors:    behaviors,
		alerts:       alerts,
		publisher:    publisher,
	}
}

// Apply persists the decision for a transaction. Re-applying the same
// decision to the same transaction is safe: the alert upserts on the
// transaction id and the trust adjustment is skipped when the stored
// transaction already carries this exact decision.
func (f *FeedbackApplier) Apply(ctx context.Context, tx *models.Transaction, decision models.Decision) error {
	alreadyApplied := f.decisionAlreadyApplied(ctx, tx.TransactionID, decision)

	writeErr := f.persist(ctx, tx, decision)

	if decision.FraudScore >= alertThreshold {
		f.raiseAlert(ctx, tx, decision)
	}

	if !alreadyApplied {
		f.adjustTrust(ctx, tx.UserID, decision.FraudScore)
	}

	if decision.LockAccount {
		if err := f.users.SetAccountLock(ctx, tx.UserID, true); err != nil {
			log.Error().Err(err).Str("user_id", tx.UserID).Msg("Failed to lock account")
		} else {
			log.Warn().
				Str("user_id", tx.UserID).
				Str("transaction_id", tx.TransactionID).
				Float64("fraud_score", decision.FraudScore).
				Msg("Account locked for critical fraud score")
		}
	}

	if !alreadyApplied && (decision.Status == models.StatusDeclined || decision.Status == models.StatusBlocked) {
		if err := f.behaviors.IncrementFailedAttempts(ctx, tx.UserID); err != nil &&
			!errors.Is(err, repositories.ErrBehaviorNotFound) {
			log.Warn().Err(err).Str("user_id", tx.UserID).Msg("Failed to record failed attempt")
		}
	}

	return writeErr
}

// Decline writes a terminal decline decided outside the scoring
// pipeline, such as a request against a locked account. Only the
// transaction record is touched: no alert is raised and the user's
// trust score and failed-attempt counter stay untouched.
func (f *FeedbackApplier) Decline(ctx context.Context, tx *models.Transaction, decision models.Decision) error {
	return f.persist(ctx, tx, decision)
}

// persist copies the decision onto the transaction and writes the
// fraud fields
func (f *FeedbackApplier) persist(ctx context.Context, tx *models.Transaction, decision models.Decision) error {
	tx.FraudScore = decision.FraudScore
	tx.FraudStatus = decision.FraudStatus
	tx.FraudReason = decision.Reason
	tx.Status = decision.Status
	tx.TriggeredRules = decision.TriggeredRules
	tx.UnusualLocation = decision.Flags.UnusualLocation
	tx.UnusualAmount = decision.Flags.UnusualAmount
	tx.UnusualTime = decision.Flags.UnusualTime
	tx.UnusualDevice = decision.Flags.UnusualDevice

	err := f.transactions.UpdateFraudFields(ctx, tx)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Failed to persist fraud decision")
	}
	return err
}

// decisionAlreadyApplied reports whether the stored transaction already
// carries exactly this decision, which happens when a verification run
// reproduces an earlier result
func (f *FeedbackApplier) decisionAlreadyApplied(ctx context.Context, transactionID string, decision models.Decision) bool {
	persisted, err := f.transactions.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if !errors.Is(err, repositories.ErrTransactionNotFound) {
			log.Warn().Err(err).Str("transaction_id", transactionID).Msg("Idempotency probe failed, applying feedback")
		}
		return false
	}

	return persisted.FraudStatus != models.FraudStatusUnknown &&
		persisted.FraudScore == decision.FraudScore &&
		persisted.FraudStatus == decision.FraudStatus &&
		persisted.Status == decision.Status
}

func (f *FeedbackApplier) raiseAlert(ctx context.Context, tx *models.Transaction, decision models.Decision) {
	severity, action := scoring.SeverityFor(decision.FraudScore)

	alert := &models.FraudAlert{
		ID:            uuid.New(),
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		AlertType:     decision.DetectionMethod,
		Severity:      severity,
		FraudScore:    decision.FraudScore,
		Reason:        decision.Reason,
		RulesFired:    decision.TriggeredRules,
		MLFeatures:    decision.Features,
		Action:        action,
		DetectedAt:    time.Now(),
	}

	inserted, err := f.alerts.Upsert(ctx, alert)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Failed to persist fraud alert")
		return
	}

	log.Info().
		Str("transaction_id", tx.TransactionID).
		Str("severity", severity).
		Str("action", action).
		Bool("new_alert", inserted).
		Msg("Fraud alert raised")

	// Only freshly inserted alerts go to the analytics topic; refreshed
	// ones were already published
	if inserted && f.publisher != nil {
		event := &models.AlertEvent{
			AlertID:       alert.ID.String(),
			TransactionID: alert.TransactionID,
			UserID:        alert.UserID,
			AlertType:     alert.AlertType,
			Severity:      alert.Severity,
			FraudScore:    alert.FraudScore,
			Action:        alert.Action,
			DetectedAt:    alert.DetectedAt,
		}
		if err := f.publisher.PublishAlert(event); err != nil {
			log.Error().Err(err).Str("alert_id", event.AlertID).Msg("Failed to publish alert event")
		}
	}
}

func (f *FeedbackApplier) adjustTrust(ctx context.Context, userID string, fraudScore float64) {
	var delta float64
	fraudIncrement := 0

	switch {
	case fraudScore >= 0.7:
		delta = trustPenaltyFraud
		fraudIncrement = 1
	case fraudScore >= alertThreshold:
		delta = trustPenaltySuspicious
	default:
		delta = trustRewardClean
	}

	newScore, err := f.users.AdjustTrustScore(ctx, userID, delta, fraudIncrement)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to adjust trust score")
		return
	}

	log.Debug().
		Str("user_id", userID).
		Float64("delta", delta).
		Float64("trust_score", newScore).
		Msg("Trust score adjusted")
}
