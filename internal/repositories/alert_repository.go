package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/paytech/fraud-detection/internal/models"
)

var (
	ErrAlertNotFound = errors.New("fraud alert not found")
)

const alertColumns = `
	id, transaction_id, user_id, alert_type, severity, fraud_score, reason,
	rules_fired, ml_features, action, reviewed, reviewed_by, reviewed_at,
	review_notes, confirmed_fraud, detected_at, created_at
`

// AlertRepository handles fraud alert database operations
type AlertRepository struct {
	db *Database
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *Database) *AlertRepository {
	return &AlertRepository{db: db}
}

// Upsert writes an alert keyed on transaction_id, so re-applying the same
// decision never produces a second alert. Returns true when a new row was
// inserted, false when an existing alert was refreshed.
func (r *AlertRepository) Upsert(ctx context.Context, alert *models.FraudAlert) (bool, error) {
	query := `
		INSERT INTO fraud_alerts (
			id, transaction_id, user_id, alert_type, severity, fraud_score,
			reason, rules_fired, ml_features, action, reviewed, confirmed_fraud,
			detected_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (transaction_id) DO UPDATE SET
			alert_type = EXCLUDED.alert_type,
			severity = EXCLUDED.severity,
			fraud_score = EXCLUDED.fraud_score,
			reason = EXCLUDED.reason,
			rules_fired = EXCLUDED.rules_fired,
			ml_features = EXCLUDED.ml_features,
			action = EXCLUDED.action,
			detected_at = EXCLUDED.detected_at
		RETURNING (xmax = 0)
	`

	alert.ID = uuid.New()
	now := time.Now()
	alert.CreatedAt = now
	if alert.DetectedAt.IsZero() {
		alert.DetectedAt = now
	}

	featuresBytes, _ := json.Marshal(alert.MLFeatures)

	var inserted bool
	err := r.db.Pool.QueryRow(ctx, query,
		alert.ID,
		alert.TransactionID,
		alert.UserID,
		alert.AlertType,
		alert.Severity,
		alert.FraudScore,
		alert.Reason,
		pq.Array(alert.RulesFired),
		featuresBytes,
		alert.Action,
		alert.Reviewed,
		alert.ConfirmedFraud,
		alert.DetectedAt,
		alert.CreatedAt,
	).Scan(&inserted)

	return inserted, err
}

// GetByID retrieves an alert by id
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.FraudAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE id = $1`

	alert, err := scanAlert(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}

	return alert, nil
}

// GetByTransactionID retrieves the alert for a transaction, if any
func (r *AlertRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.FraudAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE transaction_id = $1`

	alert, err := scanAlert(r.db.Pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}

	return alert, nil
}

// GetByUserID retrieves a user's alerts with pagination
func (r *AlertRepository) GetByUserID(ctx context.Context, userID string, page, pageSize int) ([]*models.FraudAlert, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM fraud_alerts WHERE user_id = $1`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + alertColumns + `
		FROM fraud_alerts
		WHERE user_id = $1
		ORDER BY detected_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts, err := r.scanAlerts(rows)
	return alerts, total, err
}

// GetUnreviewed retrieves unreviewed alerts, most severe first
func (r *AlertRepository) GetUnreviewed(ctx context.Context, page, pageSize int) ([]*models.FraudAlert, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM fraud_alerts WHERE reviewed = false`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + alertColumns + `
		FROM fraud_alerts
		WHERE reviewed = false
		ORDER BY fraud_score DESC, detected_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts, err := r.scanAlerts(rows)
	return alerts, total, err
}

// MarkReviewed records the outcome of a human review
func (r *AlertRepository) MarkReviewed(ctx context.Context, id uuid.UUID, reviewer, notes string, confirmedFraud bool) error {
	query := `
		UPDATE fraud_alerts
		SET reviewed = true, reviewed_by = $2, reviewed_at = $3,
			review_notes = $4, confirmed_fraud = $5
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id, reviewer, time.Now(), notes, confirmedFraud)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrAlertNotFound
	}

	return nil
}

// CountByUserID counts all alerts raised against a user
func (r *AlertRepository) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM fraud_alerts WHERE user_id = $1`, userID,
	).Scan(&count)
	return count, err
}

func (r *AlertRepository) scanAlerts(rows pgx.Rows) ([]*models.FraudAlert, error) {
	var alerts []*models.FraudAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

func scanAlert(row pgx.Row) (*models.FraudAlert, error) {
	alert := &models.FraudAlert{}
	var rulesFired []string
	var featuresBytes []byte
	var reviewedBy, reviewNotes *string

	err := row.Scan(
		&alert.ID,
		&alert.TransactionID,
		&alert.UserID,
		&alert.AlertType,
		&alert.Severity,
		&alert.FraudScore,
		&alert.Reason,
		&rulesFired,
		&featuresBytes,
		&alert.Action,
		&alert.Reviewed,
		&reviewedBy,
		&alert.ReviewedAt,
		&reviewNotes,
		&alert.ConfirmedFraud,
		&alert.DetectedAt,
		&alert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.RulesFired = rulesFired
	if reviewedBy != nil {
		alert.ReviewedBy = *reviewedBy
	}
	if reviewNotes != nil {
		alert.ReviewNotes = *reviewNotes
	}
	if len(featuresBytes) > 0 {
		_ = json.Unmarshal(featuresBytes, &alert.MLFeatures)
	}

	return alert, nil
}
