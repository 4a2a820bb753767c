package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/paytech/fraud-detection/internal/models"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

const transactionColumns = `
	id, transaction_id, user_id, amount, currency, type, transaction_time,
	merchant_id, merchant_name, merchant_category,
	ip_address, country, city, latitude, longitude,
	device_id, device_type, device_fingerprint, user_agent,
	qr_code_id, qr_code_data,
	status, fraud_status, fraud_score, fraud_reason, triggered_rules,
	time_since_last_transaction, transactions_in_last_hour, transactions_in_last_day,
	avg_transaction_amount, unusual_amount, unusual_time, unusual_location,
	unusual_device, velocity_score, metadata, created_at, updated_at
`

// TransactionRepository handles transaction database operations
type TransactionRepository struct {
	db *Database
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *Database) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create creates a new transaction
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, transaction_id, user_id, amount, currency, type, transaction_time,
			merchant_id, merchant_name, merchant_category,
			ip_address, country, city, latitude, longitude,
			device_id, device_type, device_fingerprint, user_agent,
			qr_code_id, qr_code_data,
			status, fraud_status, fraud_score, fraud_reason, triggered_rules,
			time_since_last_transaction, transactions_in_last_hour, transactions_in_last_day,
			avg_transaction_amount, unusual_amount, unusual_time, unusual_location,
			unusual_device, velocity_score, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38
		)
	`

	tx.ID = uuid.New()
	now := time.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	metadataBytes, _ := tx.Metadata.Value()

	_, err := r.db.Pool.Exec(ctx, query,
		tx.ID, tx.TransactionID, tx.UserID, tx.Amount, tx.Currency, tx.Type, tx.TransactionTime,
		tx.MerchantID, tx.MerchantName, tx.MerchantCategory,
		tx.IPAddress, tx.Country, tx.City, tx.Latitude, tx.Longitude,
		tx.DeviceID, tx.DeviceType, tx.DeviceFingerprint, tx.UserAgent,
		tx.QRCodeID, tx.QRCodeData,
		tx.Status, tx.FraudStatus, tx.FraudScore, tx.FraudReason, pq.Array(tx.TriggeredRules),
		tx.TimeSinceLastTransaction, tx.TransactionsInLastHour, tx.TransactionsInLastDay,
		tx.AvgTransactionAmount, tx.UnusualAmount, tx.UnusualTime, tx.UnusualLocation,
		tx.UnusualDevice, tx.VelocityScore, metadataBytes, tx.CreatedAt, tx.UpdatedAt,
	)

	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateTransaction
		}
		return err
	}

	return nil
}

// GetByTransactionID retrieves a transaction by business identifier
func (r *TransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = $1`

	row := r.db.Pool.QueryRow(ctx, query, transactionID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return tx, nil
}

// GetByUserID retrieves a user's transactions, most recent first
func (r *TransactionRepository) GetByUserID(ctx context.Context, userID string, page, pageSize int) ([]*models.Transaction, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM transactions WHERE user_id = $1`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY transaction_time DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transactions, err := r.scanTransactions(rows)
	return transactions, total, err
}

// GetRecentByUser retrieves a user's transactions since the given time,
// most recent first
func (r *TransactionRepository) GetRecentByUser(ctx context.Context, userID string, since time.Time) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1 AND transaction_time >= $2
		ORDER BY transaction_time DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// GetAcceptedByUser retrieves the transactions that feed behavioral
// aggregation: fraud status SAFE or terminal status APPROVED
func (r *TransactionRepository) GetAcceptedByUser(ctx context.Context, userID string) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1 AND (fraud_status = $2 OR status = $3)
		ORDER BY transaction_time DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, models.FraudStatusSafe, models.StatusApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// CountByUserSince counts a user's transactions since the given time
func (r *TransactionRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND transaction_time >= $2`,
		userID, since,
	).Scan(&count)
	return count, err
}

// CountFraudulentByUser counts transactions marked FRAUD for a user
func (r *TransactionRepository) CountFraudulentByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND fraud_status = $2`,
		userID, models.FraudStatusFraud,
	).Scan(&count)
	return count, err
}

// GetDistinctDevicesByUser returns all device ids the user has transacted with
func (r *TransactionRepository) GetDistinctDevicesByUser(ctx context.Context, userID string) ([]string, error) {
	return r.distinctColumn(ctx,
		`SELECT DISTINCT device_id FROM transactions WHERE user_id = $1 AND device_id <> '' ORDER BY device_id`,
		userID)
}

// GetDistinctCountriesByUser returns all countries the user has transacted from
func (r *TransactionRepository) GetDistinctCountriesByUser(ctx context.Context, userID string) ([]string, error) {
	return r.distinctColumn(ctx,
		`SELECT DISTINCT country FROM transactions WHERE user_id = $1 AND country <> '' ORDER BY country`,
		userID)
}

// GetLatestByQRCode retrieves the user's most recent transaction carrying
// the given QR code id
func (r *TransactionRepository) GetLatestByQRCode(ctx context.Context, userID, qrCodeID string) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1 AND qr_code_id = $2
		ORDER BY transaction_time DESC
		LIMIT 1
	`

	row := r.db.Pool.QueryRow(ctx, query, userID, qrCodeID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return tx, nil
}

// UpdateFraudFields persists the scoring outcome onto the transaction
func (r *TransactionRepository) UpdateFraudFields(ctx context.Context, tx *models.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $2, fraud_status = $3, fraud_score = $4, fraud_reason = $5,
			triggered_rules = $6, unusual_amount = $7, unusual_time = $8,
			unusual_location = $9, unusual_device = $10, updated_at = $11
		WHERE transaction_id = $1
	`

	tx.UpdatedAt = time.Now()

	result, err := r.db.Pool.Exec(ctx, query,
		tx.TransactionID,
		tx.Status,
		tx.FraudStatus,
		tx.FraudScore,
		tx.FraudReason,
		pq.Array(tx.TriggeredRules),
		tx.UnusualAmount,
		tx.UnusualTime,
		tx.UnusualLocation,
		tx.UnusualDevice,
		tx.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}

	return nil
}

// GetFlagged retrieves transactions in a non-approved terminal state
func (r *TransactionRepository) GetFlagged(ctx context.Context, page, pageSize int) ([]*models.Transaction, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM transactions WHERE status = ANY($1)`
	flaggedStatuses := []string{models.StatusReview, models.StatusHold, models.StatusDeclined, models.StatusBlocked}

	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, flaggedStatuses).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = ANY($1)
		ORDER BY transaction_time DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, flaggedStatuses, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transactions, err := r.scanTransactions(rows)
	return transactions, total, err
}

func (r *TransactionRepository) distinctColumn(ctx context.Context, query, userID string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	return values, rows.Err()
}

func (r *TransactionRepository) scanTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var triggeredRules []string
	var metadataBytes []byte

	err := row.Scan(
		&tx.ID, &tx.TransactionID, &tx.UserID, &tx.Amount, &tx.Currency, &tx.Type, &tx.TransactionTime,
		&tx.MerchantID, &tx.MerchantName, &tx.MerchantCategory,
		&tx.IPAddress, &tx.Country, &tx.City, &tx.Latitude, &tx.Longitude,
		&tx.DeviceID, &tx.DeviceType, &tx.DeviceFingerprint, &tx.UserAgent,
		&tx.QRCodeID, &tx.QRCodeData,
		&tx.Status, &tx.FraudStatus, &tx.FraudScore, &tx.FraudReason, &triggeredRules,
		&tx.TimeSinceLastTransaction, &tx.TransactionsInLastHour, &tx.TransactionsInLastDay,
		&tx.AvgTransactionAmount, &tx.UnusualAmount, &tx.UnusualTime, &tx.UnusualLocation,
		&tx.UnusualDevice, &tx.VelocityScore, &metadataBytes, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.TriggeredRules = triggeredRules
	tx.Metadata.Scan(metadataBytes)
	return tx, nil
}
