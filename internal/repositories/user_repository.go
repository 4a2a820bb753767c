package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paytech/fraud-detection/internal/models"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

const userColumns = `
	id, user_id, email, phone_number, name, password_hash, role,
	trust_score, account_locked, enabled, total_transactions, fraud_count,
	registration_date, created_at, updated_at
`

// UserRepository handles user database operations
type UserRepository struct {
	db *Database
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *Database) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (
			id, user_id, email, phone_number, name, password_hash, role,
			trust_score, account_locked, enabled, total_transactions, fraud_count,
			registration_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	user.ID = uuid.New()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.RegistrationDate.IsZero() {
		user.RegistrationDate = now
	}

	_, err := r.db.Pool.Exec(ctx, query,
		user.ID,
		user.UserID,
		user.Email,
		user.PhoneNumber,
		user.Name,
		user.PasswordHash,
		user.Role,
		user.TrustScore,
		user.AccountLocked,
		user.Enabled,
		user.TotalTransactions,
		user.FraudCount,
		user.RegistrationDate,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrUserAlreadyExists
		}
		return err
	}

	return nil
}

// GetByUserID retrieves a user by business identifier
func (r *UserRepository) GetByUserID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1 AND deleted_at IS NULL`
	return r.getOne(ctx, query, userID)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND deleted_at IS NULL`
	return r.getOne(ctx, query, email)
}

// GetByPhone retrieves a user by phone number
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone_number = $1 AND deleted_at IS NULL`
	return r.getOne(ctx, query, phone)
}

// ExistsByEmail checks whether a user with the given email exists
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND deleted_at IS NULL)`, email,
	).Scan(&exists)
	return exists, err
}

// ExistsByPhone checks whether a user with the given phone number exists
func (r *UserRepository) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE phone_number = $1 AND deleted_at IS NULL)`, phone,
	).Scan(&exists)
	return exists, err
}

// Update updates a user's mutable profile fields
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET email = $2, phone_number = $3, name = $4, role = $5, updated_at = $6
		WHERE user_id = $1 AND deleted_at IS NULL
	`

	user.UpdatedAt = time.Now()

	result, err := r.db.Pool.Exec(ctx, query,
		user.UserID,
		user.Email,
		user.PhoneNumber,
		user.Name,
		user.Role,
		user.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// AdjustTrustScore atomically applies a trust delta and fraud-count increment
// in a single statement so concurrent scorings cannot interleave. The trust
// score is clamped to [0,100] server-side. Returns the resulting trust score.
func (r *UserRepository) AdjustTrustScore(ctx context.Context, userID string, delta float64, fraudIncrement int) (float64, error) {
	query := `
		UPDATE users
		SET trust_score = LEAST(100, GREATEST(0, trust_score + $2)),
			fraud_count = fraud_count + $3,
			updated_at = NOW()
		WHERE user_id = $1 AND deleted_at IS NULL
		RETURNING trust_score
	`

	var trustScore float64
	err := r.db.Pool.QueryRow(ctx, query, userID, delta, fraudIncrement).Scan(&trustScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}

	return trustScore, nil
}

// SetAccountLock locks or unlocks a user account. Locking always disables
// the account; unlocking re-enables it.
func (r *UserRepository) SetAccountLock(ctx context.Context, userID string, locked bool) error {
	query := `
		UPDATE users
		SET account_locked = $2, enabled = NOT $2, updated_at = NOW()
		WHERE user_id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, userID, locked)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// IncrementTotalTransactions bumps the per-user transaction counter
func (r *UserRepository) IncrementTotalTransactions(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET total_transactions = total_transactions + 1, updated_at = NOW()
		WHERE user_id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	err := r.db.Pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.UserID,
		&user.Email,
		&user.PhoneNumber,
		&user.Name,
		&user.PasswordHash,
		&user.Role,
		&user.TrustScore,
		&user.AccountLocked,
		&user.Enabled,
		&user.TotalTransactions,
		&user.FraudCount,
		&user.RegistrationDate,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}
