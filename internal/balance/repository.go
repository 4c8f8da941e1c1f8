package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound is returned when a user is not found in the store.
	ErrUserNotFound = errors.New("balance: user not found")
	// ErrAPIKeyExists is returned when creating a user with an already-used API key.
	ErrAPIKeyExists = errors.New("balance: api key already exists")
	// ErrInsufficientBalance is returned by DebitBalance when the pre-image
	// balance is below the requested debit amount.
	ErrInsufficientBalance = errors.New("balance: insufficient balance")
)

// Repository handles all database operations for the prepaid-balance store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new balance repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.pool}
}

// CreateUser inserts a new prepaid-balance user.
// Returns ErrAPIKeyExists if the api key already exists.
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	query := `INSERT INTO users (
		id, api_key, email, balance_cents, stripe_customer_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		u.ID, u.APIKey, u.Email, u.BalanceCents, u.StripeCustomerID, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "users_api_key_key" {
			return ErrAPIKeyExists
		}
		return fmt.Errorf("balance: failed to create user: %w", err)
	}
	return nil
}

// GetUserByAPIKey retrieves a user by their API key.
// Returns ErrUserNotFound if the key does not match any user.
func (r *Repository) GetUserByAPIKey(ctx context.Context, apiKey string) (*User, error) {
	return r.getUser(ctx, "api_key", apiKey)
}

// GetUserByID retrieves a user by their UUID.
// Returns ErrUserNotFound if the ID does not match any user.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "id", id)
}

// GetUserByEmail retrieves a user by their email address.
// Returns ErrUserNotFound if no user has that email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "email", email)
}

func (r *Repository) getUser(ctx context.Context, column, value string) (*User, error) {
	query := fmt.Sprintf(`SELECT
        id, api_key, email, balance_cents, stripe_customer_id, created_at, updated_at
    FROM users WHERE %s = $1`, column)

	var u User
	err := r.db.QueryRow(ctx, query, value).Scan(
		&u.ID, &u.APIKey, &u.Email, &u.BalanceCents, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("balance: failed to get user by %s: %w", column, err)
	}
	return &u, nil
}

// GetBalanceCents returns a user's current balance, satisfying
// internal/retirement.BalanceDebiter.
func (r *Repository) GetBalanceCents(ctx context.Context, userID string) (int64, error) {
	u, err := r.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.BalanceCents, nil
}

// ValidateAPIKey reports whether apiKey matches a known user, satisfying
// internal/httpapi.KeyValidator.
func (r *Repository) ValidateAPIKey(ctx context.Context, apiKey string) (bool, error) {
	_, err := r.GetUserByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreditBalance applies a top-up: increments the user's balance and records
// a TopUp transaction, in a single database transaction.
func (r *Repository) CreditBalance(ctx context.Context, userID string, amountCents int64, description, stripeSessionID string) (remainingCents int64, err error) {
	if amountCents <= 0 {
		return 0, fmt.Errorf("balance: credit amount must be positive, got %d", amountCents)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("balance: failed to begin credit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance_cents = balance_cents + $2, updated_at = $3 WHERE id = $1 RETURNING balance_cents`,
		userID, amountCents, time.Now().UTC(),
	).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("balance: failed to credit balance: %w", err)
	}

	var stripeSessionIDPtr *string
	if stripeSessionID != "" {
		stripeSessionIDPtr = &stripeSessionID
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount_cents, description, stripe_session_id, created_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)`,
		userID, TopUp, amountCents, description, stripeSessionIDPtr, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("balance: failed to record top-up transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("balance: failed to commit credit transaction: %w", err)
	}
	return newBalance, nil
}

// DebitBalance atomically debits a user's balance, satisfying
// internal/retirement.BalanceDebiter. The UPDATE's WHERE clause only
// matches when balance_cents >= amountCents, so a short balance and a
// missing user are indistinguishable from RowsAffected()'s point of view —
// exactly the teacher's Update/RowsAffected()==0 convention in
// internal/database, generalized to "not found or insufficient" here.
func (r *Repository) DebitBalance(ctx context.Context, userID string, amountCents int64, txHash string) (remainingCents int64, err error) {
	if amountCents <= 0 {
		return 0, fmt.Errorf("balance: debit amount must be positive, got %d", amountCents)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("balance: failed to begin debit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	commandTag, err := tx.Exec(ctx,
		`UPDATE users SET balance_cents = balance_cents - $2, updated_at = $3
		 WHERE id = $1 AND balance_cents >= $2`,
		userID, amountCents, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("balance: failed to debit balance: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		if _, getErr := r.GetUserByID(ctx, userID); getErr != nil {
			return 0, getErr
		}
		return 0, ErrInsufficientBalance
	}

	var newBalance int64
	if err := tx.QueryRow(ctx, `SELECT balance_cents FROM users WHERE id = $1`, userID).Scan(&newBalance); err != nil {
		return 0, fmt.Errorf("balance: failed to read balance after debit: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount_cents, description, retirement_tx_hash, created_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)`,
		userID, Retirement, -amountCents, "retirement debit", txHash, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("balance: failed to record retirement debit transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("balance: failed to commit debit transaction: %w", err)
	}
	return newBalance, nil
}

// ListTransactionsByUserID retrieves a user's transaction history, newest first.
func (r *Repository) ListTransactionsByUserID(ctx context.Context, userID string) ([]*Transaction, error) {
	query := `SELECT
        id, user_id, type, amount_cents, description, stripe_session_id,
        retirement_tx_hash, credit_class, credits_retired, created_at
    FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("balance: failed to list transactions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var transactions []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Type, &t.AmountCents, &t.Description, &t.StripeSessionID,
			&t.RetirementTxHash, &t.CreditClass, &t.CreditsRetired, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("balance: failed to scan transaction row: %w", err)
		}
		transactions = append(transactions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("balance: error during row iteration: %w", err)
	}
	return transactions, nil
}

// RecordRetirement attaches credit-class/quantity detail to a retirement
// transaction after the fact (the ledger confirms credits_retired only once
// the retirement settles).
func (r *Repository) RecordRetirement(ctx context.Context, transactionID, creditClass, creditsRetiredMicro string) error {
	commandTag, err := r.db.Exec(ctx,
		`UPDATE transactions SET credit_class = $2, credits_retired = $3 WHERE id = $1 AND type = $4`,
		transactionID, creditClass, creditsRetiredMicro, Retirement,
	)
	if err != nil {
		return fmt.Errorf("balance: failed to record retirement detail: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("balance: no retirement transaction %s to update", transactionID)
	}
	return nil
}
