package balance

import "time"

// TransactionType discriminates a balance ledger entry (spec §6).
type TransactionType string

const (
	TopUp      TransactionType = "topup"
	Retirement TransactionType = "retirement"
)

// User is a prepaid-balance account, keyed by an opaque API key and
// optionally linked to a Stripe customer for top-ups (spec §6).
type User struct {
	ID               string    `json:"id" db:"id"`
	APIKey           string    `json:"api_key" db:"api_key"`
	Email            string    `json:"email" db:"email"`
	BalanceCents     int64     `json:"balance_cents" db:"balance_cents"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// GetBalance returns the balance as float64 for display (e.g. 12.34).
func (u *User) GetBalance() float64 {
	return float64(u.BalanceCents) / 100
}

// Transaction is one entry in a user's prepaid-balance history: either a
// top-up (credit) or a retirement debit.
type Transaction struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	Type             TransactionType `json:"type" db:"type"`
	AmountCents      int64           `json:"amount_cents" db:"amount_cents"`
	Description      string          `json:"description" db:"description"`
	StripeSessionID  *string         `json:"stripe_session_id,omitempty" db:"stripe_session_id"`
	RetirementTxHash *string         `json:"retirement_tx_hash,omitempty" db:"retirement_tx_hash"`
	CreditClass      *string         `json:"credit_class,omitempty" db:"credit_class"`
	CreditsRetired   *string         `json:"credits_retired,omitempty" db:"credits_retired"` // 6-decimal quantity string from money.FormatQuantity, e.g. "2.500000"
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}
