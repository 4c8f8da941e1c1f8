//go:build integration

package balance

import (
	"context"
	"testing"
	"time"

	"github.com/CShear/regen-compute-credits/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func newTestUser(t *testing.T, repo *Repository, balanceCents int64) *User {
	t.Helper()
	now := time.Now().UTC()
	u := &User{
		ID:           uuid.New().String(),
		APIKey:       "key_" + uuid.New().String(),
		Email:        "user@example.com",
		BalanceCents: balanceCents,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	return u
}

func TestRepository_CreateAndGetUser(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()
	u := newTestUser(t, repo, 1000)

	byID, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.APIKey, byID.APIKey)

	byKey, err := repo.GetUserByAPIKey(ctx, u.APIKey)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byKey.ID)

	_, err = repo.GetUserByID(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRepository_CreateUser_DuplicateAPIKey(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()
	u := newTestUser(t, repo, 0)

	dup := &User{ID: uuid.New().String(), APIKey: u.APIKey, Email: "other@example.com", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	err := repo.CreateUser(ctx, dup)
	assert.ErrorIs(t, err, ErrAPIKeyExists)
}

func TestRepository_CreditBalance(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()
	u := newTestUser(t, repo, 500)

	remaining, err := repo.CreditBalance(ctx, u.ID, 1000, "top-up via stripe", "cs_test_123")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), remaining)

	balance, err := repo.GetBalanceCents(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)

	txs, err := repo.ListTransactionsByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, TopUp, txs[0].Type)
	assert.Equal(t, int64(1000), txs[0].AmountCents)
}

func TestRepository_DebitBalance_Success(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()
	u := newTestUser(t, repo, 10_000)

	remaining, err := repo.DebitBalance(ctx, u.ID, 4_000, "0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, int64(6_000), remaining)

	txs, err := repo.ListTransactionsByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, Retirement, txs[0].Type)
	assert.Equal(t, int64(-4_000), txs[0].AmountCents)
	require.NotNil(t, txs[0].RetirementTxHash)
	assert.Equal(t, "0xdeadbeef", *txs[0].RetirementTxHash)
}

func TestRepository_DebitBalance_InsufficientBalanceLeavesBalanceUntouched(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()
	u := newTestUser(t, repo, 100)

	_, err := repo.DebitBalance(ctx, u.ID, 200, "0xdeadbeef")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := repo.GetBalanceCents(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	txs, err := repo.ListTransactionsByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRepository_DebitBalance_UnknownUser(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewRepository(db)
	_, err := repo.DebitBalance(context.Background(), uuid.New().String(), 100, "0xdeadbeef")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRepository_RecordRetirement(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewRepository(db)
	ctx := context.Background()
	u := newTestUser(t, repo, 10_000)

	_, err := repo.DebitBalance(ctx, u.ID, 4_000, "0xdeadbeef")
	require.NoError(t, err)

	txs, err := repo.ListTransactionsByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	require.NoError(t, repo.RecordRetirement(ctx, txs[0].ID, "carbon", "2.500000"))

	txs, err = repo.ListTransactionsByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.NotNil(t, txs[0].CreditClass)
	assert.Equal(t, "carbon", *txs[0].CreditClass)
	require.NotNil(t, txs[0].CreditsRetired)
	assert.Equal(t, "2.500000", *txs[0].CreditsRetired)
}
