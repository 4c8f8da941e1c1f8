package payment

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBalanceReader struct {
	balance *big.Int
	err     error
}

func (f *fakeBalanceReader) GetBalance(ctx context.Context, denom string) (*big.Int, error) {
	return f.balance, f.err
}

func TestCryptoProvider_AuthorizeSufficientBalance(t *testing.T) {
	p := NewCryptoProvider(&fakeBalanceReader{balance: big.NewInt(10_000_000)})

	auth, err := p.Authorize(context.Background(), big.NewInt(4_750_000), "uregen", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, auth.Status)
	assert.NotEmpty(t, auth.ID)
}

func TestCryptoProvider_AuthorizeInsufficientBalance(t *testing.T) {
	p := NewCryptoProvider(&fakeBalanceReader{balance: big.NewInt(1_000_000)})

	auth, err := p.Authorize(context.Background(), big.NewInt(4_750_000), "uregen", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, auth.Status)
	assert.NotEmpty(t, auth.Message)
}

func TestCryptoProvider_CaptureAndRefundAreNoOps(t *testing.T) {
	p := NewCryptoProvider(&fakeBalanceReader{balance: big.NewInt(10)})

	receipt, err := p.Capture(context.Background(), "auth-1")
	require.NoError(t, err)
	assert.Equal(t, "auth-1", receipt.AuthorizationID)

	require.NoError(t, p.Refund(context.Background(), "auth-1"))
}
