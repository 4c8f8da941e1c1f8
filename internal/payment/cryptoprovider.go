package payment

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// BalanceReader is the narrow slice of internal/ledger.Client the crypto
// provider depends on, kept separate so this package doesn't import
// internal/ledger directly.
type BalanceReader interface {
	GetBalance(ctx context.Context, denom string) (*big.Int, error)
}

// cryptoProvider is the native-token Payment Provider (spec §4.2):
// authorize checks the wallet's on-chain balance and returns authorized
// without placing any hold, because the same wallet that pays also signs
// the Ledger transaction. capture and refund are no-ops — there is
// nothing on-chain to release.
type cryptoProvider struct {
	balances BalanceReader
}

// NewCryptoProvider builds the native-token provider.
func NewCryptoProvider(balances BalanceReader) Provider {
	return &cryptoProvider{balances: balances}
}

func (p *cryptoProvider) Authorize(ctx context.Context, amountMicro *big.Int, denom string, metadata map[string]string) (*Authorization, error) {
	balance, err := p.balances.GetBalance(ctx, denom)
	if err != nil {
		return nil, fmt.Errorf("payment: crypto provider balance check failed: %w", err)
	}

	id := uuid.NewString()
	if balance.Cmp(amountMicro) < 0 {
		return &Authorization{
			ID:      id,
			Status:  StatusFailed,
			Message: fmt.Sprintf("insufficient on-chain balance: have %s, need %s %s", balance.String(), amountMicro.String(), denom),
		}, nil
	}

	return &Authorization{ID: id, Status: StatusAuthorized}, nil
}

func (p *cryptoProvider) Capture(ctx context.Context, authorizationID string) (*Receipt, error) {
	return &Receipt{AuthorizationID: authorizationID}, nil
}

func (p *cryptoProvider) Refund(ctx context.Context, authorizationID string) error {
	return nil
}
