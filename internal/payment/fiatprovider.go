package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/CShear/regen-compute-credits/internal/money"
	"github.com/CShear/regen-compute-credits/internal/payment/gateway"
)

// centsPerMicroUSDC converts micro-units of a USDC-equivalent denom to
// minor fiat units (cents): cents = ceil(micro / 10_000), per spec §4.2.
const centsPerMicroUSDC = 10_000

// fiatProvider is the "stripe" Payment Provider (spec §4.2): authorize
// creates and confirms a manual-capture payment intent, capture captures
// the held funds, refund cancels the hold (idempotent against
// "already canceled"). Only one on-chain denom is accepted — the
// configured USDC-equivalent — because cents-per-micro conversion assumes
// a 1:1 USD peg.
type fiatProvider struct {
	gw        *gateway.Client
	usdcDenom string
	currency  string
}

// NewFiatProvider builds the fiat provider. usdcDenom is the only on-chain
// denom this provider will authorize against; currency is the gateway's
// settlement currency (normally "usd").
func NewFiatProvider(gw *gateway.Client, usdcDenom, currency string) Provider {
	return &fiatProvider{gw: gw, usdcDenom: usdcDenom, currency: currency}
}

// metadata keys the caller is expected to populate in Authorize's
// metadata map — the customer and stored payment method to charge.
const (
	MetadataCustomerID      = "customer_id"
	MetadataPaymentMethodID = "payment_method_id"
)

func (p *fiatProvider) Authorize(ctx context.Context, amountMicro *big.Int, denom string, metadata map[string]string) (*Authorization, error) {
	if denom != p.usdcDenom {
		return nil, fmt.Errorf("payment: fiat provider only accepts %s, got %s", p.usdcDenom, denom)
	}

	customerID := metadata[MetadataCustomerID]
	paymentMethodID := metadata[MetadataPaymentMethodID]
	if customerID == "" || paymentMethodID == "" {
		return nil, fmt.Errorf("payment: fiat provider requires %s and %s in metadata", MetadataCustomerID, MetadataPaymentMethodID)
	}

	cents := money.CeilDiv(amountMicro, big.NewInt(centsPerMicroUSDC))

	echoed := map[string]string{
		"on_chain_amount_micro": amountMicro.String(),
		"on_chain_denom":        denom,
	}

	intent, err := p.gw.CreatePaymentIntent(ctx, customerID, paymentMethodID, cents.Int64(), p.currency, echoed)
	if err != nil {
		var statusErr *gateway.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return &Authorization{ID: "", Status: StatusFailed, Message: statusErr.Error()}, nil
		}
		return nil, fmt.Errorf("payment: fiat provider authorize failed: %w", err)
	}

	if intent.Status != "requires_capture" && intent.Status != "succeeded" {
		return &Authorization{ID: intent.ID, Status: StatusFailed, Message: fmt.Sprintf("unexpected intent status %q", intent.Status)}, nil
	}

	return &Authorization{ID: intent.ID, Status: StatusAuthorized}, nil
}

func (p *fiatProvider) Capture(ctx context.Context, authorizationID string) (*Receipt, error) {
	intent, err := p.gw.CapturePaymentIntent(ctx, authorizationID)
	if err != nil {
		return nil, fmt.Errorf("payment: fiat provider capture failed: %w", err)
	}

	amountMicro, ok := new(big.Int).SetString(intent.Metadata["on_chain_amount_micro"], 10)
	if !ok {
		return nil, fmt.Errorf("payment: captured intent %s is missing its echoed on-chain amount", authorizationID)
	}

	return &Receipt{
		AuthorizationID: authorizationID,
		AmountMicro:     amountMicro,
		Denom:           intent.Metadata["on_chain_denom"],
	}, nil
}

func (p *fiatProvider) Refund(ctx context.Context, authorizationID string) error {
	_, err := p.gw.CancelPaymentIntent(ctx, authorizationID)
	if err != nil {
		return fmt.Errorf("payment: fiat provider refund failed: %w", err)
	}
	return nil
}
