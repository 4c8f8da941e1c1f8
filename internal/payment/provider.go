// Package payment implements spec §4.2's Payment Provider: one interface,
// two implementations (native-token and fiat), mirroring the teacher's
// internal/exchange.PriceProvider shape — one interface, multiple upstream
// implementations picked by config.
package payment

import (
	"context"
	"math/big"
)

// AuthorizationStatus is the outcome of an Authorize call.
type AuthorizationStatus string

const (
	StatusAuthorized AuthorizationStatus = "authorized"
	StatusFailed     AuthorizationStatus = "failed"
)

// Authorization is returned by Authorize.
type Authorization struct {
	ID      string
	Status  AuthorizationStatus
	Message string
}

// Receipt is returned by Capture.
type Receipt struct {
	AuthorizationID string
	AmountMicro     *big.Int
	Denom           string
}

// Provider is implemented by cryptoProvider ("crypto") and fiatProvider
// ("stripe"). Authorize/Capture/Refund never return an error for an
// ordinary business-level decline — that's reported via
// Authorization.Status / a wrapped error from Capture/Refund only for
// genuinely unexpected gateway failures.
type Provider interface {
	Authorize(ctx context.Context, amountMicro *big.Int, denom string, metadata map[string]string) (*Authorization, error)
	Capture(ctx context.Context, authorizationID string) (*Receipt, error)
	Refund(ctx context.Context, authorizationID string) error
}
