// Package retirement implements spec §4.4's Retirement Service: a single
// retirement orchestrated end to end — order selection, payment
// authorization, broadcast, capture, and receipt polling — expressed as
// the linear Result pipeline from spec §9 rather than exception-based
// control flow. No exception ever escapes ExecuteRetirement: every
// business failure is mapped to a marketplace-fallback Result.
package retirement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/CShear/regen-compute-credits/internal/identity"
	"github.com/CShear/regen-compute-credits/internal/ledger"
	"github.com/CShear/regen-compute-credits/internal/money"
	"github.com/CShear/regen-compute-credits/internal/orders"
	"github.com/CShear/regen-compute-credits/internal/payment"
	"github.com/CShear/regen-compute-credits/pkg/logger"
	"go.uber.org/zap"
)

// centsPerMicroUSDC mirrors internal/payment's fiat conversion constant —
// a prepaid balance is always tracked in cents regardless of which
// Payment Provider is active.
const centsPerMicroUSDC = 10_000

// Kind discriminates Result's tagged union.
type Kind string

const (
	KindSuccess             Kind = "success"
	KindMarketplaceFallback Kind = "marketplace_fallback"
)

// Result is ExecuteRetirement's return value — never an error for a
// business-level failure, only for nil-dependency programmer errors.
type Result struct {
	Kind Kind

	// Populated when Kind == KindSuccess.
	TxHash                string
	CreditsRetired        string
	CostMicro             *big.Int
	CostDenom             string
	BlockHeight           int64
	CertificateID         string
	RemainingBalanceCents int64
	HasRemainingBalance   bool

	// Populated when Kind == KindMarketplaceFallback.
	MarketplaceURL string
	Message        string
}

// BalanceDebiter is the narrow prepaid-balance collaborator interface
// (spec §4.4 steps 4/8) — internal/balance.Repository satisfies this.
type BalanceDebiter interface {
	GetBalanceCents(ctx context.Context, userID string) (int64, error)
	DebitBalance(ctx context.Context, userID string, amountCents int64, txHash string) (remainingCents int64, err error)
}

// Request is ExecuteRetirement's input (spec §4.4).
type Request struct {
	UserID                 string
	CreditTypeHint         string
	TargetQuantity         string
	PreferredDenom         string
	BeneficiaryName        string
	RetirementJurisdiction string
	BaseReason             string
	Identity               identity.Attribution
	MarketplaceURL         string
}

// Service wires the Ledger Client, Payment Provider, and an optional
// prepaid-balance collaborator into the pipeline described by spec §9.
type Service struct {
	Ledger            ledger.Client
	Payment           payment.Provider
	Balance           BalanceDebiter // nil when no prepaid-balance collaborator is configured
	AllowedDenoms     []orders.AllowedDenom
	USDCDenom         string // the fiat provider's accepted on-chain denom
	PreferFiatUSDC    bool   // true when the configured payment provider is fiat
	RetirementTimeout time.Duration
}

func marketplaceFallback(url, message string) *Result {
	return &Result{Kind: KindMarketplaceFallback, MarketplaceURL: url, Message: message}
}

// ExecuteRetirement runs the full pipeline. Only a nil Service dependency
// (a programmer error, not a business failure) returns a non-nil error.
func (s *Service) ExecuteRetirement(ctx context.Context, req Request) (*Result, error) {
	if s.Ledger == nil || s.Payment == nil {
		return nil, fmt.Errorf("retirement: service is missing required dependencies")
	}

	// Step 1: no wallet configured → immediate fallback.
	if s.Ledger.Address() == "" {
		return marketplaceFallback(req.MarketplaceURL, "no on-chain wallet is configured; please purchase directly on the marketplace"), nil
	}

	// Step 2: bias denom choice toward the fiat provider's USDC-equivalent.
	preferredDenom := req.PreferredDenom
	if s.PreferFiatUSDC && preferredDenom == "" {
		preferredDenom = s.USDCDenom
	}

	// Step 3: select orders.
	selection, err := orders.SelectBestOrders(
		mustListSellOrders(ctx, s.Ledger),
		s.AllowedDenoms,
		s.Ledger.NativeDenom(),
		req.CreditTypeHint,
		req.TargetQuantity,
		preferredDenom,
		time.Now(),
	)
	if err != nil {
		logger.Error("retirement: order selection failed", zap.Error(err))
		return marketplaceFallback(req.MarketplaceURL, "could not retrieve marketplace orders; please try the marketplace directly"), nil
	}
	if len(selection.Orders) == 0 || selection.InsufficientSupply {
		return marketplaceFallback(req.MarketplaceURL, "not enough supply is currently available to fill this request"), nil
	}

	// Step 4: prepaid-balance check, if configured.
	costCents := money.CeilDiv(selection.TotalCostMicro, big.NewInt(centsPerMicroUSDC))
	if s.Balance != nil {
		balanceCents, err := s.Balance.GetBalanceCents(ctx, req.UserID)
		if err != nil {
			logger.Error("retirement: balance lookup failed", zap.Error(err))
			return marketplaceFallback(req.MarketplaceURL, "could not verify your account balance"), nil
		}
		if big.NewInt(balanceCents).Cmp(costCents) < 0 {
			return marketplaceFallback(req.MarketplaceURL, "your account balance is too low for this purchase"), nil
		}
	}

	// Step 5: authorize.
	metadata := map[string]string{}
	auth, err := s.Payment.Authorize(ctx, selection.TotalCostMicro, selection.PaymentDenom, metadata)
	if err != nil {
		logger.Error("retirement: authorize failed", zap.Error(err))
		return marketplaceFallback(req.MarketplaceURL, "payment authorization failed"), nil
	}
	if auth.Status != payment.StatusAuthorized {
		return marketplaceFallback(req.MarketplaceURL, fmt.Sprintf("payment was declined: %s", auth.Message)), nil
	}

	// Step 6: build messages.
	reason := identity.EncodeReason(req.BaseReason, req.Identity)
	messages := []ledger.BuyDirectMessage{{
		Buyer: s.Ledger.Address(),
	}}
	for _, fill := range selection.Orders {
		messages[0].Orders = append(messages[0].Orders, ledger.BuyOrder{
			SellOrderID:            fill.Order.ID,
			Quantity:               fill.Quantity,
			BidPrice:               ledger.Coin{Denom: selection.PaymentDenom, Amount: fill.CostMicro.String()},
			DisableAutoRetire:      false,
			RetirementJurisdiction: req.RetirementJurisdiction,
			RetirementReason:       reason,
		})
	}

	// Step 7: broadcast.
	broadcast, err := s.Ledger.SignAndBroadcast(ctx, messages)
	if err != nil {
		logger.Error("retirement: broadcast failed, refunding", zap.Error(err))
		s.safeRefund(ctx, auth.ID)
		return marketplaceFallback(req.MarketplaceURL, "the blockchain transaction failed to submit"), nil
	}
	if broadcast.Code != 0 {
		logger.Warn("retirement: broadcast returned a non-zero code, refunding",
			zap.Uint32("code", broadcast.Code), zap.String("raw_log", broadcast.RawLog))
		s.safeRefund(ctx, auth.ID)
		return marketplaceFallback(req.MarketplaceURL, "the blockchain transaction was rejected"), nil
	}

	// Step 8: capture. Invariant: captures only happen after code == 0.
	receipt, err := s.Payment.Capture(ctx, auth.ID)
	if err != nil {
		// The retirement is already on-chain; a failed capture here cannot
		// be undone by a fallback. Log loudly and proceed — the operator
		// reconciles capture failures out of band.
		logger.Error("retirement: capture failed after a successful broadcast", zap.Error(err), zap.String("tx_hash", broadcast.TxHash))
	}

	result := &Result{
		Kind:           KindSuccess,
		TxHash:         broadcast.TxHash,
		CreditsRetired: selection.TotalQuantity,
		CostMicro:      selection.TotalCostMicro,
		CostDenom:      selection.PaymentDenom,
		BlockHeight:    broadcast.Height,
	}

	if s.Balance != nil && receipt != nil {
		remaining, err := s.Balance.DebitBalance(ctx, req.UserID, costCents.Int64(), broadcast.TxHash)
		if err != nil {
			logger.Error("retirement: balance debit failed after a successful broadcast", zap.Error(err), zap.String("tx_hash", broadcast.TxHash))
		} else {
			result.RemainingBalanceCents = remaining
			result.HasRemainingBalance = true
		}
	}

	// Step 9: poll for the retirement record, bounded.
	timeout := s.RetirementTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rec, err := s.Ledger.WaitForRetirement(ctx, broadcast.TxHash, timeout)
	if err != nil {
		logger.Warn("retirement: indexer poll errored, omitting certificateId", zap.Error(err))
	} else if rec != nil {
		result.CertificateID = rec.NodeID
	}

	return result, nil
}

// safeRefund swallows refund errors after a failed broadcast, logging
// rather than surfacing them — there is nothing further the caller can do
// (spec §4.4's invariant on refund-failure swallowing).
func (s *Service) safeRefund(ctx context.Context, authorizationID string) {
	if err := s.Payment.Refund(ctx, authorizationID); err != nil {
		logger.Error("retirement: refund failed", zap.Error(err), zap.String("authorization_id", authorizationID))
	}
}

// mustListSellOrders fetches the current sell-order book, logging and
// returning an empty slice on failure so SelectBestOrders naturally
// reports insufficientSupply rather than the caller having to special-case
// a listing error versus an empty book.
func mustListSellOrders(ctx context.Context, client ledger.Client) []orders.SellOrder {
	list, err := client.ListSellOrders(ctx)
	if err != nil {
		logger.Error("retirement: failed to list sell orders", zap.Error(err))
		return nil
	}
	return list
}
