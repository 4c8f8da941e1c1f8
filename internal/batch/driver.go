// Package batch implements spec §4.8's monthly driver: compute a budget
// from Pool Accounting, select budget-constrained sell orders, gate on
// dry-run/preflight, execute the on-chain retirement using the same
// authorize/broadcast/capture/poll semantics as internal/retirement, then
// split the result proportionally across the month's contributors.
package batch

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
	"github.com/CShear/regen-compute-credits/internal/pool"
	"github.com/CShear/regen-compute-credits/pkg/logger"
	"go.uber.org/zap"
)

// centsPerMicroUSDC mirrors internal/payment and internal/retirement's
// fiat conversion constant.
const centsPerMicroUSDC = 10_000

// Request is Driver.Run's input (spec §4.8).
type Request struct {
	Month                  string
	CreditType             string
	DryRun                 bool
	PreflightOnly          bool
	Force                  bool
	Reason                 string
	PreferredDenom         string
	BeneficiaryName        string
	RetirementJurisdiction string
	MarketplaceURL         string
	FeeBasisPoints         int64 // operations/fee fraction deducted from the pool total, in bps of cents
}

// Driver wires Pool Accounting, the Order Selector, the Ledger Client, and
// the Payment Provider into the monthly batch sequence.
type Driver struct {
	Accounting     *pool.Accounting
	Ledger         ledger.Client
	Payment        payment.Provider
	Store          Store
	AllowedDenoms  []orders.AllowedDenom
	USDCDenom      string
	PreferFiatUSDC bool
	PollTimeout    time.Duration
}

func (d *Driver) budgetUsdCents(ctx context.Context, month string, feeBps int64) (int64, error) {
	summary, err := d.Accounting.GetMonthlySummary(ctx, month)
	if err != nil {
		return 0, fmt.Errorf("batch: failed to read monthly pool summary: %w", err)
	}
	fee := (summary.TotalCents * feeBps) / 10_000
	return summary.TotalCents - fee, nil
}

func (d *Driver) persist(ctx context.Context, e BatchExecution) {
	if err := d.Store.Append(ctx, e); err != nil {
		logger.Error("batch: failed to persist execution record", zap.String("id", e.ID), zap.Error(err))
	}
}

func failed(req Request, budgetCents int64, message string) BatchExecution {
	return BatchExecution{
		ID:             newExecutionID(),
		Month:          req.Month,
		CreditType:     req.CreditType,
		DryRun:         req.DryRun,
		Status:         StatusFailed,
		BudgetUsdCents: budgetCents,
		ErrorMessage:   message,
		Reason:         req.Reason,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
}

// Run executes spec §4.8's 5-step sequence for one (month, creditType).
// Locking is the caller's responsibility for multi-instance deployments —
// see AcquireLock/ReleaseLock, which cmd/worker/batch and internal/reconcile
// wrap this call with.
func (d *Driver) Run(ctx context.Context, req Request) (*BatchExecution, error) {
	// Step 1: compute budget.
	budgetCents, err := d.budgetUsdCents(ctx, req.Month, req.FeeBasisPoints)
	if err != nil {
		return nil, err
	}
	if budgetCents <= 0 {
		exec := failed(req, budgetCents, "no pool budget available for this month")
		d.persist(ctx, exec)
		return &exec, nil
	}

	preferredDenom := req.PreferredDenom
	if d.PreferFiatUSDC && preferredDenom == "" {
		preferredDenom = d.USDCDenom
	}

	budgetMicro := new(big.Int).Mul(big.NewInt(budgetCents), big.NewInt(centsPerMicroUSDC))

	// Step 2: select budget-constrained orders.
	sellOrders, err := d.Ledger.ListSellOrders(ctx)
	if err != nil {
		logger.Error("batch: failed to list sell orders", zap.Error(err))
		exec := failed(req, budgetCents, "failed to retrieve marketplace orders")
		d.persist(ctx, exec)
		return &exec, nil
	}

	selection, err := orders.SelectOrdersForBudget(
		sellOrders,
		d.AllowedDenoms,
		d.Ledger.NativeDenom(),
		req.CreditType,
		budgetMicro,
		preferredDenom,
		time.Now(),
	)
	if err != nil {
		logger.Error("batch: order selection failed", zap.Error(err))
		exec := failed(req, budgetCents, "order selection failed")
		d.persist(ctx, exec)
		return &exec, nil
	}
	if len(selection.Orders) == 0 {
		exec := failed(req, budgetCents, "no eligible orders for budget")
		d.persist(ctx, exec)
		return &exec, nil
	}

	appliedBudgetCents := money.CeilDiv(selection.TotalCostMicro, big.NewInt(centsPerMicroUSDC)).Int64()

	// Step 3: dry-run / preflight-only short circuit — never calls the
	// payment provider or the Ledger's write path.
	if req.DryRun || req.PreflightOnly {
		exec := BatchExecution{
			ID:                    newExecutionID(),
			Month:                 req.Month,
			CreditType:            req.CreditType,
			DryRun:                true,
			Status:                StatusSuccess,
			BudgetUsdCents:        budgetCents,
			AppliedBudgetUsdCents: appliedBudgetCents,
			TotalCostMicro:        selection.TotalCostMicro.String(),
			RetiredQuantity:       selection.TotalQuantity,
			PaymentDenom:          selection.PaymentDenom,
			Reason:                req.Reason,
			CreatedAt:             time.Now().UTC().Format(time.RFC3339),
		}
		d.persist(ctx, exec)
		return &exec, nil
	}

	// Step 4: live execution — authorize, broadcast, capture, poll.
	metadata := map[string]string{}
	auth, err := d.Payment.Authorize(ctx, selection.TotalCostMicro, selection.PaymentDenom, metadata)
	if err != nil {
		logger.Error("batch: authorize failed", zap.Error(err))
		exec := failed(req, budgetCents, "payment authorization failed")
		d.persist(ctx, exec)
		return &exec, nil
	}
	if auth.Status != payment.StatusAuthorized {
		exec := failed(req, budgetCents, fmt.Sprintf("payment was declined: %s", auth.Message))
		d.persist(ctx, exec)
		return &exec, nil
	}

	batchIdentity := identity.Attribution{Method: identity.MethodNone}
	if req.BeneficiaryName != "" {
		batchIdentity = identity.Attribution{Method: identity.MethodManual, Name: req.BeneficiaryName}
	}
	reason := identity.EncodeReason(req.Reason, batchIdentity)
	msg := ledger.BuyDirectMessage{Buyer: d.Ledger.Address()}
	for _, fill := range selection.Orders {
		msg.Orders = append(msg.Orders, ledger.BuyOrder{
			SellOrderID:            fill.Order.ID,
			Quantity:               fill.Quantity,
			BidPrice:               ledger.Coin{Denom: selection.PaymentDenom, Amount: fill.CostMicro.String()},
			DisableAutoRetire:      false,
			RetirementJurisdiction: req.RetirementJurisdiction,
			RetirementReason:       reason,
		})
	}

	broadcast, err := d.Ledger.SignAndBroadcast(ctx, []ledger.BuyDirectMessage{msg})
	if err != nil {
		logger.Error("batch: broadcast failed, refunding", zap.Error(err))
		d.safeRefund(ctx, auth.ID)
		exec := failed(req, budgetCents, "the blockchain transaction failed to submit")
		d.persist(ctx, exec)
		return &exec, nil
	}
	if broadcast.Code != 0 {
		logger.Warn("batch: broadcast returned a non-zero code, refunding",
			zap.Uint32("code", broadcast.Code), zap.String("raw_log", broadcast.RawLog))
		d.safeRefund(ctx, auth.ID)
		exec := failed(req, budgetCents, "the blockchain transaction was rejected")
		d.persist(ctx, exec)
		return &exec, nil
	}

	if _, err := d.Payment.Capture(ctx, auth.ID); err != nil {
		logger.Error("batch: capture failed after a successful broadcast", zap.Error(err), zap.String("tx_hash", broadcast.TxHash))
	}

	certificateID := ""
	timeout := d.PollTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if rec, err := d.Ledger.WaitForRetirement(ctx, broadcast.TxHash, timeout); err != nil {
		logger.Warn("batch: indexer poll errored, omitting certificateId", zap.Error(err))
	} else if rec != nil {
		certificateID = rec.NodeID
	}

	// Step 5: compute attributions and persist success.
	attributions, err := d.attribute(ctx, req.Month, appliedBudgetCents, selection)
	if err != nil {
		logger.Error("batch: attribution failed after a successful broadcast", zap.Error(err), zap.String("tx_hash", broadcast.TxHash))
	}

	exec := BatchExecution{
		ID:                    newExecutionID(),
		Month:                 req.Month,
		CreditType:            req.CreditType,
		DryRun:                false,
		Status:                StatusSuccess,
		BudgetUsdCents:        budgetCents,
		AppliedBudgetUsdCents: appliedBudgetCents,
		TotalCostMicro:        selection.TotalCostMicro.String(),
		RetiredQuantity:       selection.TotalQuantity,
		PaymentDenom:          selection.PaymentDenom,
		TxHash:                broadcast.TxHash,
		CertificateID:         certificateID,
		Attributions:          attributions,
		Reason:                req.Reason,
		CreatedAt:             time.Now().UTC().Format(time.RFC3339),
	}
	d.persist(ctx, exec)
	return &exec, nil
}

func (d *Driver) safeRefund(ctx context.Context, authorizationID string) {
	if err := d.Payment.Refund(ctx, authorizationID); err != nil {
		logger.Error("batch: refund failed", zap.Error(err), zap.String("authorization_id", authorizationID))
	}
}

// attribute implements spec §4.8's three independent proportional splits,
// weighted by each contributor's totalUsdCents for the month.
func (d *Driver) attribute(ctx context.Context, month string, appliedBudgetCents int64, selection *orders.BudgetResult) ([]ContributorAttribution, error) {
	contributors, err := d.Accounting.GetMonthContributors(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("batch: failed to read month contributors: %w", err)
	}
	if len(contributors) == 0 {
		return nil, nil
	}

	weights := make([]Weight, len(contributors))
	sumW := new(big.Int)
	for i, c := range contributors {
		v := big.NewInt(c.TotalCents)
		weights[i] = Weight{UserID: c.UserID, Value: v}
		sumW.Add(sumW, v)
	}

	budgetAlloc := Allocate(big.NewInt(appliedBudgetCents), weights)
	costAlloc := Allocate(selection.TotalCostMicro, weights)
	quantityMicro, err := money.ParseQuantityMicro(selection.TotalQuantity)
	if err != nil {
		return nil, fmt.Errorf("batch: failed to parse retired quantity: %w", err)
	}
	quantityAlloc := Allocate(quantityMicro, weights)

	out := make([]ContributorAttribution, len(contributors))
	for i, w := range weights {
		out[i] = ContributorAttribution{
			UserID:                  w.UserID,
			AttributedBudgetCents:   budgetAlloc[i].Amount.Int64(),
			AttributedCostMicro:     costAlloc[i].Amount.String(),
			AttributedQuantityMicro: quantityAlloc[i].Amount.String(),
			SharePpm:                SharePpm(w.Value, sumW),
		}
	}
	return out, nil
}
