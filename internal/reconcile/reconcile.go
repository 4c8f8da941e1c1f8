// Package reconcile ties Subscription Sync and Batch Retirement into the
// single ReconciliationRun described in spec §3: a thin coordinator, not a
// new business rule. Its one piece of logic is the preflight-freshness
// gate (spec §9's Open Question), resolved in DESIGN.md.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/CShear/regen-compute-credits/internal/batch"
	"github.com/CShear/regen-compute-credits/internal/subscription"
	"github.com/CShear/regen-compute-credits/pkg/logger"
	"go.uber.org/zap"
)

const defaultPreflightFreshness = 24 * time.Hour

// BatchStatus mirrors batch.Status plus the coordinator-level "blocked"
// outcome for a stale-preflight refusal.
type BatchStatus string

const (
	BatchStatusDryRun  BatchStatus = "dry_run"
	BatchStatusSuccess BatchStatus = "success"
	BatchStatusFailed  BatchStatus = "failed"
	BatchStatusBlocked BatchStatus = "blocked"
)

// Run is one ReconciliationRun record (spec §3): a subscription sync
// outcome paired with a batch retirement outcome for the same month.
type Run struct {
	Month         string
	CreditType    string
	SyncResult    *subscription.Result
	BatchStatus   BatchStatus
	BatchExec     *batch.BatchExecution
	BlockedReason string
}

// Request is Coordinator.Run's input.
type Request struct {
	Month                  string
	CreditType             string
	Live                   bool // false = dry run/preflight; true = live batch execution
	Force                  bool // bypass the preflight-freshness gate
	Reason                 string
	SyncBeforeBatch        bool // run subscription sync for this month first
	PreferredDenom         string
	BeneficiaryName        string
	RetirementJurisdiction string
	MarketplaceURL         string
	FeeBasisPoints         int64
}

// Coordinator wires a Subscription Syncer and a Batch Driver together.
type Coordinator struct {
	Syncer             *subscription.Syncer // nil disables SyncBeforeBatch
	Driver             *batch.Driver
	Store              batch.Store
	PreflightFreshness time.Duration // default 24h when zero
}

func (c *Coordinator) freshnessWindow() time.Duration {
	if c.PreflightFreshness <= 0 {
		return defaultPreflightFreshness
	}
	return c.PreflightFreshness
}

// Run executes one reconciliation pass for (month, creditType), holding
// the distributed lock for the whole pass so a sync-then-batch sequence
// can't interleave with a concurrent run for the same key (spec §5).
func (c *Coordinator) Run(ctx context.Context, req Request) (*Run, error) {
	acquired, err := batch.AcquireLock(ctx, req.Month, req.CreditType)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return &Run{Month: req.Month, CreditType: req.CreditType, BatchStatus: BatchStatusBlocked, BlockedReason: batch.ErrLockBusy.Error()}, nil
	}
	defer batch.ReleaseLock(ctx, req.Month, req.CreditType)

	run := &Run{Month: req.Month, CreditType: req.CreditType}

	if req.SyncBeforeBatch && c.Syncer != nil {
		syncResult, err := c.Syncer.SyncAll(ctx, subscription.Request{AllCustomers: true, MonthFilter: req.Month})
		if err != nil {
			return nil, fmt.Errorf("reconcile: subscription sync failed: %w", err)
		}
		run.SyncResult = syncResult
	}

	if !req.Live {
		exec, err := c.Driver.Run(ctx, batch.Request{
			Month:                  req.Month,
			CreditType:             req.CreditType,
			DryRun:                 true,
			Reason:                 req.Reason,
			PreferredDenom:         req.PreferredDenom,
			BeneficiaryName:        req.BeneficiaryName,
			RetirementJurisdiction: req.RetirementJurisdiction,
			MarketplaceURL:         req.MarketplaceURL,
			FeeBasisPoints:         req.FeeBasisPoints,
		})
		if err != nil {
			return nil, err
		}
		run.BatchExec = exec
		run.BatchStatus = statusFor(exec, BatchStatusDryRun)
		return run, nil
	}

	if !req.Force {
		blocked, reason, err := c.checkPreflight(ctx, req.Month, req.CreditType)
		if err != nil {
			return nil, err
		}
		if blocked {
			run.BatchStatus = BatchStatusBlocked
			run.BlockedReason = reason
			logger.Warn("reconcile: live run blocked by stale preflight", zap.String("month", req.Month), zap.String("credit_type", req.CreditType), zap.String("reason", reason))
			return run, nil
		}
	}

	exec, err := c.Driver.Run(ctx, batch.Request{
		Month:                  req.Month,
		CreditType:             req.CreditType,
		DryRun:                 false,
		Reason:                 req.Reason,
		PreferredDenom:         req.PreferredDenom,
		BeneficiaryName:        req.BeneficiaryName,
		RetirementJurisdiction: req.RetirementJurisdiction,
		MarketplaceURL:         req.MarketplaceURL,
		FeeBasisPoints:         req.FeeBasisPoints,
	})
	if err != nil {
		return nil, err
	}
	run.BatchExec = exec
	run.BatchStatus = statusFor(exec, BatchStatusSuccess)
	return run, nil
}

// checkPreflight implements spec §4.8 step 3's blocking rule: a live run
// must be preceded by a successful dry_run for the same (month,
// creditType) within the freshness window.
func (c *Coordinator) checkPreflight(ctx context.Context, month, creditType string) (blocked bool, reason string, err error) {
	latest, err := batch.LatestDryRun(ctx, c.Store, month, creditType)
	if err != nil {
		return false, "", err
	}
	if latest == nil {
		return true, "no dry_run preflight has been recorded for this month/creditType", nil
	}
	createdAt, err := batch.ParseCreatedAt(*latest)
	if err != nil {
		return true, "the recorded preflight's timestamp could not be parsed", nil
	}
	if time.Since(createdAt) > c.freshnessWindow() {
		return true, "the most recent dry_run preflight is older than the configured freshness window", nil
	}
	return false, "", nil
}

func statusFor(exec *batch.BatchExecution, successStatus BatchStatus) BatchStatus {
	if exec.Status == batch.StatusSuccess {
		return successStatus
	}
	return BatchStatusFailed
}
