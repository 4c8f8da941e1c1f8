// Package dashboard builds read-only projections over the pool, batch, and
// identity packages for external display — it never writes back to any of
// its collaborators, satisfying spec §9's one-way dependency rule.
package dashboard

import (
	"context"
	"fmt"

	"github.com/CShear/regen-compute-credits/internal/batch"
	"github.com/CShear/regen-compute-credits/internal/identity"
	"github.com/CShear/regen-compute-credits/internal/pool"
)

// ContributorView is one contributor's row within a MonthSummaryView.
type ContributorView struct {
	UserID     string
	TotalCents int64
	Count      int
}

// MonthSummaryView projects a month's pool accounting for display.
type MonthSummaryView struct {
	Month              string
	TotalUsdCents      int64
	ContributionCount  int
	UniqueContributors int
	Contributors       []ContributorView
}

// AttributionView is one contributor's share within a BatchView.
type AttributionView struct {
	UserID                  string
	AttributedBudgetCents   int64
	AttributedCostMicro     string
	AttributedQuantityMicro string
	SharePpm                int64
}

// BatchView projects a single BatchExecution for display.
type BatchView struct {
	ID                    string
	Month                 string
	CreditType            string
	DryRun                bool
	Status                string
	BudgetUsdCents        int64
	AppliedBudgetUsdCents int64
	TotalCostMicro        string
	RetiredQuantity       string
	PaymentDenom          string
	TxHash                string
	CertificateID         string
	Attributions          []AttributionView
	ErrorMessage          string
}

// CertificateView is the read-model projection of a single retirement
// record (spec's GLOSSARY "Certificate" entry), with its free-text reason
// split back into the human-readable text and the parsed identity tag.
type CertificateView struct {
	TxHash          string
	CertificateID   string
	CreditType      string
	RetiredQuantity string
	ReasonText      string
	Identity        identity.Attribution
	IdentityFound   bool
}

// Projector builds dashboard views from already-built Accounting and
// batch.Store collaborators. It holds no state of its own.
type Projector struct {
	Accounting *pool.Accounting
	BatchStore batch.Store
}

// MonthSummary projects spec §4.6's monthly pool accounting.
func (p *Projector) MonthSummary(ctx context.Context, month string) (*MonthSummaryView, error) {
	summary, err := p.Accounting.GetMonthlySummary(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("dashboard: failed to load month summary: %w", err)
	}
	view := &MonthSummaryView{
		Month:              summary.Month,
		TotalUsdCents:      summary.TotalCents,
		ContributionCount:  summary.ContributionCount,
		UniqueContributors: summary.UniqueContributors,
	}
	for _, c := range summary.Contributors {
		view.Contributors = append(view.Contributors, ContributorView{UserID: c.UserID, TotalCents: c.TotalCents, Count: c.Count})
	}
	return view, nil
}

// BatchHistory projects every recorded BatchExecution for a
// (month, creditType), newest append order preserved (batch.Store.All
// does not sort, matching its own append-only contract).
func (p *Projector) BatchHistory(ctx context.Context, month, creditType string) ([]BatchView, error) {
	all, err := p.BatchStore.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard: failed to load batch executions: %w", err)
	}
	var views []BatchView
	for _, e := range all {
		if e.Month != month || e.CreditType != creditType {
			continue
		}
		views = append(views, batchView(e))
	}
	return views, nil
}

// Certificate finds a single settled retirement by certificate id and
// splits its reason back into display text and attributed identity.
func (p *Projector) Certificate(ctx context.Context, certificateID string) (*CertificateView, error) {
	all, err := p.BatchStore.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard: failed to load batch executions: %w", err)
	}
	for _, e := range all {
		if e.CertificateID != certificateID {
			continue
		}
		reasonText, attribution, ok := identity.ParseAttributedReason(e.Reason)
		return &CertificateView{
			TxHash:          e.TxHash,
			CertificateID:   e.CertificateID,
			CreditType:      e.CreditType,
			RetiredQuantity: e.RetiredQuantity,
			ReasonText:      reasonText,
			Identity:        attribution,
			IdentityFound:   ok,
		}, nil
	}
	return nil, fmt.Errorf("dashboard: no settled execution with certificate id %q", certificateID)
}

func batchView(e batch.BatchExecution) BatchView {
	view := BatchView{
		ID:                    e.ID,
		Month:                 e.Month,
		CreditType:            e.CreditType,
		DryRun:                e.DryRun,
		Status:                string(e.Status),
		BudgetUsdCents:        e.BudgetUsdCents,
		AppliedBudgetUsdCents: e.AppliedBudgetUsdCents,
		TotalCostMicro:        e.TotalCostMicro,
		RetiredQuantity:       e.RetiredQuantity,
		PaymentDenom:          e.PaymentDenom,
		TxHash:                e.TxHash,
		CertificateID:         e.CertificateID,
		ErrorMessage:          e.ErrorMessage,
	}
	for _, a := range e.Attributions {
		view.Attributions = append(view.Attributions, AttributionView{
			UserID:                  a.UserID,
			AttributedBudgetCents:   a.AttributedBudgetCents,
			AttributedCostMicro:     a.AttributedCostMicro,
			AttributedQuantityMicro: a.AttributedQuantityMicro,
			SharePpm:                a.SharePpm,
		})
	}
	return view
}
