// Package subscription implements spec §4.7's Subscription Sync: paginated
// ingestion of paid invoices from the payment gateway into Pool
// Accounting, deduplicated by externalEventId.
package subscription

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/CShear/regen-compute-credits/internal/payment/gateway"
	"github.com/CShear/regen-compute-credits/internal/pool"
	"github.com/CShear/regen-compute-credits/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultMaxPages = 10
	minMaxPages     = 1
	maxMaxPages     = 50
)

var monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// PriceTierResolver maps a gateway price id to this system's tier id.
type PriceTierResolver interface {
	TierForPrice(priceID string) (tierID string, ok bool)
}

// Request is SyncCustomer/SyncAll's shared input.
type Request struct {
	CustomerID   string
	Email        string
	AllCustomers bool
	MonthFilter  string // optional "YYYY-MM"
	MaxPages     int    // default 10, clamped 1-50
}

// Result is the sync outcome (spec §4.7).
type Result struct {
	Synced     int
	Duplicates int
	Skipped    int
	Truncated  bool
}

// Syncer drives invoice ingestion.
type Syncer struct {
	Gateway    *gateway.Client
	Accounting *pool.Accounting
	Tiers      PriceTierResolver
}

func clampMaxPages(requested int) int {
	if requested <= 0 {
		return defaultMaxPages
	}
	if requested < minMaxPages {
		return minMaxPages
	}
	if requested > maxMaxPages {
		return maxMaxPages
	}
	return requested
}

// Validate implements spec §4.7's validation rule.
func (r Request) Validate() error {
	if r.MonthFilter != "" && !monthPattern.MatchString(r.MonthFilter) {
		return fmt.Errorf("subscription: month filter %q must match YYYY-MM", r.MonthFilter)
	}
	if !r.AllCustomers && r.CustomerID == "" && r.Email == "" {
		return fmt.Errorf("subscription: at least one identity or allCustomers=true is required")
	}
	return nil
}

// SyncCustomer syncs a single customer's invoices, identified by customer
// id or email.
func (s *Syncer) SyncCustomer(ctx context.Context, req Request) (*Result, error) {
	if req.AllCustomers {
		return nil, fmt.Errorf("subscription: SyncCustomer called with allCustomers=true; use SyncAll")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	customerID := req.CustomerID
	if customerID == "" {
		customer, err := s.Gateway.GetOrCreateCustomer(ctx, req.Email)
		if err != nil {
			return nil, fmt.Errorf("subscription: failed to resolve customer for %s: %w", req.Email, err)
		}
		customerID = customer.ID
	}

	return s.syncPages(ctx, customerID, req)
}

// SyncAll walks every customer's invoices, paginated and bounded by
// req.MaxPages.
func (s *Syncer) SyncAll(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.syncPages(ctx, "", req)
}

func (s *Syncer) syncPages(ctx context.Context, customerID string, req Request) (*Result, error) {
	maxPages := clampMaxPages(req.MaxPages)
	result := &Result{}

	cursor := ""
	for page := 0; page < maxPages; page++ {
		invoicePage, err := s.Gateway.ListInvoices(ctx, customerID, cursor, 100)
		if err != nil {
			return nil, fmt.Errorf("subscription: failed to list invoices: %w", err)
		}

		for _, inv := range invoicePage.Data {
			if inv.Status != "paid" || inv.Currency != "usd" {
				continue
			}
			if req.MonthFilter != "" {
				month, err := invoiceMonth(inv)
				if err != nil || month != req.MonthFilter {
					result.Skipped++
					continue
				}
			}

			tierID, _ := s.resolveTier(inv)

			record, err := s.Accounting.RecordContribution(ctx, pool.RecordInput{
				CustomerID:      inv.CustomerID,
				AmountUsdCents:  inv.AmountPaid,
				ContributedAt:   invoicePaidAtISO(inv),
				Source:          pool.SourceSubscription,
				ExternalEventID: "stripe_invoice:" + inv.ID,
				TierID:          tierID,
			})
			if err != nil {
				logger.Error("subscription: failed to record contribution", zap.String("invoice_id", inv.ID), zap.Error(err))
				return nil, fmt.Errorf("subscription: failed to record contribution for invoice %s: %w", inv.ID, err)
			}
			if record.Duplicate {
				result.Duplicates++
			} else {
				result.Synced++
			}
		}

		if !invoicePage.HasMore {
			return result, nil
		}
		cursor = invoicePage.NextCursor
	}

	result.Truncated = true
	return result, nil
}

func (s *Syncer) resolveTier(inv gateway.Invoice) (string, bool) {
	if s.Tiers == nil || inv.PriceID == "" {
		return "", false
	}
	return s.Tiers.TierForPrice(inv.PriceID)
}

func invoicePaidAtISO(inv gateway.Invoice) string {
	return time.Unix(inv.PaidAt, 0).UTC().Format(time.RFC3339)
}

func invoiceMonth(inv gateway.Invoice) (string, error) {
	if inv.PaidAt == 0 {
		return "", fmt.Errorf("subscription: invoice %s has no paidAt timestamp", inv.ID)
	}
	return invoicePaidAtISO(inv)[:7], nil
}
