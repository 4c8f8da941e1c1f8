// Package pool implements spec §4.6's Pool Accounting: an append-only
// ledger of contributions keyed for idempotency on externalEventId, plus
// pure aggregation functions over the current state.
package pool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source discriminates how a Contribution entered the pool.
type Source string

const (
	SourceSubscription Source = "subscription"
	SourceOneOff       Source = "one-off"
)

// Contribution is one append-only pool entry (spec §3).
type Contribution struct {
	ID              string            `json:"id"`
	UserID          string            `json:"userId"`
	AmountUsdCents  int64             `json:"amountUsdCents"`
	ContributedAt   string            `json:"contributedAt"` // ISO-8601
	Source          Source            `json:"source"`
	ExternalEventID string            `json:"externalEventId,omitempty"`
	TierID          string            `json:"tierId,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Month           string            `json:"month"` // derived, first 7 chars of ContributedAt
}

// RecordInput is recordContribution's input. UserID is resolved from the
// first non-empty of UserID, "customer:"+CustomerID, "email:"+lower(Email)
// when UserID is left blank.
type RecordInput struct {
	UserID          string
	CustomerID      string
	Email           string
	AmountUsdCents  int64
	ContributedAt   string
	Source          Source
	ExternalEventID string
	TierID          string
	Metadata        map[string]string
}

// ContributorSummary is one contributor's aggregate within a month.
type ContributorSummary struct {
	UserID     string
	TotalCents int64
	Count      int
}

// MonthSummary is getMonthlySummary's return shape.
type MonthSummary struct {
	Month              string
	TotalCents         int64
	ContributionCount  int
	UniqueContributors int
	Contributors       []ContributorSummary // sorted desc by TotalCents
}

// MonthBreakdown is one month's total within a UserSummary.
type MonthBreakdown struct {
	Month      string
	TotalCents int64
}

// UserSummary is getUserSummary's return shape.
type UserSummary struct {
	UserID             string
	LifetimeTotalCents int64
	Months             []MonthBreakdown // sorted desc by Month
	LastContributedAt  string
}

func resolveUserID(in RecordInput) (string, error) {
	if in.UserID != "" {
		return in.UserID, nil
	}
	if in.CustomerID != "" {
		return "customer:" + in.CustomerID, nil
	}
	if in.Email != "" {
		return "email:" + strings.ToLower(strings.TrimSpace(in.Email)), nil
	}
	return "", fmt.Errorf("pool: one of userId, customerId, or email is required")
}

func deriveMonth(contributedAt string) (string, error) {
	if _, err := time.Parse(time.RFC3339, contributedAt); err != nil {
		if _, err2 := time.Parse("2006-01-02T15:04:05", contributedAt); err2 != nil {
			return "", fmt.Errorf("pool: contributedAt %q is not valid ISO-8601: %w", contributedAt, err)
		}
	}
	if len(contributedAt) < 7 {
		return "", fmt.Errorf("pool: contributedAt %q is too short to derive a month", contributedAt)
	}
	return contributedAt[:7], nil
}

// Store is the append-only, read-modify-write persistence interface.
// filestore.go provides a JSON-file-backed implementation.
type Store interface {
	// Append writes a new contribution. Callers
	// must already have resolved idempotency (FindByExternalEventID)
	// before calling Append — the store itself does not scan for
	// duplicates, so all serialization happens through Accounting's mutex.
	Append(ctx context.Context, c Contribution) error
	FindByExternalEventID(ctx context.Context, externalEventID string) (*Contribution, bool, error)
	All(ctx context.Context) ([]Contribution, error)
}

// RecordResult is recordContribution's return shape.
type RecordResult struct {
	Record       Contribution
	Duplicate    bool
	UserSummary  UserSummary
	MonthSummary MonthSummary
}

// Accounting wraps a Store with the pool's write and read operations.
// All writes serialize through writeMu in-process; neither Accounting nor
// FileStore coordinates with other processes sharing the same file.
type Accounting struct {
	store Store

	// writeMu serializes the check-then-append sequence in
	// RecordContribution so two concurrent calls sharing an
	// ExternalEventID can't both observe "not found" and both append —
	// the store's own per-call locking (see FileStore) isn't enough on
	// its own, since the check and the append are two separate calls.
	writeMu sync.Mutex
}

// NewAccounting builds an Accounting over the given Store.
func NewAccounting(store Store) *Accounting {
	return &Accounting{store: store}
}

// RecordContribution implements spec §4.6: resolves userId, derives month,
// checks externalEventId idempotency, appends, then returns both
// aggregate summaries for the affected user and month.
func (a *Accounting) RecordContribution(ctx context.Context, in RecordInput) (*RecordResult, error) {
	if in.AmountUsdCents <= 0 {
		return nil, fmt.Errorf("pool: amountUsdCents must be positive")
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	userID, err := resolveUserID(in)
	if err != nil {
		return nil, err
	}
	month, err := deriveMonth(in.ContributedAt)
	if err != nil {
		return nil, err
	}

	if in.ExternalEventID != "" {
		existing, found, err := a.store.FindByExternalEventID(ctx, in.ExternalEventID)
		if err != nil {
			return nil, fmt.Errorf("pool: failed to check idempotency: %w", err)
		}
		if found {
			userSummary, monthSummary, err := a.summaries(ctx, existing.UserID, existing.Month)
			if err != nil {
				return nil, err
			}
			return &RecordResult{Record: *existing, Duplicate: true, UserSummary: userSummary, MonthSummary: monthSummary}, nil
		}
	}

	record := Contribution{
		ID:              uuid.NewString(),
		UserID:          userID,
		AmountUsdCents:  in.AmountUsdCents,
		ContributedAt:   in.ContributedAt,
		Source:          in.Source,
		ExternalEventID: in.ExternalEventID,
		TierID:          in.TierID,
		Metadata:        in.Metadata,
		Month:           month,
	}

	if err := a.store.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("pool: failed to append contribution: %w", err)
	}

	userSummary, monthSummary, err := a.summaries(ctx, userID, month)
	if err != nil {
		return nil, err
	}
	return &RecordResult{Record: record, Duplicate: false, UserSummary: userSummary, MonthSummary: monthSummary}, nil
}

func (a *Accounting) summaries(ctx context.Context, userID, month string) (UserSummary, MonthSummary, error) {
	userSummary, err := a.GetUserSummary(ctx, userID)
	if err != nil {
		return UserSummary{}, MonthSummary{}, err
	}
	monthSummary, err := a.GetMonthlySummary(ctx, month)
	if err != nil {
		return UserSummary{}, MonthSummary{}, err
	}
	return userSummary, monthSummary, nil
}

// GetMonthlySummary aggregates all contributions for the given month.
func (a *Accounting) GetMonthlySummary(ctx context.Context, month string) (MonthSummary, error) {
	all, err := a.store.All(ctx)
	if err != nil {
		return MonthSummary{}, fmt.Errorf("pool: failed to read contributions: %w", err)
	}

	totals := map[string]*ContributorSummary{}
	var order []string
	var totalCents int64
	count := 0
	for _, c := range all {
		if c.Month != month {
			continue
		}
		totalCents += c.AmountUsdCents
		count++
		cs, ok := totals[c.UserID]
		if !ok {
			cs = &ContributorSummary{UserID: c.UserID}
			totals[c.UserID] = cs
			order = append(order, c.UserID)
		}
		cs.TotalCents += c.AmountUsdCents
		cs.Count++
	}

	contributors := make([]ContributorSummary, 0, len(order))
	for _, userID := range order {
		contributors = append(contributors, *totals[userID])
	}
	sort.SliceStable(contributors, func(i, j int) bool {
		return contributors[i].TotalCents > contributors[j].TotalCents
	})

	return MonthSummary{
		Month:              month,
		TotalCents:         totalCents,
		ContributionCount:  count,
		UniqueContributors: len(contributors),
		Contributors:       contributors,
	}, nil
}

// GetUserSummary aggregates lifetime and per-month totals for a single
// contributor identifier.
func (a *Accounting) GetUserSummary(ctx context.Context, identifier string) (UserSummary, error) {
	all, err := a.store.All(ctx)
	if err != nil {
		return UserSummary{}, fmt.Errorf("pool: failed to read contributions: %w", err)
	}

	monthTotals := map[string]int64{}
	var monthOrder []string
	var lifetime int64
	var lastContributedAt string
	for _, c := range all {
		if c.UserID != identifier {
			continue
		}
		lifetime += c.AmountUsdCents
		if _, ok := monthTotals[c.Month]; !ok {
			monthOrder = append(monthOrder, c.Month)
		}
		monthTotals[c.Month] += c.AmountUsdCents
		if c.ContributedAt > lastContributedAt {
			lastContributedAt = c.ContributedAt
		}
	}

	months := make([]MonthBreakdown, 0, len(monthOrder))
	for _, m := range monthOrder {
		months = append(months, MonthBreakdown{Month: m, TotalCents: monthTotals[m]})
	}
	sort.SliceStable(months, func(i, j int) bool { return months[i].Month > months[j].Month })

	return UserSummary{
		UserID:             identifier,
		LifetimeTotalCents: lifetime,
		Months:             months,
		LastContributedAt:  lastContributedAt,
	}, nil
}

// ContributorAggregate is getMonthContributors' per-contributor shape,
// consumed by the Batch Driver for fractional attribution (spec §4.7).
type ContributorAggregate struct {
	UserID     string
	TotalCents int64
}

// GetMonthContributors returns per-contributor totals for a month, sorted
// descending by total then ascending by userId for deterministic
// tie-breaking downstream in internal/batch's attribution algorithm.
func (a *Accounting) GetMonthContributors(ctx context.Context, month string) ([]ContributorAggregate, error) {
	summary, err := a.GetMonthlySummary(ctx, month)
	if err != nil {
		return nil, err
	}
	out := make([]ContributorAggregate, 0, len(summary.Contributors))
	for _, c := range summary.Contributors {
		out = append(out, ContributorAggregate{UserID: c.UserID, TotalCents: c.TotalCents})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalCents != out[j].TotalCents {
			return out[i].TotalCents > out[j].TotalCents
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}
