package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CShear/regen-compute-credits/internal/payment/gateway"
	"github.com/CShear/regen-compute-credits/internal/pool"
)

type memStore struct {
	contributions []pool.Contribution
}

func (m *memStore) Append(ctx context.Context, c pool.Contribution) error {
	m.contributions = append(m.contributions, c)
	return nil
}

func (m *memStore) FindByExternalEventID(ctx context.Context, externalEventID string) (*pool.Contribution, bool, error) {
	for _, c := range m.contributions {
		if c.ExternalEventID == externalEventID {
			found := c
			return &found, true, nil
		}
	}
	return nil, false, nil
}

func (m *memStore) All(ctx context.Context) ([]pool.Contribution, error) {
	return m.contributions, nil
}

func newTestSyncer(t *testing.T, handler http.HandlerFunc) (*Syncer, *httptest.Server) {
	server := httptest.NewServer(handler)
	gw := gateway.NewClient(gateway.Config{BaseURL: server.URL})
	return &Syncer{Gateway: gw, Accounting: pool.NewAccounting(&memStore{})}, server
}

func TestRequest_ValidateRequiresIdentityOrAllCustomers(t *testing.T) {
	err := Request{}.Validate()
	assert.Error(t, err)

	err = Request{AllCustomers: true}.Validate()
	assert.NoError(t, err)

	err = Request{CustomerID: "cus_1"}.Validate()
	assert.NoError(t, err)
}

func TestRequest_ValidateRejectsMalformedMonth(t *testing.T) {
	err := Request{AllCustomers: true, MonthFilter: "2026-7"}.Validate()
	assert.Error(t, err)

	err = Request{AllCustomers: true, MonthFilter: "2026-07"}.Validate()
	assert.NoError(t, err)
}

func TestSyncCustomer_RecordsOnePageOfPaidUSDInvoices(t *testing.T) {
	syncer, server := newTestSyncer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []gateway.Invoice{
				{ID: "in_1", CustomerID: "cus_1", AmountPaid: 1000, Currency: "usd", Status: "paid", PaidAt: 1751328000},
				{ID: "in_2", CustomerID: "cus_1", AmountPaid: 500, Currency: "eur", Status: "paid", PaidAt: 1751328000},
				{ID: "in_3", CustomerID: "cus_1", AmountPaid: 500, Currency: "usd", Status: "open", PaidAt: 1751328000},
			},
			"has_more": false,
		})
	})
	defer server.Close()

	result, err := syncer.SyncCustomer(context.Background(), Request{CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, result.Duplicates)
	assert.False(t, result.Truncated)
}

func TestSyncCustomer_DeduplicatesAcrossRuns(t *testing.T) {
	syncer, server := newTestSyncer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []gateway.Invoice{
				{ID: "in_1", CustomerID: "cus_1", AmountPaid: 1000, Currency: "usd", Status: "paid", PaidAt: 1751328000},
			},
			"has_more": false,
		})
	})
	defer server.Close()

	first, err := syncer.SyncCustomer(context.Background(), Request{CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Synced)

	second, err := syncer.SyncCustomer(context.Background(), Request{CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Synced)
	assert.Equal(t, 1, second.Duplicates)
}

func TestSyncCustomer_SkipsInvoicesOutsideMonthFilter(t *testing.T) {
	syncer, server := newTestSyncer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []gateway.Invoice{
				{ID: "in_1", CustomerID: "cus_1", AmountPaid: 1000, Currency: "usd", Status: "paid", PaidAt: 1719792000}, // 2024-07
			},
			"has_more": false,
		})
	})
	defer server.Close()

	result, err := syncer.SyncCustomer(context.Background(), Request{CustomerID: "cus_1", MonthFilter: "2099-01"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 1, result.Skipped)
}

func TestSyncAll_TruncatesAtMaxPages(t *testing.T) {
	callCount := 0
	syncer, server := newTestSyncer(t, func(w http.ResponseWriter, r *http.Request) {
		callCount++
		json.NewEncoder(w).Encode(map[string]any{
			"data": []gateway.Invoice{
				{ID: fmt.Sprintf("in_%d", callCount), CustomerID: "cus_1", AmountPaid: 100, Currency: "usd", Status: "paid", PaidAt: 1751328000},
			},
			"has_more":    true,
			"next_cursor": fmt.Sprintf("cursor_%d", callCount),
		})
	})
	defer server.Close()

	result, err := syncer.SyncAll(context.Background(), Request{AllCustomers: true, MaxPages: 2})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 2, callCount)
}
