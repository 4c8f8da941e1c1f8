package retirement

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CShear/regen-compute-credits/internal/ledger"
	"github.com/CShear/regen-compute-credits/internal/orders"
	"github.com/CShear/regen-compute-credits/internal/payment"
)

var testAllowed = []orders.AllowedDenom{{Denom: "uregen", DisplayDenom: "REGEN", Exponent: 6}}

type fakeLedger struct {
	address        string
	sellOrders     []orders.SellOrder
	broadcastErr   error
	broadcastCode  uint32
	retirement     *ledger.Retirement
	broadcastCalls int
}

func (f *fakeLedger) ListSellOrders(ctx context.Context) ([]orders.SellOrder, error) { return f.sellOrders, nil }
func (f *fakeLedger) ListCreditClasses(ctx context.Context) ([]ledger.CreditClass, error) { return nil, nil }
func (f *fakeLedger) ListProjects(ctx context.Context) ([]ledger.Project, error)          { return nil, nil }
func (f *fakeLedger) GetAllowedDenoms(ctx context.Context) ([]orders.AllowedDenom, error) {
	return testAllowed, nil
}
func (f *fakeLedger) GetRetirementByID(ctx context.Context, id string) (*ledger.Retirement, error) {
	return f.retirement, nil
}
func (f *fakeLedger) WaitForRetirement(ctx context.Context, txHash string, timeout time.Duration) (*ledger.Retirement, error) {
	return f.retirement, nil
}
func (f *fakeLedger) SignAndBroadcast(ctx context.Context, messages []ledger.BuyDirectMessage) (*ledger.BroadcastResult, error) {
	f.broadcastCalls++
	if f.broadcastErr != nil {
		return nil, f.broadcastErr
	}
	return &ledger.BroadcastResult{Code: f.broadcastCode, TxHash: "tx-1", Height: 100}, nil
}
func (f *fakeLedger) GetBalance(ctx context.Context, denom string) (*big.Int, error) { return big.NewInt(0), nil }
func (f *fakeLedger) Address() string                                               { return f.address }
func (f *fakeLedger) NativeDenom() string                                           { return "uregen" }
func (f *fakeLedger) Close() error                                                  { return nil }

type fakePayment struct {
	authStatus payment.AuthorizationStatus
	refunded   []string
	captured   []string
}

func (f *fakePayment) Authorize(ctx context.Context, amountMicro *big.Int, denom string, metadata map[string]string) (*payment.Authorization, error) {
	return &payment.Authorization{ID: "auth-1", Status: f.authStatus}, nil
}
func (f *fakePayment) Capture(ctx context.Context, authorizationID string) (*payment.Receipt, error) {
	f.captured = append(f.captured, authorizationID)
	return &payment.Receipt{AuthorizationID: authorizationID}, nil
}
func (f *fakePayment) Refund(ctx context.Context, authorizationID string) error {
	f.refunded = append(f.refunded, authorizationID)
	return nil
}

func sampleOrders() []orders.SellOrder {
	return []orders.SellOrder{
		{ID: "order-1", ClassType: "C", Quantity: "5.000000", AskAmount: big.NewInt(1000), AskDenom: "uregen"},
	}
}

func TestExecuteRetirement_NoWalletFallsBack(t *testing.T) {
	svc := &Service{
		Ledger:        &fakeLedger{address: ""},
		Payment:       &fakePayment{authStatus: payment.StatusAuthorized},
		AllowedDenoms: testAllowed,
	}
	result, err := svc.ExecuteRetirement(context.Background(), Request{TargetQuantity: "1.000000", MarketplaceURL: "https://marketplace.example"})
	require.NoError(t, err)
	assert.Equal(t, KindMarketplaceFallback, result.Kind)
}

func TestExecuteRetirement_InsufficientSupplyFallsBack(t *testing.T) {
	svc := &Service{
		Ledger:        &fakeLedger{address: "addr1", sellOrders: sampleOrders()},
		Payment:       &fakePayment{authStatus: payment.StatusAuthorized},
		AllowedDenoms: testAllowed,
	}
	result, err := svc.ExecuteRetirement(context.Background(), Request{TargetQuantity: "100.000000", MarketplaceURL: "https://marketplace.example"})
	require.NoError(t, err)
	assert.Equal(t, KindMarketplaceFallback, result.Kind)
}

func TestExecuteRetirement_AuthorizeFailureFallsBackWithoutBroadcast(t *testing.T) {
	fl := &fakeLedger{address: "addr1", sellOrders: sampleOrders()}
	svc := &Service{
		Ledger:        fl,
		Payment:       &fakePayment{authStatus: payment.StatusFailed},
		AllowedDenoms: testAllowed,
	}
	result, err := svc.ExecuteRetirement(context.Background(), Request{TargetQuantity: "1.000000", MarketplaceURL: "https://marketplace.example"})
	require.NoError(t, err)
	assert.Equal(t, KindMarketplaceFallback, result.Kind)
	assert.Equal(t, 0, fl.broadcastCalls)
}

func TestExecuteRetirement_NonZeroBroadcastCodeRefundsAndFallsBack(t *testing.T) {
	fp := &fakePayment{authStatus: payment.StatusAuthorized}
	svc := &Service{
		Ledger:        &fakeLedger{address: "addr1", sellOrders: sampleOrders(), broadcastCode: 5},
		Payment:       fp,
		AllowedDenoms: testAllowed,
	}
	result, err := svc.ExecuteRetirement(context.Background(), Request{TargetQuantity: "1.000000", MarketplaceURL: "https://marketplace.example"})
	require.NoError(t, err)
	assert.Equal(t, KindMarketplaceFallback, result.Kind)
	require.Len(t, fp.refunded, 1)
	assert.Equal(t, "auth-1", fp.refunded[0])
	assert.Empty(t, fp.captured)
}

func TestExecuteRetirement_BroadcastErrorRefundsAndFallsBack(t *testing.T) {
	fp := &fakePayment{authStatus: payment.StatusAuthorized}
	svc := &Service{
		Ledger:        &fakeLedger{address: "addr1", sellOrders: sampleOrders(), broadcastErr: fmt.Errorf("connection reset")},
		Payment:       fp,
		AllowedDenoms: testAllowed,
	}
	result, err := svc.ExecuteRetirement(context.Background(), Request{TargetQuantity: "1.000000", MarketplaceURL: "https://marketplace.example"})
	require.NoError(t, err)
	assert.Equal(t, KindMarketplaceFallback, result.Kind)
	require.Len(t, fp.refunded, 1)
	assert.Equal(t, "auth-1", fp.refunded[0])
	assert.Empty(t, fp.captured)
}

func TestExecuteRetirement_SuccessCapturesAndReturnsCertificate(t *testing.T) {
	fp := &fakePayment{authStatus: payment.StatusAuthorized}
	svc := &Service{
		Ledger: &fakeLedger{
			address:    "addr1",
			sellOrders: sampleOrders(),
			retirement: &ledger.Retirement{NodeID: "cert-1", TxHash: "tx-1"},
		},
		Payment:           fp,
		AllowedDenoms:     testAllowed,
		RetirementTimeout: time.Second,
	}
	result, err := svc.ExecuteRetirement(context.Background(), Request{TargetQuantity: "1.000000", MarketplaceURL: "https://marketplace.example"})
	require.NoError(t, err)
	require.Equal(t, KindSuccess, result.Kind)
	assert.Equal(t, "tx-1", result.TxHash)
	assert.Equal(t, "cert-1", result.CertificateID)
	require.Len(t, fp.captured, 1)
	assert.Empty(t, fp.refunded)
}
