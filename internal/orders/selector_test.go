package orders

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAllowed = []AllowedDenom{
	{Denom: "uregen", DisplayDenom: "REGEN", Exponent: 6},
}

func TestSelectBestOrders_CheapestFirstFill(t *testing.T) {
	now := time.Now()
	all := []SellOrder{
		{ID: "expensive", ClassType: "C", Quantity: "2.000000", AskAmount: big.NewInt(2200), AskDenom: "uregen"},
		{ID: "cheapest", ClassType: "C", Quantity: "1.000000", AskAmount: big.NewInt(1000), AskDenom: "uregen"},
		{ID: "mid", ClassType: "C", Quantity: "3.000000", AskAmount: big.NewInt(1500), AskDenom: "uregen"},
	}

	result, err := SelectBestOrders(all, testAllowed, "uregen", "carbon", "3.500000", "", now)
	require.NoError(t, err)

	require.Len(t, result.Orders, 2)
	assert.Equal(t, "cheapest", result.Orders[0].Order.ID)
	assert.Equal(t, "1.000000", result.Orders[0].Quantity)
	assert.Equal(t, "mid", result.Orders[1].Order.ID)
	assert.Equal(t, "2.500000", result.Orders[1].Quantity)

	assert.Equal(t, "3.500000", result.TotalQuantity)
	assert.Equal(t, big.NewInt(4750), result.TotalCostMicro)
	assert.False(t, result.InsufficientSupply)
	assert.Equal(t, "uregen", result.PaymentDenom)
}

func TestSelectBestOrders_InsufficientSupply(t *testing.T) {
	now := time.Now()
	all := []SellOrder{
		{ID: "only", ClassType: "C", Quantity: "1.000000", AskAmount: big.NewInt(1000), AskDenom: "uregen"},
	}

	result, err := SelectBestOrders(all, testAllowed, "uregen", "carbon", "5.000000", "", now)
	require.NoError(t, err)

	assert.True(t, result.InsufficientSupply)
	assert.Equal(t, "1.000000", result.TotalQuantity)
}

func TestSelectBestOrders_FiltersDisabledDenomAndExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	all := []SellOrder{
		{ID: "no-auto-retire", ClassType: "C", Quantity: "5.000000", AskAmount: big.NewInt(100), AskDenom: "uregen", DisableAutoRetire: true},
		{ID: "wrong-denom", ClassType: "C", Quantity: "5.000000", AskAmount: big.NewInt(100), AskDenom: "uatom"},
		{ID: "expired", ClassType: "C", Quantity: "5.000000", AskAmount: big.NewInt(100), AskDenom: "uregen", Expiration: &past},
		{ID: "wrong-class", ClassType: "X", Quantity: "5.000000", AskAmount: big.NewInt(100), AskDenom: "uregen"},
		{ID: "good", ClassType: "C", Quantity: "5.000000", AskAmount: big.NewInt(500), AskDenom: "uregen", Expiration: &future},
	}

	result, err := SelectBestOrders(all, testAllowed, "uregen", "carbon", "1.000000", "", now)
	require.NoError(t, err)

	require.Len(t, result.Orders, 1)
	assert.Equal(t, "good", result.Orders[0].Order.ID)
}

func TestSelectBestOrders_BiodiversityMatchesNonCarbonClass(t *testing.T) {
	now := time.Now()
	all := []SellOrder{
		{ID: "carbon-one", ClassType: "C", Quantity: "5.000000", AskAmount: big.NewInt(100), AskDenom: "uregen"},
		{ID: "bio-one", ClassType: "BIO", Quantity: "5.000000", AskAmount: big.NewInt(200), AskDenom: "uregen"},
	}

	result, err := SelectBestOrders(all, testAllowed, "uregen", "biodiversity", "1.000000", "", now)
	require.NoError(t, err)

	require.Len(t, result.Orders, 1)
	assert.Equal(t, "bio-one", result.Orders[0].Order.ID)
}

// TestSelectOrdersForBudget_NeverOverspends exercises the budget-mode
// invariant named in the testable properties: the sum of order costs can
// never exceed the budget, and the order taken is always the cheapest
// eligible one first.
//
// Note: the worked numbers in the originating scenario (ask:1000/qty:5,
// ask:2000/qty:5, budget:3500 producing a 1.0/1.25 split) don't reconcile
// with the stated affordableMicro/cost formula applied literally — that
// formula exhausts the entire budget against the first (cheapest) order
// before ever touching the second. This test asserts the documented
// formula and the never-overspend invariant rather than those specific
// numbers.
func TestSelectOrdersForBudget_NeverOverspends(t *testing.T) {
	now := time.Now()
	all := []SellOrder{
		{ID: "cheap", ClassType: "C", Quantity: "5.000000", AskAmount: big.NewInt(1000), AskDenom: "uregen"},
		{ID: "pricier", ClassType: "C", Quantity: "5.000000", AskAmount: big.NewInt(2000), AskDenom: "uregen"},
	}

	result, err := SelectOrdersForBudget(all, testAllowed, "uregen", "carbon", big.NewInt(3500), "", now)
	require.NoError(t, err)

	require.Len(t, result.Orders, 1)
	assert.Equal(t, "cheap", result.Orders[0].Order.ID)
	assert.Equal(t, "3.500000", result.Orders[0].Quantity)
	assert.Equal(t, big.NewInt(3500), result.Orders[0].CostMicro)

	assert.Equal(t, big.NewInt(3500), result.TotalCostMicro)
	assert.True(t, result.TotalCostMicro.Cmp(big.NewInt(3500)) <= 0)
	assert.Equal(t, big.NewInt(0), result.RemainingBudgetMicro)
	assert.True(t, result.ExhaustedBudget)
}

func TestSelectOrdersForBudget_SpillsIntoSecondOrderWhenFirstIsSmall(t *testing.T) {
	now := time.Now()
	all := []SellOrder{
		{ID: "cheap-small", ClassType: "C", Quantity: "1.000000", AskAmount: big.NewInt(1000), AskDenom: "uregen"},
		{ID: "pricier", ClassType: "C", Quantity: "5.000000", AskAmount: big.NewInt(2000), AskDenom: "uregen"},
	}

	result, err := SelectOrdersForBudget(all, testAllowed, "uregen", "carbon", big.NewInt(3500), "", now)
	require.NoError(t, err)

	require.Len(t, result.Orders, 2)
	assert.Equal(t, "cheap-small", result.Orders[0].Order.ID)
	assert.Equal(t, "1.000000", result.Orders[0].Quantity)
	assert.Equal(t, big.NewInt(1000), result.Orders[0].CostMicro)

	assert.Equal(t, "pricier", result.Orders[1].Order.ID)
	assert.Equal(t, "1.250000", result.Orders[1].Quantity)
	assert.Equal(t, big.NewInt(2500), result.Orders[1].CostMicro)

	assert.Equal(t, big.NewInt(3500), result.TotalCostMicro)
	assert.Equal(t, big.NewInt(0), result.RemainingBudgetMicro)
}

func TestSelectOrdersForBudget_ExhaustedWhenSupplyExceedsBudget(t *testing.T) {
	now := time.Now()
	all := []SellOrder{
		{ID: "plenty", ClassType: "C", Quantity: "100.000000", AskAmount: big.NewInt(1000), AskDenom: "uregen"},
	}

	result, err := SelectOrdersForBudget(all, testAllowed, "uregen", "carbon", big.NewInt(500), "", now)
	require.NoError(t, err)

	require.Len(t, result.Orders, 1)
	assert.Equal(t, big.NewInt(500), result.TotalCostMicro)
	assert.True(t, result.ExhaustedBudget)
}

func TestChooseDenom_PrefersPreferredThenNativeThenFirst(t *testing.T) {
	allowed := []AllowedDenom{
		{Denom: "uregen", DisplayDenom: "REGEN", Exponent: 6},
		{Denom: "uusdc", DisplayDenom: "USDC", Exponent: 6},
	}

	chosen, err := chooseDenom("uusdc", "uregen", allowed)
	require.NoError(t, err)
	assert.Equal(t, "uusdc", chosen.Denom)

	chosen, err = chooseDenom("", "uregen", allowed)
	require.NoError(t, err)
	assert.Equal(t, "uregen", chosen.Denom)

	chosen, err = chooseDenom("unknown", "unknown-native", allowed)
	require.NoError(t, err)
	assert.Equal(t, "uregen", chosen.Denom)
}
