// Package orders implements the cheapest-first multi-order fill used to
// satisfy either a target credit quantity or a spending budget against the
// Ledger's open sell orders. Every computation here is synchronous,
// CPU-bound, and uses math/big exclusively — no floating point anywhere
// on the accounting path.
package orders

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/CShear/regen-compute-credits/internal/money"
)

// SellOrder is the read-model shape returned by the Ledger Client's
// listSellOrders operation.
type SellOrder struct {
	ID                string
	BatchDenom        string
	ClassType         string // the credit class's type code, e.g. "C" for carbon
	Quantity          string // decimal string, 6 fractional digits, credits available
	AskAmount         *big.Int
	AskDenom          string
	DisableAutoRetire bool
	Expiration        *time.Time
}

// AllowedDenom is one row of the Ledger's allowed-denom table.
type AllowedDenom struct {
	Denom        string
	DisplayDenom string
	Exponent     int
}

// Fill describes one order's contribution to a selection result.
type Fill struct {
	Order         SellOrder
	Quantity      string // decimal string, 6 fractional digits
	QuantityMicro *big.Int
	CostMicro     *big.Int
}

// QuantityResult is returned by SelectBestOrders.
type QuantityResult struct {
	Orders             []Fill
	TotalQuantity      string
	TotalCostMicro     *big.Int
	PaymentDenom       string
	DisplayDenom       string
	Exponent           int
	InsufficientSupply bool
}

// BudgetResult is returned by SelectOrdersForBudget.
type BudgetResult struct {
	Orders               []Fill
	TotalQuantity        string
	TotalCostMicro       *big.Int
	PaymentDenom         string
	DisplayDenom         string
	Exponent             int
	RemainingBudgetMicro *big.Int
	ExhaustedBudget      bool
}

// matchesCreditType implements spec §4.3 rule 2's credit-type filter:
// "carbon" matches class-type "C"; any other non-empty credit type
// (biodiversity included) matches any class type that isn't "C". An
// empty creditType disables the filter.
func matchesCreditType(creditType, classType string) bool {
	if creditType == "" {
		return true
	}
	if creditType == "carbon" {
		return classType == "C"
	}
	return classType != "C"
}

// chooseDenom implements spec §4.3 rule 1.
func chooseDenom(preferredDenom, nativeDenom string, allowed []AllowedDenom) (AllowedDenom, error) {
	if len(allowed) == 0 {
		return AllowedDenom{}, fmt.Errorf("orders: no allowed denoms configured")
	}
	if preferredDenom != "" {
		for _, d := range allowed {
			if d.Denom == preferredDenom {
				return d, nil
			}
		}
	}
	for _, d := range allowed {
		if d.Denom == nativeDenom {
			return d, nil
		}
	}
	return allowed[0], nil
}

// filterAndSort implements spec §4.3 rules 2-3: drop ineligible orders,
// then sort ascending by askAmount with ties broken by original order.
func filterAndSort(allOrders []SellOrder, creditType, denom string, now time.Time) []SellOrder {
	eligible := make([]SellOrder, 0, len(allOrders))
	for _, o := range allOrders {
		if o.DisableAutoRetire {
			continue
		}
		if o.AskDenom != denom {
			continue
		}
		if o.Expiration != nil && o.Expiration.Before(now) {
			continue
		}
		if !matchesCreditType(creditType, o.ClassType) {
			continue
		}
		eligible = append(eligible, o)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].AskAmount.Cmp(eligible[j].AskAmount) < 0
	})
	return eligible
}

// SelectBestOrders picks the cheapest eligible orders that together supply
// at least targetQuantity credits (spec §4.3).
func SelectBestOrders(allOrders []SellOrder, allowed []AllowedDenom, nativeDenom string, creditType, targetQuantity, preferredDenom string, now time.Time) (*QuantityResult, error) {
	chosen, err := chooseDenom(preferredDenom, nativeDenom, allowed)
	if err != nil {
		return nil, err
	}

	targetMicro, err := money.ParseQuantityMicro(targetQuantity)
	if err != nil {
		return nil, fmt.Errorf("orders: invalid target quantity: %w", err)
	}

	eligible := filterAndSort(allOrders, creditType, chosen.Denom, now)

	var fills []Fill
	runningMicro := new(big.Int)
	totalCost := new(big.Int)

	for _, order := range eligible {
		if runningMicro.Cmp(targetMicro) >= 0 {
			break
		}
		availableMicro, err := money.ParseQuantityMicro(order.Quantity)
		if err != nil {
			return nil, fmt.Errorf("orders: invalid order quantity %q: %w", order.Quantity, err)
		}

		remainingNeeded := new(big.Int).Sub(targetMicro, runningMicro)
		take := money.MinBigInt(availableMicro, remainingNeeded)

		cost := money.CeilDiv(new(big.Int).Mul(order.AskAmount, take), big.NewInt(money.Micro))

		fills = append(fills, Fill{
			Order:         order,
			Quantity:      money.FormatQuantity(take),
			QuantityMicro: take,
			CostMicro:     cost,
		})
		runningMicro.Add(runningMicro, take)
		totalCost.Add(totalCost, cost)
	}

	insufficient := runningMicro.Cmp(targetMicro) < 0

	return &QuantityResult{
		Orders:             fills,
		TotalQuantity:      money.FormatQuantity(runningMicro),
		TotalCostMicro:     totalCost,
		PaymentDenom:       chosen.Denom,
		DisplayDenom:       chosen.DisplayDenom,
		Exponent:           chosen.Exponent,
		InsufficientSupply: insufficient,
	}, nil
}

// SelectOrdersForBudget picks the cheapest eligible orders whose total cost
// never exceeds budgetMicro (spec §4.3).
func SelectOrdersForBudget(allOrders []SellOrder, allowed []AllowedDenom, nativeDenom string, creditType string, budgetMicro *big.Int, preferredDenom string, now time.Time) (*BudgetResult, error) {
	chosen, err := chooseDenom(preferredDenom, nativeDenom, allowed)
	if err != nil {
		return nil, err
	}

	eligible := filterAndSort(allOrders, creditType, chosen.Denom, now)

	var fills []Fill
	remaining := new(big.Int).Set(budgetMicro)
	totalQtyMicro := new(big.Int)
	totalCost := new(big.Int)
	exhausted := false

	for _, order := range eligible {
		if remaining.Sign() <= 0 {
			exhausted = true
			break
		}
		if order.AskAmount.Sign() <= 0 {
			continue
		}
		availableMicro, err := money.ParseQuantityMicro(order.Quantity)
		if err != nil {
			return nil, fmt.Errorf("orders: invalid order quantity %q: %w", order.Quantity, err)
		}

		affordableMicro := money.FloorDiv(new(big.Int).Mul(remaining, big.NewInt(money.Micro)), order.AskAmount)
		take := money.MinBigInt(availableMicro, affordableMicro)
		if take.Sign() <= 0 {
			continue
		}

		cost := money.CeilDiv(new(big.Int).Mul(order.AskAmount, take), big.NewInt(money.Micro))
		if cost.Cmp(remaining) > 0 {
			// Guard against a rounding edge case pushing cost a hair over
			// what's left; never let a single order exceed remaining budget.
			cost = new(big.Int).Set(remaining)
		}

		fills = append(fills, Fill{
			Order:         order,
			Quantity:      money.FormatQuantity(take),
			QuantityMicro: take,
			CostMicro:     cost,
		})
		remaining.Sub(remaining, cost)
		totalQtyMicro.Add(totalQtyMicro, take)
		totalCost.Add(totalCost, cost)

		if take.Cmp(availableMicro) < 0 {
			// Could only partially take this order: budget ran out mid-order.
			exhausted = true
		}
	}

	return &BudgetResult{
		Orders:               fills,
		TotalQuantity:        money.FormatQuantity(totalQtyMicro),
		TotalCostMicro:       totalCost,
		PaymentDenom:         chosen.Denom,
		DisplayDenom:         chosen.DisplayDenom,
		Exponent:             chosen.Exponent,
		RemainingBudgetMicro: remaining,
		ExhaustedBudget:      exhausted,
	}, nil
}
