// Package money implements the fixed-point, bigint-only arithmetic the
// accounting and order-selection paths depend on. Nothing here ever
// touches float64 — on-chain quantities and costs are integers (micro-units,
// 1 credit/token = 1_000_000 micro-units) and fiat amounts are integer cents.
package money

import (
	"fmt"
	"math/big"
)

// Micro is the number of micro-units per whole credit or token.
const Micro = 1_000_000

var microBig = big.NewInt(Micro)

// CeilDiv returns ceil(num/den) for non-negative num and positive den.
func CeilDiv(num, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		panic("money: division by zero")
	}
	q, r := new(big.Int), new(big.Int)
	q.QuoRem(num, den, r)
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// FloorDiv returns floor(num/den) for non-negative num and positive den.
func FloorDiv(num, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		panic("money: division by zero")
	}
	q := new(big.Int)
	q.Div(num, den)
	return q
}

// QuoRem returns (floor(num/den), num mod den).
func QuoRem(num, den *big.Int) (*big.Int, *big.Int) {
	q, r := new(big.Int), new(big.Int)
	q.QuoRem(num, den, r)
	return q, r
}

// FormatQuantity renders a micro-unit quantity as a decimal string with
// exactly 6 fractional digits, e.g. 1_000_000 -> "1.000000", 2_500_000 ->
// "2.500000". Negative inputs are not valid quantities and panic.
func FormatQuantity(microQty *big.Int) string {
	if microQty.Sign() < 0 {
		panic("money: negative quantity")
	}
	whole, frac := new(big.Int), new(big.Int)
	whole.QuoRem(microQty, microBig, frac)
	return fmt.Sprintf("%s.%06d", whole.String(), frac.Int64())
}

// ParseQuantityMicro parses a 6-decimal quantity string (as produced by
// FormatQuantity, or as returned by a Ledger read-model) into micro-units.
func ParseQuantityMicro(decimalStr string) (*big.Int, error) {
	whole := ""
	frac := "000000"
	dot := -1
	for i, c := range decimalStr {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		whole = decimalStr
	} else {
		whole = decimalStr[:dot]
		frac = decimalStr[dot+1:]
		for len(frac) < 6 {
			frac += "0"
		}
		if len(frac) > 6 {
			frac = frac[:6]
		}
	}
	if whole == "" {
		whole = "0"
	}
	wholeBig, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("money: invalid quantity %q", decimalStr)
	}
	fracBig, ok := new(big.Int).SetString(frac, 10)
	if !ok {
		return nil, fmt.Errorf("money: invalid quantity %q", decimalStr)
	}
	result := new(big.Int).Mul(wholeBig, microBig)
	result.Add(result, fracBig)
	return result, nil
}

// MinBigInt returns the smaller of a and b.
func MinBigInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
