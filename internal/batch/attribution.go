package batch

import (
	"math/big"
	"sort"
)

// Weight is one contributor's share weight going into Allocate.
type Weight struct {
	UserID string
	Value  *big.Int // the contributor's totalUsdCents for the month; non-negative
}

// Allocation is one contributor's share of an allocated total.
type Allocation struct {
	UserID string
	Amount *big.Int
}

// Allocate implements spec §4.8's proportional allocation — the Largest
// Remainder Method with deterministic tie-breaks (remainder desc, weight
// desc, original index asc) so the split is bit-reproducible for the same
// input regardless of map iteration order upstream.
func Allocate(total *big.Int, weights []Weight) []Allocation {
	out := make([]Allocation, len(weights))
	for i, w := range weights {
		out[i] = Allocation{UserID: w.UserID, Amount: new(big.Int)}
	}

	sumW := new(big.Int)
	for _, w := range weights {
		sumW.Add(sumW, w.Value)
	}

	if total.Sign() <= 0 || sumW.Sign() <= 0 {
		return out
	}

	type row struct {
		index int
		base  *big.Int
		rem   *big.Int
		value *big.Int
	}
	rows := make([]row, len(weights))
	allocated := new(big.Int)
	for i, w := range weights {
		raw := new(big.Int).Mul(total, w.Value)
		base := new(big.Int)
		rem := new(big.Int)
		base.DivMod(raw, sumW, rem) // Euclidean division; sumW > 0 so DivMod matches floor division here
		rows[i] = row{index: i, base: base, rem: rem, value: w.Value}
		out[i].Amount.Set(base)
		allocated.Add(allocated, base)
	}

	remainder := new(big.Int).Sub(total, allocated)

	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].rem.Cmp(rows[j].rem); c != 0 {
			return c > 0
		}
		if c := rows[i].value.Cmp(rows[j].value); c != 0 {
			return c > 0
		}
		return rows[i].index < rows[j].index
	})

	remainingUnits := new(big.Int).Set(remainder)
	one := big.NewInt(1)
	for _, r := range rows {
		if remainingUnits.Sign() <= 0 {
			break
		}
		out[r.index].Amount.Add(out[r.index].Amount, one)
		remainingUnits.Sub(remainingUnits, one)
	}

	return out
}

// SharePpm computes a contributor's display-only share in parts per
// million, floored. Not used for the authoritative split — Allocate's
// three independent calls are authoritative; this is presentation only.
func SharePpm(weight, sumWeights *big.Int) int64 {
	if sumWeights.Sign() <= 0 {
		return 0
	}
	ppm := new(big.Int).Mul(weight, big.NewInt(1_000_000))
	ppm.Div(ppm, sumWeights)
	return ppm.Int64()
}
