package fpmath

import (
	"math"
	"math/big"
)

// Fixed-point conventions used across the engine:
//
//	amounts (collateral units, quote units)  int64, scale 1e6
//	oracle prices                            int64, scale 1e6 (quote per unit)
//	USD values                               *big.Int, scale 1e18
//	annualized rates                         *big.Int, ray scale 1e27
//	LTV / thresholds / bonuses               int64 basis points, 10000 = 100%
const (
	AmountScale    = 1_000_000
	PriceScale     = 1_000_000
	BpsMax         = 10_000
	SecondsPerYear = 365 * 24 * 60 * 60
)

var (
	// Wad is the 1e18 USD-value scale.
	Wad = pow10(18)
	// Ray is the 1e27 rate scale (1e27 = 100% per year).
	Ray = pow10(27)
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven // Banker's rounding
)

// divBig divides numerator by denominator with the given rounding.
// Both operands must be handled sign-aware only for RoundDown/RoundUp on
// non-negative inputs; the engine never divides negative money amounts.
func divBig(numerator, denominator *big.Int, mode RoundingMode) *big.Int {
	quotient := new(big.Int)
	remainder := new(big.Int)
	quotient.QuoRem(numerator, denominator, remainder)

	if remainder.Sign() == 0 {
		return quotient
	}

	switch mode {
	case RoundUp:
		quotient.Add(quotient, big.NewInt(1))
	case RoundHalfEven:
		twice := new(big.Int).Lsh(remainder, 1)
		cmp := twice.Cmp(denominator)
		if cmp > 0 {
			quotient.Add(quotient, big.NewInt(1))
		} else if cmp == 0 && quotient.Bit(0) == 1 {
			quotient.Add(quotient, big.NewInt(1))
		}
	}

	return quotient
}

// MulDiv computes a * b / denom using a big.Int intermediate to prevent
// overflow. Inputs must be non-negative; denom must be positive.
func MulDiv(a, b, denom int64, mode RoundingMode) int64 {
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	q := divBig(num, big.NewInt(denom), mode)
	if !q.IsInt64() {
		return math.MaxInt64
	}
	return q.Int64()
}

// BpsMul applies a basis-point factor: a * bps / 10000.
func BpsMul(a, bps int64, mode RoundingMode) int64 {
	return MulDiv(a, bps, BpsMax, mode)
}

// Value converts an amount at a price into a 1e18 USD value:
// amount(1e6) * price(1e6) * 1e6 = value(1e18).
func Value(amount, price int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(amount), big.NewInt(price))
	return v.Mul(v, big.NewInt(AmountScale))
}

// AmountFromValue converts a 1e18 USD value back into units at a price.
// Returns 0 for a zero price (worthless collateral has no unit equivalent).
func AmountFromValue(value *big.Int, price int64, mode RoundingMode) int64 {
	if price <= 0 {
		return 0
	}
	denom := new(big.Int).Mul(big.NewInt(price), big.NewInt(AmountScale))
	q := divBig(value, denom, mode)
	if !q.IsInt64() {
		return math.MaxInt64
	}
	return q.Int64()
}

// ToShares converts an underlying amount into pool shares given the pool's
// current totals. An empty pool mints 1:1.
func ToShares(amount, totalAmount, totalShares int64, mode RoundingMode) int64 {
	if totalShares == 0 || totalAmount == 0 {
		return amount
	}
	return MulDiv(amount, totalShares, totalAmount, mode)
}

// ToAmount converts pool shares back into an underlying amount.
func ToAmount(shares, totalAmount, totalShares int64, mode RoundingMode) int64 {
	if totalShares == 0 {
		return 0
	}
	return MulDiv(shares, totalAmount, totalShares, mode)
}

// LinearInterest computes simple interest over an elapsed period:
// principal * rateRay * dt / (Ray * SecondsPerYear), rounded down.
// Accrual is linear, not per-second compounding: 1000 units at 0.10 ray
// over a full year yields exactly 100.
func LinearInterest(principal int64, rateRay *big.Int, dt int64) int64 {
	if principal == 0 || dt <= 0 || rateRay.Sign() <= 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(principal), rateRay)
	num.Mul(num, big.NewInt(dt))
	denom := new(big.Int).Mul(Ray, big.NewInt(SecondsPerYear))
	q := divBig(num, denom, RoundDown)
	if !q.IsInt64() {
		return math.MaxInt64
	}
	return q.Int64()
}

// ScaleIndex grows a borrow index by the same linear factor as
// LinearInterest: index * (1 + rateRay*dt/SecondsPerYear). The result is a
// fresh big.Int; the input is not mutated. The index never decreases.
func ScaleIndex(index, rateRay *big.Int, dt int64) *big.Int {
	out := new(big.Int).Set(index)
	if dt <= 0 || rateRay.Sign() <= 0 {
		return out
	}
	growth := new(big.Int).Mul(index, rateRay)
	growth.Mul(growth, big.NewInt(dt))
	denom := new(big.Int).Mul(Ray, big.NewInt(SecondsPerYear))
	growth = divBig(growth, denom, RoundDown)
	return out.Add(out, growth)
}
