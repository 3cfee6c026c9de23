// Package ratemodel defines the utilization-driven interest rate interface
// consumed by the site engine, plus the default kinked linear model.
package ratemodel

import (
	"fmt"
	"math/big"

	"SiteLend/internal/fpmath"
)

// Model maps pool utilization to annualized rates in ray (1e27 = 100%/year).
// The engine only reads rates; it never inverts or stores model internals.
type Model interface {
	// GetBorrowRate returns the annual borrow rate for the given pool totals.
	GetBorrowRate(totalDeposits, totalBorrows int64) *big.Int

	// GetSupplyRate returns the annual supply rate net of the protocol fee:
	// borrowRate * utilization * (1 - feeBps/10000).
	GetSupplyRate(totalDeposits, totalBorrows, protocolFeeBps int64) *big.Int
}

// KinkModel is a two-slope linear model: below the optimal utilization the
// rate climbs from Base at SlopeLow; above it, at SlopeHigh. All rates are
// ray per year; OptimalUtilizationBps is in basis points.
type KinkModel struct {
	Base                  *big.Int
	SlopeLow              *big.Int
	SlopeHigh             *big.Int
	OptimalUtilizationBps int64
}

// NewKinkModel validates and builds a kink model.
func NewKinkModel(base, slopeLow, slopeHigh *big.Int, optimalBps int64) (*KinkModel, error) {
	if base == nil || slopeLow == nil || slopeHigh == nil {
		return nil, fmt.Errorf("kink model: nil rate parameter")
	}
	if base.Sign() < 0 || slopeLow.Sign() < 0 || slopeHigh.Sign() < 0 {
		return nil, fmt.Errorf("kink model: negative rate parameter")
	}
	if optimalBps <= 0 || optimalBps >= fpmath.BpsMax {
		return nil, fmt.Errorf("kink model: optimal utilization %d out of (0, %d)", optimalBps, fpmath.BpsMax)
	}
	return &KinkModel{
		Base:                  new(big.Int).Set(base),
		SlopeLow:              new(big.Int).Set(slopeLow),
		SlopeHigh:             new(big.Int).Set(slopeHigh),
		OptimalUtilizationBps: optimalBps,
	}, nil
}

// UtilizationBps returns totalBorrows/totalDeposits in basis points,
// 0 when the pool is empty.
func UtilizationBps(totalDeposits, totalBorrows int64) int64 {
	if totalDeposits <= 0 || totalBorrows <= 0 {
		return 0
	}
	u := fpmath.MulDiv(totalBorrows, fpmath.BpsMax, totalDeposits, fpmath.RoundDown)
	if u > fpmath.BpsMax {
		u = fpmath.BpsMax
	}
	return u
}

func (m *KinkModel) GetBorrowRate(totalDeposits, totalBorrows int64) *big.Int {
	u := UtilizationBps(totalDeposits, totalBorrows)
	rate := new(big.Int).Set(m.Base)

	if u <= m.OptimalUtilizationBps {
		// base + slopeLow * u / optimal
		part := new(big.Int).Mul(m.SlopeLow, big.NewInt(u))
		part.Div(part, big.NewInt(m.OptimalUtilizationBps))
		return rate.Add(rate, part)
	}

	// base + slopeLow + slopeHigh * (u - optimal) / (10000 - optimal)
	rate.Add(rate, m.SlopeLow)
	excess := new(big.Int).Mul(m.SlopeHigh, big.NewInt(u-m.OptimalUtilizationBps))
	excess.Div(excess, big.NewInt(fpmath.BpsMax-m.OptimalUtilizationBps))
	return rate.Add(rate, excess)
}

func (m *KinkModel) GetSupplyRate(totalDeposits, totalBorrows, protocolFeeBps int64) *big.Int {
	borrowRate := m.GetBorrowRate(totalDeposits, totalBorrows)
	u := UtilizationBps(totalDeposits, totalBorrows)

	supply := new(big.Int).Mul(borrowRate, big.NewInt(u))
	supply.Div(supply, big.NewInt(fpmath.BpsMax))

	if protocolFeeBps > 0 {
		supply.Mul(supply, big.NewInt(fpmath.BpsMax-protocolFeeBps))
		supply.Div(supply, big.NewInt(fpmath.BpsMax))
	}
	return supply
}

// Fixed is a constant-rate model, used in tests and as a conservative
// fallback when a site is created without model parameters.
type Fixed struct {
	Rate *big.Int
}

func (f *Fixed) GetBorrowRate(_, _ int64) *big.Int {
	return new(big.Int).Set(f.Rate)
}

func (f *Fixed) GetSupplyRate(totalDeposits, totalBorrows, protocolFeeBps int64) *big.Int {
	u := UtilizationBps(totalDeposits, totalBorrows)
	supply := new(big.Int).Mul(f.Rate, big.NewInt(u))
	supply.Div(supply, big.NewInt(fpmath.BpsMax))
	if protocolFeeBps > 0 {
		supply.Mul(supply, big.NewInt(fpmath.BpsMax-protocolFeeBps))
		supply.Div(supply, big.NewInt(fpmath.BpsMax))
	}
	return supply
}
