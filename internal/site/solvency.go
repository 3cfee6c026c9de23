package site

import (
	"fmt"
	"math"
	"math/big"

	"SiteLend/internal/fpmath"
)

// RiskParams are the cached per-site risk settings, all LTV-style values
// in basis points. Updated atomically via UpdateCachedConfig.
type RiskParams struct {
	MaxLtvBps               int64
	LiquidationThresholdBps int64
	LiquidationTargetBps    int64
	LiquidationBonusBps     int64
	ProtocolFeeBps          int64

	// ProtectedSeizable makes collateral-only deposits count toward the
	// liquidation gate and eligible for seizure. They never back borrows
	// either way.
	ProtectedSeizable bool

	// RestrictWinningWithdrawals blocks winning-side withdrawals while the
	// site is Resolving.
	RestrictWinningWithdrawals bool

	GracePeriodSeconds int64
}

// Validate rejects parameter sets that would make the gates incoherent.
func (rp *RiskParams) Validate() error {
	if rp.MaxLtvBps <= 0 || rp.MaxLtvBps >= fpmath.BpsMax {
		return fmt.Errorf("risk params: max LTV %d out of (0, %d)", rp.MaxLtvBps, fpmath.BpsMax)
	}
	if rp.LiquidationThresholdBps < rp.MaxLtvBps || rp.LiquidationThresholdBps >= fpmath.BpsMax {
		return fmt.Errorf("risk params: liquidation threshold %d must be in [maxLTV, %d)",
			rp.LiquidationThresholdBps, fpmath.BpsMax)
	}
	if rp.LiquidationTargetBps <= 0 || rp.LiquidationTargetBps >= fpmath.BpsMax {
		return fmt.Errorf("risk params: liquidation target %d out of (0, %d)", rp.LiquidationTargetBps, fpmath.BpsMax)
	}
	if rp.LiquidationBonusBps < 0 || rp.LiquidationBonusBps >= fpmath.BpsMax {
		return fmt.Errorf("risk params: liquidation bonus %d out of [0, %d)", rp.LiquidationBonusBps, fpmath.BpsMax)
	}
	if rp.ProtocolFeeBps < 0 || rp.ProtocolFeeBps >= fpmath.BpsMax {
		return fmt.Errorf("risk params: protocol fee %d out of [0, %d)", rp.ProtocolFeeBps, fpmath.BpsMax)
	}
	if rp.GracePeriodSeconds < 0 {
		return fmt.Errorf("risk params: negative grace period")
	}
	return nil
}

// PriceView supplies effective per-asset prices in 1e6 fixed point. The
// quote asset is always par. Implementations return ErrStalePrice when
// the backing oracle data is too old; post-resolution views pin the
// losing side to zero and the winning side to par.
type PriceView interface {
	EffectivePrice(k AssetKind) (int64, error)
}

// InfiniteLtvBps is the sentinel for debt with no collateral behind it.
const InfiniteLtvBps = int64(math.MaxInt64)

// SolvencyEngine computes collateral value, debt value, and LTV gates
// over a ledger. It is read-only; every method re-derives from current
// pool totals so accrued interest is always reflected.
type SolvencyEngine struct {
	Ledger *Ledger
	Params *RiskParams
}

// BorrowCollateralValue is the USD value (1e18) of the user's regular
// deposits. Protected deposits never back borrows.
func (e *SolvencyEngine) BorrowCollateralValue(p *UserPosition, pv PriceView) (*big.Int, error) {
	return e.collateralValue(p, pv, false)
}

// LiquidationCollateralValue is the USD value (1e18) of everything the
// liquidation gate may count, including protected deposits when the site
// allows seizing them.
func (e *SolvencyEngine) LiquidationCollateralValue(p *UserPosition, pv PriceView) (*big.Int, error) {
	return e.collateralValue(p, pv, e.Params.ProtectedSeizable)
}

func (e *SolvencyEngine) collateralValue(p *UserPosition, pv PriceView, includeProtected bool) (*big.Int, error) {
	total := new(big.Int)
	for k := AssetYes; k <= AssetQuote; k++ {
		amount := e.Ledger.DepositAmount(p, k)
		if includeProtected {
			amount += e.Ledger.ProtectedAmount(p, k)
		}
		if amount == 0 {
			continue
		}
		price, err := pv.EffectivePrice(k)
		if err != nil {
			return nil, err
		}
		total.Add(total, fpmath.Value(amount, price))
	}
	return total, nil
}

// DebtValue is the USD value (1e18) of the user's quote debt at par.
func (e *SolvencyEngine) DebtValue(p *UserPosition) *big.Int {
	return fpmath.Value(e.Ledger.DebtAmount(p), fpmath.PriceScale)
}

// UserLtvBps returns debtValue * 10000 / collateralValue against the
// liquidation collateral set. Zero debt is LTV 0; debt with zero
// collateral is InfiniteLtvBps.
func (e *SolvencyEngine) UserLtvBps(p *UserPosition, pv PriceView) (int64, error) {
	debtV := e.DebtValue(p)
	if debtV.Sign() == 0 {
		return 0, nil
	}
	collV, err := e.LiquidationCollateralValue(p, pv)
	if err != nil {
		return 0, err
	}
	return ltvBps(debtV, collV), nil
}

func ltvBps(debtV, collV *big.Int) int64 {
	if debtV.Sign() == 0 {
		return 0
	}
	if collV.Sign() <= 0 {
		return InfiniteLtvBps
	}
	num := new(big.Int).Mul(debtV, big.NewInt(fpmath.BpsMax))
	num.Div(num, collV)
	if !num.IsInt64() {
		return InfiniteLtvBps
	}
	return num.Int64()
}

// IsBorrowSolvent gates borrows: debtValue * 10000 <= borrow collateral
// value * maxLTV. A position exactly at the limit is solvent.
func (e *SolvencyEngine) IsBorrowSolvent(p *UserPosition, pv PriceView) (bool, error) {
	return e.isSolvent(p, pv, e.Params.MaxLtvBps, false)
}

// IsLiquidationSolvent gates withdrawals and liquidations: debt against
// the liquidation collateral set at the liquidation threshold. The two
// gates keep their collateral sets even when the threshold equals
// max-LTV.
func (e *SolvencyEngine) IsLiquidationSolvent(p *UserPosition, pv PriceView) (bool, error) {
	return e.isSolvent(p, pv, e.Params.LiquidationThresholdBps, e.Params.ProtectedSeizable)
}

func (e *SolvencyEngine) isSolvent(p *UserPosition, pv PriceView, thresholdBps int64, includeProtected bool) (bool, error) {
	debtV := e.DebtValue(p)
	if debtV.Sign() == 0 {
		return true, nil
	}
	collV, err := e.collateralValue(p, pv, includeProtected)
	if err != nil {
		return false, err
	}
	lhs := new(big.Int).Mul(debtV, big.NewInt(fpmath.BpsMax))
	rhs := new(big.Int).Mul(collV, big.NewInt(thresholdBps))
	return lhs.Cmp(rhs) <= 0, nil
}

// MaxBorrowable is the largest additional quote amount the user can
// borrow without breaching max-LTV, capped by pool liquidity.
func (e *SolvencyEngine) MaxBorrowable(p *UserPosition, pv PriceView) (int64, error) {
	collV, err := e.BorrowCollateralValue(p, pv)
	if err != nil {
		return 0, err
	}
	maxDebtV := new(big.Int).Mul(collV, big.NewInt(e.Params.MaxLtvBps))
	maxDebtV.Div(maxDebtV, big.NewInt(fpmath.BpsMax))

	room := new(big.Int).Sub(maxDebtV, e.DebtValue(p))
	if room.Sign() <= 0 {
		return 0, nil
	}
	amount := fpmath.AmountFromValue(room, fpmath.PriceScale, fpmath.RoundDown)
	if liq := e.Ledger.Storage[AssetQuote].AvailableLiquidity(); amount > liq {
		amount = liq
	}
	return amount, nil
}

// MaxWithdrawable is the largest amount of asset k the user can withdraw
// while staying at or under the liquidation threshold. With no debt the
// whole balance is withdrawable, subject to pool liquidity.
func (e *SolvencyEngine) MaxWithdrawable(p *UserPosition, pv PriceView, k AssetKind, protected bool) (int64, error) {
	balance := e.Ledger.MaxWithdrawableAmount(p, k, protected)
	if balance == 0 {
		return 0, nil
	}

	// Withdrawing collateral the solvency gate never counts is always free.
	gated := !protected || e.Params.ProtectedSeizable
	debtV := e.DebtValue(p)
	if debtV.Sign() > 0 && gated {
		collV, err := e.LiquidationCollateralValue(p, pv)
		if err != nil {
			return 0, err
		}
		// required = ceil(debtV * 10000 / threshold)
		required := new(big.Int).Mul(debtV, big.NewInt(fpmath.BpsMax))
		threshold := big.NewInt(e.Params.LiquidationThresholdBps)
		rem := new(big.Int)
		required.DivMod(required, threshold, rem)
		if rem.Sign() != 0 {
			required.Add(required, big.NewInt(1))
		}
		removable := new(big.Int).Sub(collV, required)
		if removable.Sign() <= 0 {
			return 0, nil
		}
		price, err := pv.EffectivePrice(k)
		if err != nil {
			return 0, err
		}
		limit := fpmath.AmountFromValue(removable, price, fpmath.RoundDown)
		if limit < balance {
			balance = limit
		}
	}

	if !protected {
		if liq := e.Ledger.Storage[k].AvailableLiquidity(); balance > liq {
			balance = liq
		}
	}
	return balance, nil
}
