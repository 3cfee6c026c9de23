package site

import (
	"math/big"

	"SiteLend/internal/fpmath"
)

// LiquidationResult is the record emitted after a liquidation, full or
// flash, for observability and the operation log.
type LiquidationResult struct {
	User        string
	Liquidator  string
	DebtRepaid  int64
	SeizedYes   int64
	SeizedNo    int64
	SeizedQuote int64
	BonusBps    int64
	BadDebt     int64
	Flash       bool
}

// TotalSeized sums the seized amounts across assets in native units.
func (r *LiquidationResult) TotalSeized() int64 {
	return r.SeizedYes + r.SeizedNo + r.SeizedQuote
}

func (r *LiquidationResult) addSeized(k AssetKind, amount int64) {
	switch k {
	case AssetYes:
		r.SeizedYes += amount
	case AssetNo:
		r.SeizedNo += amount
	case AssetQuote:
		r.SeizedQuote += amount
	}
}

// seizureOrder lists collateral assets ascending by effective price, YES
// before NO on ties, quote last. Cheapest collateral is taken first so a
// partial liquidation clears the most impaired holdings.
func seizureOrder(pv PriceView) ([]AssetKind, error) {
	yes, err := pv.EffectivePrice(AssetYes)
	if err != nil {
		return nil, err
	}
	no, err := pv.EffectivePrice(AssetNo)
	if err != nil {
		return nil, err
	}
	if no < yes {
		return []AssetKind{AssetNo, AssetYes, AssetQuote}, nil
	}
	return []AssetKind{AssetYes, AssetNo, AssetQuote}, nil
}

// LiquidationEngine executes seizures against a ledger using the site's
// solvency engine for gating. It does not lock; the owning Site
// serializes calls.
type LiquidationEngine struct {
	Ledger   *Ledger
	Solvency *SolvencyEngine
	Params   *RiskParams
}

// Liquidate repays up to repayAmount of the user's debt on behalf of the
// liquidator and seizes collateral worth repaid*(1+bonus), cheapest asset
// first. A partial repay must bring the position to the target LTV or the
// call fails with ErrFullLiquidationRequired.
func (le *LiquidationEngine) Liquidate(liquidator, user string, repayAmount int64, pv PriceView) (*LiquidationResult, error) {
	if repayAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	p, ok := le.Ledger.PositionIfExists(user)
	if !ok {
		return nil, ErrUnknownUser
	}
	solvent, err := le.Solvency.IsLiquidationSolvent(p, pv)
	if err != nil {
		return nil, err
	}
	if solvent {
		return nil, ErrUserIsSolvent
	}

	debt := le.Ledger.DebtAmount(p)
	repaid := repayAmount
	if repaid > debt {
		repaid = debt
	}
	partial := repaid < debt

	// Seized value in USD wad: repaid * (10000 + bonus) / 10000.
	seizeV := fpmath.Value(repaid, parPrice)
	seizeV.Mul(seizeV, big.NewInt(fpmath.BpsMax+le.Params.LiquidationBonusBps))
	seizeV.Div(seizeV, big.NewInt(fpmath.BpsMax))

	if partial {
		if err := le.checkPartialRestoresTarget(p, pv, debt-repaid, seizeV); err != nil {
			return nil, err
		}
	}

	if _, err := le.Ledger.Repay(user, repaid); err != nil {
		return nil, err
	}

	res := &LiquidationResult{
		User:       user,
		Liquidator: liquidator,
		DebtRepaid: repaid,
		BonusBps:   le.Params.LiquidationBonusBps,
	}
	if err := le.seizeByValue(p, pv, seizeV, res); err != nil {
		return nil, err
	}
	return res, nil
}

// checkPartialRestoresTarget verifies the post-liquidation LTV lands at or
// under the target.
func (le *LiquidationEngine) checkPartialRestoresTarget(p *UserPosition, pv PriceView, remainingDebt int64, seizeV *big.Int) error {
	collV, err := le.Solvency.LiquidationCollateralValue(p, pv)
	if err != nil {
		return err
	}
	postColl := new(big.Int).Sub(collV, seizeV)
	if postColl.Sign() <= 0 {
		return ErrFullLiquidationRequired
	}
	postDebtV := fpmath.Value(remainingDebt, parPrice)
	lhs := new(big.Int).Mul(postDebtV, big.NewInt(fpmath.BpsMax))
	rhs := new(big.Int).Mul(postColl, big.NewInt(le.Params.LiquidationTargetBps))
	if lhs.Cmp(rhs) > 0 {
		return ErrFullLiquidationRequired
	}
	return nil
}

// seizeByValue walks the seizure order converting the remaining USD value
// to units at each asset's effective price and seizing up to the user's
// balance. Seizure stops when the value is filled or collateral runs out.
func (le *LiquidationEngine) seizeByValue(p *UserPosition, pv PriceView, valueWad *big.Int, res *LiquidationResult) error {
	order, err := seizureOrder(pv)
	if err != nil {
		return err
	}
	remaining := new(big.Int).Set(valueWad)
	for _, k := range order {
		if remaining.Sign() <= 0 {
			break
		}
		price, err := pv.EffectivePrice(k)
		if err != nil {
			return err
		}
		if price <= 0 {
			continue
		}
		want := fpmath.AmountFromValue(remaining, price, fpmath.RoundUp)
		if want <= 0 {
			continue
		}
		have := le.Ledger.DepositAmount(p, k)
		if le.Params.ProtectedSeizable {
			have += le.Ledger.ProtectedAmount(p, k)
		}
		if have <= 0 {
			continue
		}
		take := want
		if take > have {
			take = have
		}
		seized, err := le.Ledger.SeizeCollateral(p.User, k, take, le.Params.ProtectedSeizable)
		if err != nil {
			return err
		}
		res.addSeized(k, seized)
		remaining.Sub(remaining, fpmath.Value(seized, price))
	}
	return nil
}

// SeizeAll takes the user's entire balance of asset k, regular and
// protected, regardless of the protected-seizure policy. Used when a
// resolved losing side is settled.
func (le *LiquidationEngine) SeizeAll(user string, k AssetKind) (int64, error) {
	p, ok := le.Ledger.PositionIfExists(user)
	if !ok {
		return 0, ErrUnknownUser
	}
	total := le.Ledger.DepositAmount(p, k) + le.Ledger.ProtectedAmount(p, k)
	if total == 0 {
		return 0, nil
	}
	return le.Ledger.SeizeCollateral(user, k, total, true)
}
