package site

import "math/big"

// PositionInfo is the derived view of one user's position. Prices may be
// stale; Stale marks best-effort values so read paths never fail closed.
type PositionInfo struct {
	User            string `json:"user"`
	DepositYes      int64  `json:"deposit_yes"`
	DepositNo       int64  `json:"deposit_no"`
	DepositQuote    int64  `json:"deposit_quote"`
	ProtectedYes    int64  `json:"protected_yes"`
	ProtectedNo     int64  `json:"protected_no"`
	ProtectedQuote  int64  `json:"protected_quote"`
	Debt            int64  `json:"debt"`
	CollateralValue string `json:"collateral_value"`
	DebtValue       string `json:"debt_value"`
	LtvBps          int64  `json:"ltv_bps"`
	MaxBorrowable   int64  `json:"max_borrowable"`
	Liquidatable    bool   `json:"liquidatable"`
	Stale           bool   `json:"stale"`
}

// SiteInfo is the pool-level view of a site.
type SiteInfo struct {
	ConditionID      string `json:"condition_id"`
	State            string `json:"state"`
	WinningSide      string `json:"winning_side,omitempty"`
	GracePeriodEnd   int64  `json:"grace_period_end,omitempty"`
	QuoteDeposits    int64  `json:"quote_deposits"`
	QuoteBorrowed    int64  `json:"quote_borrowed"`
	QuoteLiquidity   int64  `json:"quote_liquidity"`
	YesDeposits      int64  `json:"yes_deposits"`
	NoDeposits       int64  `json:"no_deposits"`
	BorrowIndex      string `json:"borrow_index"`
	BorrowRateRay    string `json:"borrow_rate_ray"`
	UtilizationBps   int64  `json:"utilization_bps"`
	PendingFees      int64  `json:"pending_fees"`
	HarvestedFees    int64  `json:"harvested_fees"`
	TotalBadDebt     int64  `json:"total_bad_debt"`
	AccrualTimestamp int64  `json:"accrual_timestamp"`
}

// PositionOf returns the derived position view. Stale oracle data does
// not fail the query; values fall back to a zero-price view and Stale is
// set.
func (s *Site) PositionOf(user string) (*PositionInfo, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	p, ok := s.ledger.PositionIfExists(user)
	if !ok {
		return nil, ErrUnknownUser
	}
	info := &PositionInfo{
		User:           user,
		DepositYes:     s.ledger.DepositAmount(p, AssetYes),
		DepositNo:      s.ledger.DepositAmount(p, AssetNo),
		DepositQuote:   s.ledger.DepositAmount(p, AssetQuote),
		ProtectedYes:   s.ledger.ProtectedAmount(p, AssetYes),
		ProtectedNo:    s.ledger.ProtectedAmount(p, AssetNo),
		ProtectedQuote: s.ledger.ProtectedAmount(p, AssetQuote),
		Debt:           s.ledger.DebtAmount(p),
	}
	info.DebtValue = s.solvency.DebtValue(p).String()

	pv := s.prices()
	collV, err := s.solvency.LiquidationCollateralValue(p, pv)
	if err != nil {
		// Read paths return best-effort values on stale data.
		info.Stale = true
		pv = bestEffortPrices{oracle: s.oracle, condition: s.ConditionID}
		collV, err = s.solvency.LiquidationCollateralValue(p, pv)
		if err != nil || collV == nil {
			collV = new(big.Int)
		}
	}
	info.CollateralValue = collV.String()
	info.LtvBps = ltvBps(s.solvency.DebtValue(p), collV)
	if !info.Stale {
		if mb, err := s.solvency.MaxBorrowable(p, pv); err == nil {
			info.MaxBorrowable = mb
		}
		if solvent, err := s.solvency.IsLiquidationSolvent(p, pv); err == nil {
			info.Liquidatable = !solvent
		}
	}
	return info, nil
}

// Info returns the pool-level site view.
func (s *Site) Info() (*SiteInfo, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	q := &s.ledger.Storage[AssetQuote]
	info := &SiteInfo{
		ConditionID:      s.ConditionID,
		State:            s.resolution.State.String(),
		QuoteDeposits:    q.TotalDeposits,
		QuoteBorrowed:    q.TotalBorrowAmount,
		QuoteLiquidity:   q.AvailableLiquidity(),
		YesDeposits:      s.ledger.Storage[AssetYes].TotalDeposits + s.ledger.Storage[AssetYes].CollateralOnlyAmount,
		NoDeposits:       s.ledger.Storage[AssetNo].TotalDeposits + s.ledger.Storage[AssetNo].CollateralOnlyAmount,
		BorrowIndex:      s.ledger.Interest.BorrowIndex.String(),
		BorrowRateRay:    s.model.GetBorrowRate(q.TotalDeposits, q.TotalBorrowAmount).String(),
		UtilizationBps:   utilizationBps(q),
		PendingFees:      s.ledger.Interest.ProtocolFees,
		HarvestedFees:    s.ledger.Interest.HarvestedFees,
		TotalBadDebt:     s.ledger.Interest.TotalBadDebt,
		AccrualTimestamp: s.ledger.Interest.Timestamp,
	}
	if s.resolution.State != StateActive {
		info.WinningSide = s.resolution.WinningSide.String()
		info.GracePeriodEnd = s.resolution.GracePeriodEnd
	}
	return info, nil
}

// bestEffortPrices skips the freshness gate. Query-only.
type bestEffortPrices struct {
	oracle    PriceOracle
	condition string
}

func (v bestEffortPrices) EffectivePrice(k AssetKind) (int64, error) {
	if k == AssetQuote {
		return parPrice, nil
	}
	if k == AssetYes {
		return v.oracle.GetYesPrice(v.condition)
	}
	return v.oracle.GetNoPrice(v.condition)
}

func utilizationBps(s *AssetStorage) int64 {
	if s.TotalDeposits <= 0 || s.TotalBorrowAmount <= 0 {
		return 0
	}
	u := s.TotalBorrowAmount * 10000 / s.TotalDeposits
	if u > 10000 {
		u = 10000
	}
	return u
}

// ResolutionStatus returns the current lifecycle state.
func (s *Site) ResolutionStatus() (ResolutionState, Side) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolution.State, s.resolution.WinningSide
}

// MaxWithdrawableOf is the largest amount the user can withdraw of the
// asset while staying solvent.
func (s *Site) MaxWithdrawableOf(user string, asset AssetKind, protected bool) (int64, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	p, ok := s.ledger.PositionIfExists(user)
	if !ok {
		return 0, ErrUnknownUser
	}
	return s.solvency.MaxWithdrawable(p, s.prices(), asset, protected)
}

// MaxBorrowableOf is the largest additional quote amount the user can
// borrow.
func (s *Site) MaxBorrowableOf(user string) (int64, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	p, ok := s.ledger.PositionIfExists(user)
	if !ok {
		return 0, ErrUnknownUser
	}
	return s.solvency.MaxBorrowable(p, s.prices())
}
