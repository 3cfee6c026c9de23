// Package site implements an isolated lending market for one binary
// prediction market: YES and NO outcome shares as collateral, a quote
// asset (USDC) borrowed against them, interest accrual, solvency gating,
// liquidation, and the market resolution lifecycle.
package site

import (
	"fmt"
	"math/big"

	"SiteLend/internal/fpmath"
)

// AssetKind identifies one of the three per-site assets.
type AssetKind int

const (
	AssetYes AssetKind = iota
	AssetNo
	AssetQuote

	// AssetCount bounds the per-asset arrays on positions and storage.
	AssetCount = 3
)

func (k AssetKind) String() string {
	switch k {
	case AssetYes:
		return "YES"
	case AssetNo:
		return "NO"
	case AssetQuote:
		return "QUOTE"
	default:
		return fmt.Sprintf("ASSET(%d)", int(k))
	}
}

// Valid reports whether k names a real asset slot.
func (k AssetKind) Valid() bool {
	return k >= AssetYes && k <= AssetQuote
}

// AssetStatus gates whether an asset participates in the site at all.
type AssetStatus int

const (
	StatusUndefined AssetStatus = iota
	StatusActive
	StatusRemoved
)

// AssetConfig holds per-asset switches. Borrowing is only ever enabled on
// the quote asset; outcome shares are collateral-only from the pool's view.
type AssetConfig struct {
	Status           AssetStatus
	DepositsEnabled  bool
	BorrowingEnabled bool
}

// AssetStorage is the pool-level share accounting for one asset.
// Regular deposits earn interest and can be lent out; collateral-only
// (protected) deposits are segregated and never leave the pool except
// by withdrawal or seizure.
type AssetStorage struct {
	TotalDeposits        int64
	TotalDepositShares   int64
	CollateralOnlyAmount int64
	CollateralOnlyShares int64
	TotalBorrowAmount    int64
	TotalBorrowShares    int64
}

// AvailableLiquidity is the quote amount that can still be withdrawn or
// borrowed from the regular deposit pool.
func (s *AssetStorage) AvailableLiquidity() int64 {
	free := s.TotalDeposits - s.TotalBorrowAmount
	if free < 0 {
		return 0
	}
	return free
}

// InterestData carries the accrual state for the borrowable asset.
// BorrowIndex starts at 1e18 and only grows; Timestamp is the last
// accrual instant in unix seconds.
type InterestData struct {
	BorrowIndex   *big.Int
	Timestamp     int64
	ProtocolFees  int64
	TotalBadDebt  int64
	HarvestedFees int64
}

// NewInterestData seeds the index at 1.0 wad.
func NewInterestData(now int64) *InterestData {
	return &InterestData{
		BorrowIndex: new(big.Int).Set(fpmath.Wad),
		Timestamp:   now,
	}
}

// UserPosition is one user's balances in the site, all share-denominated.
// Amounts are derived against the pool totals at read time so accrued
// interest is reflected without per-user writes.
type UserPosition struct {
	User            string
	DepositShares   [AssetCount]int64
	ProtectedShares [AssetCount]int64
	DebtShares      int64
	WinningsClaimed bool
	Version         uint64
}

func (p *UserPosition) clone() *UserPosition {
	cp := *p
	return &cp
}

// HasDebt reports whether the position owes anything.
func (p *UserPosition) HasDebt() bool { return p.DebtShares > 0 }

// IsEmpty reports whether the position holds no shares at all.
func (p *UserPosition) IsEmpty() bool {
	if p.DebtShares != 0 {
		return false
	}
	for i := 0; i < AssetCount; i++ {
		if p.DepositShares[i] != 0 || p.ProtectedShares[i] != 0 {
			return false
		}
	}
	return true
}

// Ledger is the in-memory position book for a single site. It is not
// concurrency-safe; the owning Site serializes access.
type Ledger struct {
	Storage   [AssetCount]AssetStorage
	Configs   [AssetCount]AssetConfig
	Interest  *InterestData
	positions map[string]*UserPosition
}

// NewLedger creates a ledger with all three assets active, outcome shares
// deposit-only and the quote asset fully enabled.
func NewLedger(now int64) *Ledger {
	l := &Ledger{
		Interest:  NewInterestData(now),
		positions: make(map[string]*UserPosition),
	}
	for k := AssetYes; k <= AssetQuote; k++ {
		l.Configs[k] = AssetConfig{Status: StatusActive, DepositsEnabled: true}
	}
	l.Configs[AssetQuote].BorrowingEnabled = true
	return l
}

// Position returns the user's position, creating an empty one on first use.
func (l *Ledger) Position(user string) *UserPosition {
	p, ok := l.positions[user]
	if !ok {
		p = &UserPosition{User: user}
		l.positions[user] = p
	}
	return p
}

// PositionIfExists returns the position without creating it.
func (l *Ledger) PositionIfExists(user string) (*UserPosition, bool) {
	p, ok := l.positions[user]
	return p, ok
}

// ForEachPosition visits every position. Mutating the map during
// iteration is not allowed; callers collect users first if they delete.
func (l *Ledger) ForEachPosition(fn func(*UserPosition)) {
	for _, p := range l.positions {
		fn(p)
	}
}

// Users returns a snapshot of all user ids with positions.
func (l *Ledger) Users() []string {
	out := make([]string, 0, len(l.positions))
	for u := range l.positions {
		out = append(out, u)
	}
	return out
}

// DepositAmount converts a user's regular deposit shares in asset k to an
// amount, rounding down.
func (l *Ledger) DepositAmount(p *UserPosition, k AssetKind) int64 {
	s := &l.Storage[k]
	return fpmath.ToAmount(p.DepositShares[k], s.TotalDeposits, s.TotalDepositShares, fpmath.RoundDown)
}

// ProtectedAmount converts a user's collateral-only shares in asset k to
// an amount, rounding down.
func (l *Ledger) ProtectedAmount(p *UserPosition, k AssetKind) int64 {
	s := &l.Storage[k]
	return fpmath.ToAmount(p.ProtectedShares[k], s.CollateralOnlyAmount, s.CollateralOnlyShares, fpmath.RoundDown)
}

// DebtAmount converts a user's debt shares to a quote amount, rounding up
// so the pool never under-collects.
func (l *Ledger) DebtAmount(p *UserPosition) int64 {
	s := &l.Storage[AssetQuote]
	return fpmath.ToAmount(p.DebtShares, s.TotalBorrowAmount, s.TotalBorrowShares, fpmath.RoundUp)
}

func (l *Ledger) checkAsset(k AssetKind, needDeposits, needBorrowing bool) error {
	if !k.Valid() || l.Configs[k].Status != StatusActive {
		return ErrAssetInactive
	}
	if needDeposits && !l.Configs[k].DepositsEnabled {
		return ErrDepositsDisabled
	}
	if needBorrowing && !l.Configs[k].BorrowingEnabled {
		return ErrBorrowingDisabled
	}
	return nil
}

// Deposit credits amount of asset k to the user, minting shares rounded
// down. Protected deposits go to the collateral-only pool and are never
// lent out.
func (l *Ledger) Deposit(user string, k AssetKind, amount int64, protected bool) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if err := l.checkAsset(k, true, false); err != nil {
		return 0, err
	}
	s := &l.Storage[k]
	p := l.Position(user)

	var shares int64
	if protected {
		shares = fpmath.ToShares(amount, s.CollateralOnlyAmount, s.CollateralOnlyShares, fpmath.RoundDown)
		if shares <= 0 {
			return 0, ErrInvalidAmount
		}
		s.CollateralOnlyAmount += amount
		s.CollateralOnlyShares += shares
		p.ProtectedShares[k] += shares
	} else {
		shares = fpmath.ToShares(amount, s.TotalDeposits, s.TotalDepositShares, fpmath.RoundDown)
		if shares <= 0 {
			return 0, ErrInvalidAmount
		}
		s.TotalDeposits += amount
		s.TotalDepositShares += shares
		p.DepositShares[k] += shares
	}
	p.Version++
	return shares, nil
}

// Withdraw debits amount of asset k from the user, burning shares rounded
// up so the pool keeps the dust. Returns the shares burned. Solvency is
// the caller's responsibility; liquidity on the regular pool is checked
// here.
func (l *Ledger) Withdraw(user string, k AssetKind, amount int64, protected bool) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if !k.Valid() || l.Configs[k].Status != StatusActive {
		return 0, ErrAssetInactive
	}
	p, ok := l.positions[user]
	if !ok {
		return 0, ErrUnknownUser
	}
	s := &l.Storage[k]

	if protected {
		shares := fpmath.ToShares(amount, s.CollateralOnlyAmount, s.CollateralOnlyShares, fpmath.RoundUp)
		if shares > p.ProtectedShares[k] {
			return 0, ErrInsufficientBalance
		}
		s.CollateralOnlyAmount -= amount
		s.CollateralOnlyShares -= shares
		p.ProtectedShares[k] -= shares
		p.Version++
		return shares, nil
	}

	if amount > s.AvailableLiquidity() {
		return 0, ErrInsufficientLiquidity
	}
	shares := fpmath.ToShares(amount, s.TotalDeposits, s.TotalDepositShares, fpmath.RoundUp)
	if shares > p.DepositShares[k] {
		return 0, ErrInsufficientBalance
	}
	s.TotalDeposits -= amount
	s.TotalDepositShares -= shares
	p.DepositShares[k] -= shares
	p.Version++
	return shares, nil
}

// WithdrawShares burns exactly shares of the user's balance and returns
// the redeemed amount, rounding down so the pool keeps the dust.
func (l *Ledger) WithdrawShares(user string, k AssetKind, shares int64, protected bool) (int64, error) {
	if shares <= 0 {
		return 0, ErrInvalidAmount
	}
	if !k.Valid() || l.Configs[k].Status != StatusActive {
		return 0, ErrAssetInactive
	}
	p, ok := l.positions[user]
	if !ok {
		return 0, ErrUnknownUser
	}
	s := &l.Storage[k]

	if protected {
		if shares > p.ProtectedShares[k] {
			return 0, ErrInsufficientBalance
		}
		amount := fpmath.ToAmount(shares, s.CollateralOnlyAmount, s.CollateralOnlyShares, fpmath.RoundDown)
		s.CollateralOnlyAmount -= amount
		s.CollateralOnlyShares -= shares
		p.ProtectedShares[k] -= shares
		p.Version++
		return amount, nil
	}

	if shares > p.DepositShares[k] {
		return 0, ErrInsufficientBalance
	}
	amount := fpmath.ToAmount(shares, s.TotalDeposits, s.TotalDepositShares, fpmath.RoundDown)
	if amount > s.AvailableLiquidity() {
		return 0, ErrInsufficientLiquidity
	}
	s.TotalDeposits -= amount
	s.TotalDepositShares -= shares
	p.DepositShares[k] -= shares
	p.Version++
	return amount, nil
}

// MaxWithdrawableAmount is the largest amount the user's shares redeem to,
// before solvency and liquidity limits.
func (l *Ledger) MaxWithdrawableAmount(p *UserPosition, k AssetKind, protected bool) int64 {
	if protected {
		return l.ProtectedAmount(p, k)
	}
	return l.DepositAmount(p, k)
}

// Borrow lends amount of the quote asset to the user, minting debt shares
// rounded up. Liquidity is checked; solvency is the caller's job.
func (l *Ledger) Borrow(user string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if err := l.checkAsset(AssetQuote, false, true); err != nil {
		return 0, err
	}
	s := &l.Storage[AssetQuote]
	if amount > s.AvailableLiquidity() {
		return 0, ErrInsufficientLiquidity
	}
	p := l.Position(user)
	shares := fpmath.ToShares(amount, s.TotalBorrowAmount, s.TotalBorrowShares, fpmath.RoundUp)
	s.TotalBorrowAmount += amount
	s.TotalBorrowShares += shares
	p.DebtShares += shares
	p.Version++
	return shares, nil
}

// Repay pays down the user's quote debt. Amounts above the outstanding
// debt are clamped. Returns the amount actually applied.
func (l *Ledger) Repay(user string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	p, ok := l.positions[user]
	if !ok {
		return 0, ErrUnknownUser
	}
	if p.DebtShares == 0 {
		return 0, nil
	}
	s := &l.Storage[AssetQuote]
	debt := l.DebtAmount(p)

	if amount >= debt {
		// Full repayment burns all shares so no dust debt survives.
		s.TotalBorrowAmount -= debt
		s.TotalBorrowShares -= p.DebtShares
		p.DebtShares = 0
		p.Version++
		return debt, nil
	}

	shares := fpmath.ToShares(amount, s.TotalBorrowAmount, s.TotalBorrowShares, fpmath.RoundDown)
	if shares >= p.DebtShares {
		shares = p.DebtShares
	}
	s.TotalBorrowAmount -= amount
	s.TotalBorrowShares -= shares
	p.DebtShares -= shares
	p.Version++
	return amount, nil
}

// SeizeCollateral removes amount of asset k from the user during
// liquidation, touching the regular pool first and the protected pool for
// the remainder when allowed. Returns the amount actually seized.
func (l *Ledger) SeizeCollateral(user string, k AssetKind, amount int64, includeProtected bool) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	p, ok := l.positions[user]
	if !ok {
		return 0, ErrUnknownUser
	}
	s := &l.Storage[k]
	seized := int64(0)

	regular := l.DepositAmount(p, k)
	if regular > 0 {
		take := amount
		if take > regular {
			take = regular
		}
		shares := fpmath.ToShares(take, s.TotalDeposits, s.TotalDepositShares, fpmath.RoundUp)
		if shares > p.DepositShares[k] {
			shares = p.DepositShares[k]
		}
		s.TotalDeposits -= take
		s.TotalDepositShares -= shares
		p.DepositShares[k] -= shares
		seized += take
	}

	if seized < amount && includeProtected {
		remain := amount - seized
		protected := l.ProtectedAmount(p, k)
		take := remain
		if take > protected {
			take = protected
		}
		if take > 0 {
			shares := fpmath.ToShares(take, s.CollateralOnlyAmount, s.CollateralOnlyShares, fpmath.RoundUp)
			if shares > p.ProtectedShares[k] {
				shares = p.ProtectedShares[k]
			}
			s.CollateralOnlyAmount -= take
			s.CollateralOnlyShares -= shares
			p.ProtectedShares[k] -= shares
			seized += take
		}
	}

	if seized == 0 {
		return 0, ErrInsufficientBalance
	}
	p.Version++
	return seized, nil
}

// WriteOffDebt burns the user's remaining debt shares against the pool,
// socializing the loss to depositors. Returns the written-off amount.
func (l *Ledger) WriteOffDebt(user string) int64 {
	p, ok := l.positions[user]
	if !ok || p.DebtShares == 0 {
		return 0
	}
	s := &l.Storage[AssetQuote]
	debt := l.DebtAmount(p)
	s.TotalBorrowAmount -= debt
	s.TotalBorrowShares -= p.DebtShares
	p.DebtShares = 0
	// Depositors absorb the shortfall.
	s.TotalDeposits -= debt
	if s.TotalDeposits < 0 {
		s.TotalDeposits = 0
	}
	l.Interest.TotalBadDebt += debt
	p.Version++
	return debt
}

// checkpoint captures the pool totals, accrual state, and the named user
// positions so a failed multi-step operation can be rolled back whole.
type checkpoint struct {
	storage  [AssetCount]AssetStorage
	interest InterestData
	index    *big.Int
	users    map[string]*UserPosition
}

// Checkpoint snapshots current state for the given users. Users without a
// position are recorded as absent and removed again on restore.
func (l *Ledger) Checkpoint(users ...string) *checkpoint {
	cp := &checkpoint{
		storage:  l.Storage,
		interest: *l.Interest,
		index:    new(big.Int).Set(l.Interest.BorrowIndex),
		users:    make(map[string]*UserPosition, len(users)),
	}
	for _, u := range users {
		if p, ok := l.positions[u]; ok {
			cp.users[u] = p.clone()
		} else {
			cp.users[u] = nil
		}
	}
	return cp
}

// Restore rolls the ledger back to the checkpoint.
func (l *Ledger) Restore(cp *checkpoint) {
	l.Storage = cp.storage
	*l.Interest = cp.interest
	l.Interest.BorrowIndex = cp.index
	for u, snap := range cp.users {
		if snap == nil {
			delete(l.positions, u)
			continue
		}
		if cur, ok := l.positions[u]; ok {
			*cur = *snap
		} else {
			l.positions[u] = snap.clone()
		}
	}
}

// CheckInvariants verifies the share-accounting identities after an
// operation. Violations indicate a bug, not a user error.
func (l *Ledger) CheckInvariants() error {
	var sumDeposit, sumProtected [AssetCount]int64
	var sumDebt int64
	for _, p := range l.positions {
		for k := 0; k < AssetCount; k++ {
			sumDeposit[k] += p.DepositShares[k]
			sumProtected[k] += p.ProtectedShares[k]
		}
		sumDebt += p.DebtShares
		if p.DebtShares < 0 {
			return fmt.Errorf("invariant: negative debt shares for %s", p.User)
		}
	}
	for k := 0; k < AssetCount; k++ {
		s := &l.Storage[k]
		if sumDeposit[k] != s.TotalDepositShares {
			return fmt.Errorf("invariant: deposit shares mismatch asset %s: sum=%d total=%d",
				AssetKind(k), sumDeposit[k], s.TotalDepositShares)
		}
		if sumProtected[k] != s.CollateralOnlyShares {
			return fmt.Errorf("invariant: protected shares mismatch asset %s: sum=%d total=%d",
				AssetKind(k), sumProtected[k], s.CollateralOnlyShares)
		}
		if s.TotalDeposits < 0 || s.CollateralOnlyAmount < 0 || s.TotalBorrowAmount < 0 {
			return fmt.Errorf("invariant: negative pool total asset %s", AssetKind(k))
		}
	}
	if sumDebt != l.Storage[AssetQuote].TotalBorrowShares {
		return fmt.Errorf("invariant: debt shares mismatch: sum=%d total=%d",
			sumDebt, l.Storage[AssetQuote].TotalBorrowShares)
	}
	return nil
}
