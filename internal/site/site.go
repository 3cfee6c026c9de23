package site

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"SiteLend/internal/fpmath"
	"SiteLend/internal/ratemodel"
)

// PriceOracle is the read interface the site consumes for its market.
// Implementations live outside this package.
type PriceOracle interface {
	GetYesPrice(conditionID string) (int64, error)
	GetNoPrice(conditionID string) (int64, error)
	IsResolved(conditionID string) (bool, error)
	GetResolution(conditionID string) (Side, error)
	IsPriceFresh(conditionID string) bool
}

// OperationRecord is the append-only log entry emitted after every
// operation, successful or not.
type OperationRecord struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Site    string    `json:"site"`
	Action  string    `json:"action"`
	User    string    `json:"user,omitempty"`
	Asset   string    `json:"asset,omitempty"`
	Amount  int64     `json:"amount,omitempty"`
	Shares  int64     `json:"shares,omitempty"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

// Recorder receives operation records. Implementations must not call back
// into the site.
type Recorder interface {
	Record(OperationRecord)
}

// FlashRepayer is the handle a flash-liquidation callback uses to settle
// the debt it owes. Only Repay is callable while the flash operation is
// in flight; every other site entry point rejects reentrancy.
type FlashRepayer struct {
	site   *Site
	user   string
	owed   int64
	repaid int64
}

// Owed is the quote amount the callback must repay before returning.
func (fr *FlashRepayer) Owed() int64 { return fr.owed - fr.repaid }

// Repay pays down the liquidated user's debt from inside the callback.
// Amounts beyond what is owed are rejected.
func (fr *FlashRepayer) Repay(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > fr.Owed() {
		return fmt.Errorf("%w: repay %d exceeds owed %d", ErrInvalidAmount, amount, fr.Owed())
	}
	applied, err := fr.site.ledger.Repay(fr.user, amount)
	if err != nil {
		return err
	}
	fr.repaid += applied
	return nil
}

// FlashCallback runs between collateral seizure and debt settlement. The
// seized result is informational; the callback must drive repayer.Owed()
// to zero or the whole liquidation is rolled back.
type FlashCallback func(repayer *FlashRepayer, seized *LiquidationResult, data []byte) error

// Config assembles a site. Params are copied; the oracle and model are
// referenced.
type Config struct {
	ConditionID string
	Params      RiskParams
	Model       ratemodel.Model
	Oracle      PriceOracle
	Logger      zerolog.Logger
	Recorder    Recorder

	// Clock overrides the wall clock; nil means time.Now. The accrual
	// baseline is seeded from it, so injected clocks must come through
	// here or SetClock.
	Clock func() time.Time
}

// Site is one isolated lending market. All state mutation is serialized
// behind a single mutex; different sites are fully independent.
type Site struct {
	ConditionID string

	mu          sync.Mutex
	ledger      *Ledger
	params      RiskParams
	model       ratemodel.Model
	oracle      PriceOracle
	resolution  Resolution
	solvency    *SolvencyEngine
	liquidation *LiquidationEngine
	hooks       hookSet
	recorder    Recorder
	log         zerolog.Logger
	now         func() time.Time
	flashActive atomic.Bool
	seq         uint64
}

// New builds a site in the Active state with an empty ledger.
func New(cfg Config) (*Site, error) {
	if cfg.ConditionID == "" {
		return nil, fmt.Errorf("site: empty condition id")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("site: nil oracle")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == nil {
		model = &ratemodel.Fixed{Rate: new(big.Int)}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	s := &Site{
		ConditionID: cfg.ConditionID,
		params:      cfg.Params,
		model:       model,
		oracle:      cfg.Oracle,
		recorder:    cfg.Recorder,
		log:         cfg.Logger.With().Str("component", "site").Str("condition", cfg.ConditionID).Logger(),
		now:         now,
	}
	s.ledger = NewLedger(s.now().Unix())
	s.solvency = &SolvencyEngine{Ledger: s.ledger, Params: &s.params}
	s.liquidation = &LiquidationEngine{Ledger: s.ledger, Solvency: s.solvency, Params: &s.params}
	return s, nil
}

// SetClock overrides the wall clock, for tests and replay. The accrual
// baseline is rebased to the new clock's current instant; interest
// pending under the old clock is discarded.
func (s *Site) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.ledger.Interest.Timestamp = now().Unix()
}

// RegisterHook subscribes a hook to the actions it declares.
func (s *Site) RegisterHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.register(h)
}

// livePrices reads oracle prices gated by freshness; the quote asset is
// always par.
type livePrices struct {
	oracle    PriceOracle
	condition string
}

func (v livePrices) EffectivePrice(k AssetKind) (int64, error) {
	if k == AssetQuote {
		return parPrice, nil
	}
	if !v.oracle.IsPriceFresh(v.condition) {
		return 0, ErrStalePrice
	}
	if k == AssetYes {
		return v.oracle.GetYesPrice(v.condition)
	}
	return v.oracle.GetNoPrice(v.condition)
}

// prices returns the effective price view for the current lifecycle
// state: oracle-driven until Resolved, par/zero after.
func (s *Site) prices() PriceView {
	if s.resolution.State == StateResolved {
		return resolvedPrices{winner: s.resolution.WinningSide}
	}
	return livePrices{oracle: s.oracle, condition: s.ConditionID}
}

// accrue advances interest to now. Every state-touching operation calls
// this first so balances reflect current interest.
func (s *Site) accrue(now time.Time) {
	q := &s.ledger.Storage[AssetQuote]
	rate := s.model.GetBorrowRate(q.TotalDeposits, q.TotalBorrowAmount)
	res := s.ledger.Accrue(now.Unix(), rate, s.params.ProtocolFeeBps)
	if res.Interest > 0 {
		s.log.Debug().
			Int64("interest", res.Interest).
			Int64("protocol_fee", res.ProtocolFee).
			Int64("elapsed", res.Elapsed).
			Msg("interest accrued")
	}
}

// enter serializes the operation. While a flash callback is in flight
// every other entry point is rejected with ErrReentrantCall, including
// calls from other goroutines; callers retry once the flash settles.
func (s *Site) enter() error {
	if s.flashActive.Load() {
		return ErrReentrantCall
	}
	s.mu.Lock()
	if s.flashActive.Load() {
		s.mu.Unlock()
		return ErrReentrantCall
	}
	return nil
}

func (s *Site) record(action Action, user string, asset AssetKind, amount, shares int64, err error) {
	s.seq++
	if s.recorder == nil {
		return
	}
	rec := OperationRecord{
		Seq:     s.seq,
		Time:    s.now(),
		Site:    s.ConditionID,
		Action:  action.String(),
		User:    user,
		Asset:   asset.String(),
		Amount:  amount,
		Shares:  shares,
		Success: err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.recorder.Record(rec)
}

func (s *Site) verifyInvariants(op string) {
	if err := s.ledger.CheckInvariants(); err != nil {
		s.log.Error().Err(err).Str("op", op).Msg("ledger invariant violated")
	}
}

// Deposit credits collateral or quote liquidity and returns the shares
// minted.
func (s *Site) Deposit(user string, asset AssetKind, amount int64, protected bool) (int64, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	now := s.now()
	s.accrue(now)

	s.hooks.dispatch(HookEvent{Stage: StageBefore, Action: ActionDeposit, Site: s.ConditionID, User: user, Asset: asset, Amount: amount})
	shares, err := s.depositLocked(user, asset, amount, protected)
	s.hooks.dispatch(HookEvent{Stage: StageAfter, Action: ActionDeposit, Site: s.ConditionID, User: user, Asset: asset, Amount: amount, Err: err})
	s.record(ActionDeposit, user, asset, amount, shares, err)
	if err != nil {
		return 0, err
	}
	s.verifyInvariants("deposit")
	s.log.Info().Str("user", user).Stringer("asset", asset).Int64("amount", amount).
		Int64("shares", shares).Bool("protected", protected).Msg("deposit")
	return shares, nil
}

func (s *Site) depositLocked(user string, asset AssetKind, amount int64, protected bool) (int64, error) {
	if err := s.requireFreshPrices(); err != nil {
		return 0, err
	}
	return s.ledger.Deposit(user, asset, amount, protected)
}

// requireFreshPrices fails funds-moving operations closed on stale
// oracle data. A Resolved site prices off the outcome, not the oracle.
func (s *Site) requireFreshPrices() error {
	if s.resolution.State == StateResolved {
		return nil
	}
	if !s.oracle.IsPriceFresh(s.ConditionID) {
		return ErrStalePrice
	}
	return nil
}

// canWithdraw applies the resolution-phase withdrawal restriction.
func (s *Site) canWithdraw(asset AssetKind) error {
	if s.resolution.State == StateResolving &&
		s.params.RestrictWinningWithdrawals &&
		asset == s.resolution.WinningSide.Asset() {
		return ErrWithdrawalsRestricted
	}
	return nil
}

// Withdraw burns shares and returns the amount paid out. The position
// must stay at or under the liquidation threshold afterwards.
func (s *Site) Withdraw(user string, asset AssetKind, shares int64, protected bool) (int64, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	now := s.now()
	s.accrue(now)

	s.hooks.dispatch(HookEvent{Stage: StageBefore, Action: ActionWithdraw, Site: s.ConditionID, User: user, Asset: asset, Amount: shares})
	amount, err := s.withdrawLocked(user, asset, shares, protected)
	s.hooks.dispatch(HookEvent{Stage: StageAfter, Action: ActionWithdraw, Site: s.ConditionID, User: user, Asset: asset, Amount: amount, Err: err})
	s.record(ActionWithdraw, user, asset, amount, shares, err)
	if err != nil {
		return 0, err
	}
	s.verifyInvariants("withdraw")
	s.log.Info().Str("user", user).Stringer("asset", asset).Int64("shares", shares).
		Int64("amount", amount).Msg("withdraw")
	return amount, nil
}

func (s *Site) withdrawLocked(user string, asset AssetKind, shares int64, protected bool) (int64, error) {
	if err := s.canWithdraw(asset); err != nil {
		return 0, err
	}
	if err := s.requireFreshPrices(); err != nil {
		return 0, err
	}
	p, ok := s.ledger.PositionIfExists(user)
	if !ok {
		return 0, ErrUnknownUser
	}

	cp := s.ledger.Checkpoint(user)
	amount, err := s.ledger.WithdrawShares(user, asset, shares, protected)
	if err != nil {
		return 0, err
	}
	if p.HasDebt() {
		solvent, serr := s.solvency.IsLiquidationSolvent(p, s.prices())
		if serr != nil {
			s.ledger.Restore(cp)
			return 0, serr
		}
		if !solvent {
			s.ledger.Restore(cp)
			return 0, ErrInsolventAfterWithdrawal
		}
	}
	return amount, nil
}

// Borrow lends quote against the user's unprotected collateral. The
// post-borrow position must stay at or under max-LTV.
func (s *Site) Borrow(user string, amount int64) (int64, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	now := s.now()
	s.accrue(now)

	s.hooks.dispatch(HookEvent{Stage: StageBefore, Action: ActionBorrow, Site: s.ConditionID, User: user, Asset: AssetQuote, Amount: amount})
	shares, err := s.borrowLocked(user, amount)
	s.hooks.dispatch(HookEvent{Stage: StageAfter, Action: ActionBorrow, Site: s.ConditionID, User: user, Asset: AssetQuote, Amount: amount, Err: err})
	s.record(ActionBorrow, user, AssetQuote, amount, shares, err)
	if err != nil {
		return 0, err
	}
	s.verifyInvariants("borrow")
	s.log.Info().Str("user", user).Int64("amount", amount).Int64("debt_shares", shares).Msg("borrow")
	return shares, nil
}

func (s *Site) borrowLocked(user string, amount int64) (int64, error) {
	cp := s.ledger.Checkpoint(user)
	shares, err := s.ledger.Borrow(user, amount)
	if err != nil {
		return 0, err
	}
	p := s.ledger.Position(user)
	solvent, serr := s.solvency.IsBorrowSolvent(p, s.prices())
	if serr != nil {
		s.ledger.Restore(cp)
		return 0, serr
	}
	if !solvent {
		s.ledger.Restore(cp)
		return 0, ErrInsolventAfterBorrow
	}
	return shares, nil
}

// Repay pays down the user's debt, clamped to the outstanding amount.
// Returns the amount actually applied.
func (s *Site) Repay(user string, amount int64) (int64, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	now := s.now()
	s.accrue(now)

	s.hooks.dispatch(HookEvent{Stage: StageBefore, Action: ActionRepay, Site: s.ConditionID, User: user, Asset: AssetQuote, Amount: amount})
	applied, err := s.ledger.Repay(user, amount)
	s.hooks.dispatch(HookEvent{Stage: StageAfter, Action: ActionRepay, Site: s.ConditionID, User: user, Asset: AssetQuote, Amount: applied, Err: err})
	s.record(ActionRepay, user, AssetQuote, applied, 0, err)
	if err != nil {
		return 0, err
	}
	s.verifyInvariants("repay")
	s.log.Info().Str("user", user).Int64("requested", amount).Int64("applied", applied).Msg("repay")
	return applied, nil
}

// Liquidate repays part of an insolvent user's debt on the liquidator's
// behalf and seizes discounted collateral.
func (s *Site) Liquidate(liquidator, user string, repayAmount int64) (*LiquidationResult, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	now := s.now()
	s.accrue(now)

	s.hooks.dispatch(HookEvent{Stage: StageBefore, Action: ActionLiquidate, Site: s.ConditionID, User: user, Amount: repayAmount})
	cp := s.ledger.Checkpoint(user, liquidator)
	res, err := s.liquidation.Liquidate(liquidator, user, repayAmount, s.prices())
	if err != nil {
		s.ledger.Restore(cp)
	}
	s.hooks.dispatch(HookEvent{Stage: StageAfter, Action: ActionLiquidate, Site: s.ConditionID, User: user, Amount: repayAmount, Err: err})
	var repaid int64
	if res != nil {
		repaid = res.DebtRepaid
	}
	s.record(ActionLiquidate, user, AssetQuote, repaid, 0, err)
	if err != nil {
		return nil, err
	}
	s.verifyInvariants("liquidate")
	s.log.Info().Str("user", user).Str("liquidator", liquidator).
		Int64("repaid", res.DebtRepaid).Int64("seized_yes", res.SeizedYes).
		Int64("seized_no", res.SeizedNo).Int64("seized_quote", res.SeizedQuote).
		Msg("liquidation")
	return res, nil
}

// FlashLiquidate seizes collateral first, hands control to the callback,
// and requires the debt settled through the repayer before it returns.
// If the callback fails or leaves debt unpaid the whole operation rolls
// back and ErrFlashLiquidationNotRepaid is returned.
func (s *Site) FlashLiquidate(liquidator, user string, repayAmount int64, cb FlashCallback, data []byte) (*LiquidationResult, error) {
	if cb == nil {
		return nil, fmt.Errorf("flash liquidation: nil callback")
	}
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	now := s.now()
	s.accrue(now)

	res, err := s.flashLocked(liquidator, user, repayAmount, cb, data)
	var repaid int64
	if res != nil {
		repaid = res.DebtRepaid
	}
	s.record(ActionFlashLiquidate, user, AssetQuote, repaid, 0, err)
	if err != nil {
		return nil, err
	}
	s.verifyInvariants("flash_liquidate")
	s.log.Info().Str("user", user).Str("liquidator", liquidator).
		Int64("repaid", res.DebtRepaid).Msg("flash liquidation settled")
	return res, nil
}

func (s *Site) flashLocked(liquidator, user string, repayAmount int64, cb FlashCallback, data []byte) (*LiquidationResult, error) {
	if repayAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	p, ok := s.ledger.PositionIfExists(user)
	if !ok {
		return nil, ErrUnknownUser
	}
	pv := s.prices()
	solvent, err := s.solvency.IsLiquidationSolvent(p, pv)
	if err != nil {
		return nil, err
	}
	if solvent {
		return nil, ErrUserIsSolvent
	}

	debt := s.ledger.DebtAmount(p)
	repaid := repayAmount
	if repaid > debt {
		repaid = debt
	}
	seizeV := fpmath.Value(repaid, parPrice)
	seizeV.Mul(seizeV, big.NewInt(fpmath.BpsMax+s.params.LiquidationBonusBps))
	seizeV.Div(seizeV, big.NewInt(fpmath.BpsMax))

	if repaid < debt {
		if err := s.liquidation.checkPartialRestoresTarget(p, pv, debt-repaid, seizeV); err != nil {
			return nil, err
		}
	}

	cp := s.ledger.Checkpoint(user, liquidator)
	res := &LiquidationResult{
		User:       user,
		Liquidator: liquidator,
		BonusBps:   s.params.LiquidationBonusBps,
		Flash:      true,
	}
	// Collateral leaves the position before any repayment.
	if err := s.liquidation.seizeByValue(p, pv, seizeV, res); err != nil {
		s.ledger.Restore(cp)
		return nil, err
	}

	repayer := &FlashRepayer{site: s, user: user, owed: repaid}
	s.hooks.dispatch(HookEvent{Stage: StageBefore, Action: ActionFlashLiquidate, Site: s.ConditionID, User: user, Amount: repaid})
	s.flashActive.Store(true)
	cbErr := cb(repayer, res, data)
	s.flashActive.Store(false)

	if cbErr != nil || repayer.Owed() > 0 {
		s.ledger.Restore(cp)
		err := ErrFlashLiquidationNotRepaid
		if cbErr != nil {
			err = fmt.Errorf("%w: %v", ErrFlashLiquidationNotRepaid, cbErr)
		}
		s.hooks.dispatch(HookEvent{Stage: StageAfter, Action: ActionFlashLiquidate, Site: s.ConditionID, User: user, Amount: repaid, Err: err})
		return nil, err
	}
	res.DebtRepaid = repayer.repaid
	s.hooks.dispatch(HookEvent{Stage: StageAfter, Action: ActionFlashLiquidate, Site: s.ConditionID, User: user, Amount: repaid})
	return res, nil
}

// HandleResolution reads the oracle's resolution and moves the site from
// Active to Resolving, starting the grace period.
func (s *Site) HandleResolution() error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	now := s.now()
	s.accrue(now)

	err := s.handleResolutionLocked(now)
	s.record(ActionResolution, "", AssetQuote, 0, 0, err)
	return err
}

func (s *Site) handleResolutionLocked(now time.Time) error {
	resolved, err := s.oracle.IsResolved(s.ConditionID)
	if err != nil {
		return err
	}
	if !resolved {
		return fmt.Errorf("%w: oracle has not resolved %s", ErrInvalidResolutionTransition, s.ConditionID)
	}
	winner, err := s.oracle.GetResolution(s.ConditionID)
	if err != nil {
		return err
	}
	if err := s.resolution.Begin(winner, now.Unix(), s.params.GracePeriodSeconds); err != nil {
		return err
	}
	s.log.Info().Stringer("winner", winner).
		Int64("grace_period_end", s.resolution.GracePeriodEnd).Msg("resolution started")
	return nil
}

// FinalizeResolution moves Resolving to Resolved after the grace period.
func (s *Site) FinalizeResolution() error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	now := s.now()
	s.accrue(now)

	err := s.resolution.Finalize(now.Unix())
	s.record(ActionResolution, "", AssetQuote, 0, 0, err)
	if err != nil {
		return err
	}
	s.log.Info().Stringer("winner", s.resolution.WinningSide).Msg("resolution finalized")
	return nil
}

// DisputeResolution halts finalization. Admin-only at the API layer.
func (s *Site) DisputeResolution(reason string) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	err := s.resolution.Dispute(reason)
	s.record(ActionResolution, "", AssetQuote, 0, 0, err)
	if err != nil {
		return err
	}
	s.log.Warn().Str("reason", reason).Msg("resolution disputed")
	return nil
}

// ResumeResolution restarts a disputed resolution with a fresh grace
// period. SideNone keeps the previously reported winner.
func (s *Site) ResumeResolution(winner Side) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	now := s.now()
	err := s.resolution.Resume(winner, now.Unix(), s.params.GracePeriodSeconds)
	s.record(ActionResolution, "", AssetQuote, 0, 0, err)
	if err != nil {
		return err
	}
	s.log.Info().Stringer("winner", s.resolution.WinningSide).Msg("resolution resumed")
	return nil
}

// CancelResolution abandons a disputed resolution and returns to Active.
func (s *Site) CancelResolution() error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	err := s.resolution.Cancel()
	s.record(ActionResolution, "", AssetQuote, 0, 0, err)
	if err != nil {
		return err
	}
	s.log.Warn().Msg("resolution cancelled")
	return nil
}

// LiquidateLosingPositions settles the supplied debtors after resolution:
// all losing-side collateral is seized, winning-side collateral and quote
// deposits are redeemed at par against the debt, and any shortfall is
// written off as bad debt. Solvency is not consulted; a resolved losing
// position is unconditionally liquidatable.
func (s *Site) LiquidateLosingPositions(users []string) ([]*LiquidationResult, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	now := s.now()
	s.accrue(now)

	if s.resolution.State != StateResolved {
		return nil, fmt.Errorf("%w: losing positions settle only when resolved", ErrInvalidResolutionTransition)
	}
	losing := s.resolution.WinningSide.Opposite().Asset()
	winning := s.resolution.WinningSide.Asset()

	results := make([]*LiquidationResult, 0, len(users))
	for _, user := range users {
		p, ok := s.ledger.PositionIfExists(user)
		if !ok || !p.HasDebt() {
			continue
		}
		res := &LiquidationResult{User: user, Liquidator: "resolution"}

		seized, err := s.liquidation.SeizeAll(user, losing)
		if err != nil && err != ErrInsufficientBalance {
			return results, err
		}
		res.addSeized(losing, seized)

		// Winning collateral redeems 1:1 against the debt.
		for _, k := range []AssetKind{winning, AssetQuote} {
			debt := s.ledger.DebtAmount(p)
			if debt == 0 {
				break
			}
			avail := s.ledger.DepositAmount(p, k) + s.ledger.ProtectedAmount(p, k)
			if avail == 0 {
				continue
			}
			take := debt
			if take > avail {
				take = avail
			}
			taken, err := s.ledger.SeizeCollateral(user, k, take, true)
			if err != nil {
				return results, err
			}
			if _, err := s.ledger.Repay(user, taken); err != nil {
				return results, err
			}
			res.addSeized(k, taken)
			res.DebtRepaid += taken
		}

		if p.HasDebt() {
			res.BadDebt = s.ledger.WriteOffDebt(user)
		}
		results = append(results, res)
		s.record(ActionLiquidate, user, losing, res.DebtRepaid, 0, nil)
		s.log.Info().Str("user", user).Int64("repaid", res.DebtRepaid).
			Int64("bad_debt", res.BadDebt).Msg("losing position settled")
	}
	s.verifyInvariants("liquidate_losing")
	return results, nil
}

// DistributeWinnings redeems the user's winning-side collateral at par
// once Resolved, netting any remaining debt first. A second call on an
// already-empty balance pays 0 and is not an error.
func (s *Site) DistributeWinnings(user string) (int64, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	now := s.now()
	s.accrue(now)

	if s.resolution.State != StateResolved {
		return 0, fmt.Errorf("%w: winnings distribute only when resolved", ErrInvalidResolutionTransition)
	}
	p, ok := s.ledger.PositionIfExists(user)
	if !ok {
		return 0, nil
	}
	winning := s.resolution.WinningSide.Asset()
	total := s.ledger.DepositAmount(p, winning) + s.ledger.ProtectedAmount(p, winning)
	if total == 0 {
		return 0, nil
	}
	redeemed, err := s.ledger.SeizeCollateral(user, winning, total, true)
	if err != nil {
		return 0, err
	}
	payout := redeemed
	if p.HasDebt() {
		applied, err := s.ledger.Repay(user, payout)
		if err != nil {
			return 0, err
		}
		payout -= applied
	}
	p.WinningsClaimed = true
	s.record(ActionDistribute, user, winning, payout, 0, nil)
	s.verifyInvariants("distribute")
	s.log.Info().Str("user", user).Int64("redeemed", redeemed).
		Int64("payout", payout).Msg("winnings distributed")
	return payout, nil
}

// HarvestProtocolFees collects the pending protocol fee bucket.
func (s *Site) HarvestProtocolFees() (int64, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	s.accrue(s.now())
	fees := s.ledger.HarvestProtocolFees()
	if fees > 0 {
		s.log.Info().Int64("fees", fees).Msg("protocol fees harvested")
	}
	return fees, nil
}

// UpdateCachedConfig atomically replaces the risk parameters. Takes
// effect on the next operation.
func (s *Site) UpdateCachedConfig(params RiskParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := s.enter(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.params = params
	s.log.Info().Int64("max_ltv_bps", params.MaxLtvBps).
		Int64("liquidation_threshold_bps", params.LiquidationThresholdBps).
		Msg("risk parameters updated")
	return nil
}

// UpdateInterestRateModel swaps the rate model. Interest accrued so far
// is unchanged; accrual runs first so the old model covers the elapsed
// period.
func (s *Site) UpdateInterestRateModel(m ratemodel.Model) error {
	if m == nil {
		return fmt.Errorf("site: nil rate model")
	}
	if err := s.enter(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.accrue(s.now())
	s.model = m
	s.log.Info().Msg("interest rate model updated")
	return nil
}
