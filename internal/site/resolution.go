package site

import (
	"fmt"

	"SiteLend/internal/fpmath"
)

// parPrice is the 1e6 fixed-point price of one quote unit.
const parPrice = int64(fpmath.PriceScale)

// Side names a market outcome.
type Side int

const (
	SideNone Side = iota
	SideYes
	SideNo
)

func (s Side) String() string {
	switch s {
	case SideYes:
		return "YES"
	case SideNo:
		return "NO"
	default:
		return "NONE"
	}
}

// Asset returns the collateral asset backing the side.
func (s Side) Asset() AssetKind {
	if s == SideNo {
		return AssetNo
	}
	return AssetYes
}

// Opposite returns the losing side for a winning side.
func (s Side) Opposite() Side {
	switch s {
	case SideYes:
		return SideNo
	case SideNo:
		return SideYes
	default:
		return SideNone
	}
}

// ResolutionState is the market lifecycle state of a site.
type ResolutionState int

const (
	StateActive ResolutionState = iota
	StateResolving
	StateResolved
	StateDisputed
)

func (s ResolutionState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateResolving:
		return "RESOLVING"
	case StateResolved:
		return "RESOLVED"
	case StateDisputed:
		return "DISPUTED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// resolutionTransitions is the allowed-transition table. Disputed may only
// return to Resolving (admin resume) or Active (admin cancel).
var resolutionTransitions = map[ResolutionState]map[ResolutionState]bool{
	StateActive:    {StateResolving: true},
	StateResolving: {StateResolved: true, StateDisputed: true},
	StateDisputed:  {StateResolving: true, StateActive: true},
	StateResolved:  {},
}

// CanTransitionTo reports whether the state machine allows from -> to.
func (s ResolutionState) CanTransitionTo(to ResolutionState) bool {
	return resolutionTransitions[s][to]
}

// Resolution tracks a site's position in the market lifecycle.
type Resolution struct {
	State          ResolutionState
	WinningSide    Side
	GracePeriodEnd int64
	DisputeReason  string
}

func (r *Resolution) transition(to ResolutionState) error {
	if !r.State.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidResolutionTransition, r.State, to)
	}
	r.State = to
	return nil
}

// Begin moves Active -> Resolving, recording the reported winner and the
// end of the dispute window.
func (r *Resolution) Begin(winner Side, now, gracePeriodSeconds int64) error {
	if winner != SideYes && winner != SideNo {
		return fmt.Errorf("%w: invalid winning side %s", ErrInvalidResolutionTransition, winner)
	}
	if err := r.transition(StateResolving); err != nil {
		return err
	}
	r.WinningSide = winner
	r.GracePeriodEnd = now + gracePeriodSeconds
	r.DisputeReason = ""
	return nil
}

// Finalize moves Resolving -> Resolved once the grace period has elapsed.
func (r *Resolution) Finalize(now int64) error {
	if r.State != StateResolving {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidResolutionTransition, r.State, StateResolved)
	}
	if now < r.GracePeriodEnd {
		return ErrGracePeriodNotElapsed
	}
	return r.transition(StateResolved)
}

// Dispute moves Resolving -> Disputed, halting finalization.
func (r *Resolution) Dispute(reason string) error {
	if err := r.transition(StateDisputed); err != nil {
		return err
	}
	r.DisputeReason = reason
	return nil
}

// Resume moves Disputed -> Resolving with a fresh grace period, keeping
// the previously reported winner unless overridden.
func (r *Resolution) Resume(winner Side, now, gracePeriodSeconds int64) error {
	if err := r.transition(StateResolving); err != nil {
		return err
	}
	if winner == SideYes || winner == SideNo {
		r.WinningSide = winner
	}
	r.GracePeriodEnd = now + gracePeriodSeconds
	r.DisputeReason = ""
	return nil
}

// Cancel moves Disputed -> Active, discarding the reported outcome.
func (r *Resolution) Cancel() error {
	if err := r.transition(StateActive); err != nil {
		return err
	}
	r.WinningSide = SideNone
	r.GracePeriodEnd = 0
	r.DisputeReason = ""
	return nil
}

// resolvedPrices is the post-resolution price view: winning side at par,
// losing side at zero, quote at par. Oracle staleness is irrelevant once
// the outcome is final.
type resolvedPrices struct {
	winner Side
}

func (v resolvedPrices) EffectivePrice(k AssetKind) (int64, error) {
	switch k {
	case AssetQuote:
		return parPrice, nil
	case v.winner.Asset():
		return parPrice, nil
	default:
		return 0, nil
	}
}
