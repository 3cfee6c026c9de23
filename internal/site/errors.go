package site

import "errors"

// Sentinel errors returned by site operations. Callers match with errors.Is;
// the HTTP layer maps them to status codes.
var (
	// ErrInsufficientBalance: withdraw or repay exceeds the user's balance,
	// or a seize exceeds the target's collateral.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientLiquidity: the quote pool cannot cover a borrow or
	// withdrawal; deposits are lent out.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInsolventAfterWithdrawal: the withdrawal would push the position
	// past the maximum LTV.
	ErrInsolventAfterWithdrawal = errors.New("position would be insolvent after withdrawal")

	// ErrInsolventAfterBorrow: the borrow would push the position past the
	// maximum LTV.
	ErrInsolventAfterBorrow = errors.New("position would be insolvent after borrow")

	// ErrBorrowingDisabled: borrowing is switched off for the asset.
	ErrBorrowingDisabled = errors.New("borrowing disabled for asset")

	// ErrDepositsDisabled: deposits are switched off for the asset.
	ErrDepositsDisabled = errors.New("deposits disabled for asset")

	// ErrAssetInactive: the asset is not active in this site.
	ErrAssetInactive = errors.New("asset not active in site")

	// ErrStalePrice: the oracle price is older than the freshness window.
	ErrStalePrice = errors.New("oracle price is stale")

	// ErrUserIsSolvent: liquidation attempted on a position above water.
	ErrUserIsSolvent = errors.New("user is solvent")

	// ErrFullLiquidationRequired: a partial liquidation would leave the
	// position above the target LTV.
	ErrFullLiquidationRequired = errors.New("full liquidation required")

	// ErrFlashLiquidationNotRepaid: the flash callback returned without
	// restoring the repay amount; all state changes were rolled back.
	ErrFlashLiquidationNotRepaid = errors.New("flash liquidation not repaid")

	// ErrInvalidResolutionTransition: the requested resolution state change
	// is not in the transition table.
	ErrInvalidResolutionTransition = errors.New("invalid resolution state transition")

	// ErrGracePeriodNotElapsed: finalize called before the dispute window
	// closed.
	ErrGracePeriodNotElapsed = errors.New("resolution grace period not elapsed")

	// ErrReentrantCall: an entry point was invoked from inside a flash
	// liquidation callback.
	ErrReentrantCall = errors.New("reentrant call during flash liquidation")

	// ErrWithdrawalsRestricted: winning-side collateral withdrawals are
	// held back until losing positions are settled.
	ErrWithdrawalsRestricted = errors.New("withdrawals restricted until settlement")

	// ErrInvalidAmount: amount must be positive.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrUnknownUser: no position exists for the user.
	ErrUnknownUser = errors.New("unknown user")
)
