package site

import (
	"math/big"

	"SiteLend/internal/fpmath"
)

// AccrualResult reports what one accrual pass did.
type AccrualResult struct {
	Elapsed      int64
	Interest     int64
	ProtocolFee  int64
	BorrowIndex  *big.Int
	NewTimestamp int64
}

// Accrue applies simple (non-compounding) interest on the quote borrow
// pool for the time elapsed since the last accrual. The timestamp always
// advances, so repeated calls at the same instant are no-ops. Depositors
// receive the interest net of the protocol fee; the fee accumulates until
// harvested.
func (l *Ledger) Accrue(now int64, rateRay *big.Int, protocolFeeBps int64) AccrualResult {
	id := l.Interest
	res := AccrualResult{NewTimestamp: now, BorrowIndex: id.BorrowIndex}
	if now <= id.Timestamp {
		return res
	}
	dt := now - id.Timestamp
	res.Elapsed = dt
	id.Timestamp = now

	s := &l.Storage[AssetQuote]
	if s.TotalBorrowAmount <= 0 || rateRay == nil || rateRay.Sign() <= 0 {
		return res
	}

	interest := fpmath.LinearInterest(s.TotalBorrowAmount, rateRay, dt)
	if interest <= 0 {
		return res
	}
	fee := fpmath.BpsMul(interest, protocolFeeBps, fpmath.RoundDown)

	s.TotalBorrowAmount += interest
	s.TotalDeposits += interest - fee
	id.ProtocolFees += fee
	id.BorrowIndex = fpmath.ScaleIndex(id.BorrowIndex, rateRay, dt)

	res.Interest = interest
	res.ProtocolFee = fee
	res.BorrowIndex = id.BorrowIndex
	return res
}

// HarvestProtocolFees moves the accumulated fee out of the pending bucket
// and returns the harvested amount. The fee was already excluded from
// depositor totals at accrual time, so this only flips the counter.
func (l *Ledger) HarvestProtocolFees() int64 {
	id := l.Interest
	fees := id.ProtocolFees
	if fees <= 0 {
		return 0
	}
	id.ProtocolFees = 0
	id.HarvestedFees += fees
	return fees
}
