package site_test

import (
	"testing"

	"SiteLend/internal/site"
)

const secondsPerYear = int64(365 * 24 * 60 * 60)

// 1000 borrowed at 10%/year for exactly one year yields exactly 100.
func TestAccrue_OneYearLinearInterest(t *testing.T) {
	l := newLedger()
	l.Deposit("lender", site.AssetQuote, 2000*unit, false)
	l.Borrow("alice", 1000*unit)

	res := l.Accrue(t0+secondsPerYear, ray(1, 10), 0)

	if res.Interest != 100*unit {
		t.Errorf("interest: got %d, want %d", res.Interest, 100*unit)
	}
	s := &l.Storage[site.AssetQuote]
	if s.TotalBorrowAmount != 1100*unit {
		t.Errorf("total borrows: got %d, want %d", s.TotalBorrowAmount, 1100*unit)
	}
	if s.TotalDeposits != 2100*unit {
		t.Errorf("total deposits: got %d, want %d", s.TotalDeposits, 2100*unit)
	}
	p := l.Position("alice")
	if got := l.DebtAmount(p); got != 1100*unit {
		t.Errorf("alice debt: got %d, want %d", got, 1100*unit)
	}
}

func TestAccrue_ProtocolFeeSplitsInterest(t *testing.T) {
	l := newLedger()
	l.Deposit("lender", site.AssetQuote, 2000*unit, false)
	l.Borrow("alice", 1000*unit)

	// 10% fee on 100 interest: 10 to the protocol, 90 to depositors.
	res := l.Accrue(t0+secondsPerYear, ray(1, 10), 1000)

	if res.ProtocolFee != 10*unit {
		t.Errorf("fee: got %d, want %d", res.ProtocolFee, 10*unit)
	}
	s := &l.Storage[site.AssetQuote]
	if s.TotalDeposits != 2090*unit {
		t.Errorf("total deposits: got %d, want %d", s.TotalDeposits, 2090*unit)
	}
	if s.TotalBorrowAmount != 1100*unit {
		t.Errorf("total borrows: got %d, want %d", s.TotalBorrowAmount, 1100*unit)
	}
	if l.Interest.ProtocolFees != 10*unit {
		t.Errorf("pending fees: got %d, want %d", l.Interest.ProtocolFees, 10*unit)
	}
}

func TestAccrue_SameInstantIsNoOp(t *testing.T) {
	l := newLedger()
	l.Deposit("lender", site.AssetQuote, 2000*unit, false)
	l.Borrow("alice", 1000*unit)

	l.Accrue(t0+3600, ray(1, 10), 0)
	before := l.Storage[site.AssetQuote].TotalBorrowAmount

	res := l.Accrue(t0+3600, ray(1, 10), 0)
	if res.Interest != 0 {
		t.Errorf("second accrual interest: got %d, want 0", res.Interest)
	}
	if got := l.Storage[site.AssetQuote].TotalBorrowAmount; got != before {
		t.Errorf("total borrows moved: got %d, want %d", got, before)
	}
}

func TestAccrue_TimestampAdvancesWithoutBorrows(t *testing.T) {
	l := newLedger()
	l.Deposit("lender", site.AssetQuote, 2000*unit, false)

	res := l.Accrue(t0+7200, ray(1, 10), 0)
	if res.Interest != 0 {
		t.Errorf("interest with no borrows: got %d, want 0", res.Interest)
	}
	if l.Interest.Timestamp != t0+7200 {
		t.Errorf("timestamp: got %d, want %d", l.Interest.Timestamp, t0+7200)
	}
}

func TestAccrue_BorrowIndexGrows(t *testing.T) {
	l := newLedger()
	l.Deposit("lender", site.AssetQuote, 2000*unit, false)
	l.Borrow("alice", 1000*unit)

	before := l.Interest.BorrowIndex.String()
	l.Accrue(t0+secondsPerYear, ray(1, 10), 0)
	after := l.Interest.BorrowIndex

	if after.String() == before {
		t.Error("borrow index did not grow")
	}
	// index = 1e18 * 1.10 after one year at 10%.
	if after.String() != "1100000000000000000" {
		t.Errorf("borrow index: got %s, want 1100000000000000000", after)
	}
}

func TestHarvestProtocolFees_MovesPendingBucket(t *testing.T) {
	l := newLedger()
	l.Deposit("lender", site.AssetQuote, 2000*unit, false)
	l.Borrow("alice", 1000*unit)
	l.Accrue(t0+secondsPerYear, ray(1, 10), 1000)

	fees := l.HarvestProtocolFees()
	if fees != 10*unit {
		t.Errorf("harvested: got %d, want %d", fees, 10*unit)
	}
	if l.Interest.ProtocolFees != 0 {
		t.Errorf("pending after harvest: got %d, want 0", l.Interest.ProtocolFees)
	}
	if l.Interest.HarvestedFees != 10*unit {
		t.Errorf("harvested counter: got %d, want %d", l.Interest.HarvestedFees, 10*unit)
	}

	if again := l.HarvestProtocolFees(); again != 0 {
		t.Errorf("second harvest: got %d, want 0", again)
	}
}
