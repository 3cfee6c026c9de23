package site_test

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"SiteLend/internal/fpmath"
	"SiteLend/internal/oracle"
	"SiteLend/internal/site"

	"github.com/rs/zerolog"
)

const (
	unit = int64(fpmath.AmountScale)

	price40 = 400_000
	price50 = 500_000
	price60 = 600_000
)

func ray(numerator, denominator int64) *big.Int {
	r := new(big.Int).Mul(fpmath.Ray, big.NewInt(numerator))
	return r.Div(r, big.NewInt(denominator))
}

// fixedPrices serves constant YES/NO prices; quote is always par.
type fixedPrices struct {
	yes, no int64
}

func (v fixedPrices) EffectivePrice(k site.AssetKind) (int64, error) {
	switch k {
	case site.AssetYes:
		return v.yes, nil
	case site.AssetNo:
		return v.no, nil
	default:
		return int64(fpmath.PriceScale), nil
	}
}

func testParams() site.RiskParams {
	return site.RiskParams{
		MaxLtvBps:                  7500,
		LiquidationThresholdBps:    8500,
		LiquidationTargetBps:       9000,
		LiquidationBonusBps:        500,
		ProtocolFeeBps:             1000,
		ProtectedSeizable:          true,
		RestrictWinningWithdrawals: true,
		GracePeriodSeconds:         3600,
	}
}

// fakeClock is a manually advanced clock shared with a site under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordSink collects operation records for assertions.
type recordSink struct {
	mu      sync.Mutex
	records []site.OperationRecord
}

func (r *recordSink) Record(rec site.OperationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordSink) All() []site.OperationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]site.OperationRecord, len(r.records))
	copy(out, r.records)
	return out
}

func newTestSite(t *testing.T, o site.PriceOracle, params site.RiskParams) (*site.Site, *fakeClock) {
	t.Helper()
	s, err := site.New(site.Config{
		ConditionID: "cond-test",
		Params:      params,
		Oracle:      o,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new site: %v", err)
	}
	clock := newFakeClock()
	s.SetClock(clock.Now)
	return s, clock
}

// newBorrowedSite builds the standard insolvency fixture: a lender with
// 1000 quote, a user with 1000 YES borrowed to 450 at price 0.60, then
// the price dropped to 0.50 (LTV 9000 against threshold 8500).
func newBorrowedSite(t *testing.T) (*site.Site, *oracle.Static, *fakeClock) {
	t.Helper()
	o := oracle.NewStatic(price60, price40)
	s, clock := newTestSite(t, o, testParams())

	mustDeposit(t, s, "lender", site.AssetQuote, 1000*unit, false)
	mustDeposit(t, s, "user", site.AssetYes, 1000*unit, false)
	if _, err := s.Borrow("user", 450*unit); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	o.Update(price50, price50)
	return s, o, clock
}

func mustDeposit(t *testing.T, s *site.Site, user string, k site.AssetKind, amount int64, protected bool) {
	t.Helper()
	if _, err := s.Deposit(user, k, amount, protected); err != nil {
		t.Fatalf("deposit %s %s %d: %v", user, k, amount, err)
	}
}
