package observability_test

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"SiteLend/internal/observability"
	"SiteLend/internal/oracle"
	"SiteLend/internal/registry"
	"SiteLend/internal/site"
)

const unit = 1_000_000

// NewMetrics registers against the default registerer, so the process
// gets exactly one instance shared across tests.
var (
	metricsOnce sync.Once
	testMetrics *observability.Metrics
)

func metrics() *observability.Metrics {
	metricsOnce.Do(func() { testMetrics = observability.NewMetrics() })
	return testMetrics
}

// ==== Operation hook ====

func TestSiteHook_CountsOperations(t *testing.T) {
	m := metrics()
	h := observability.NewSiteHook(m)

	if !h.Actions().Contains(site.ActionFlashLiquidate) {
		t.Fatal("hook must subscribe to every action")
	}

	h.OnEvent(site.HookEvent{Stage: site.StageBefore, Action: site.ActionDeposit, Site: "hook-a"})
	h.OnEvent(site.HookEvent{Stage: site.StageAfter, Action: site.ActionDeposit, Site: "hook-a"})
	h.OnEvent(site.HookEvent{Stage: site.StageBefore, Action: site.ActionDeposit, Site: "hook-a"})
	h.OnEvent(site.HookEvent{Stage: site.StageAfter, Action: site.ActionDeposit, Site: "hook-a"})

	if got := testutil.ToFloat64(m.OpsApplied.WithLabelValues("hook-a", "deposit")); got != 2 {
		t.Errorf("ops applied: got %v, want 2", got)
	}

	h.OnEvent(site.HookEvent{Stage: site.StageBefore, Action: site.ActionBorrow, Site: "hook-a"})
	h.OnEvent(site.HookEvent{Stage: site.StageAfter, Action: site.ActionBorrow, Site: "hook-a", Err: site.ErrInsolventAfterBorrow})

	if got := testutil.ToFloat64(m.OpsRejected.WithLabelValues("hook-a", "borrow", "solvency")); got != 1 {
		t.Errorf("ops rejected (solvency): got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OpsApplied.WithLabelValues("hook-a", "borrow")); got != 0 {
		t.Errorf("failed borrow counted as applied: got %v", got)
	}
}

func TestSiteHook_StaleAndFlashCounters(t *testing.T) {
	m := metrics()
	h := observability.NewSiteHook(m)

	h.OnEvent(site.HookEvent{Stage: site.StageAfter, Action: site.ActionWithdraw, Site: "hook-b", Err: site.ErrStalePrice})
	if got := testutil.ToFloat64(m.StalePriceRejects.WithLabelValues("hook-b")); got != 1 {
		t.Errorf("stale rejects: got %v, want 1", got)
	}

	h.OnEvent(site.HookEvent{Stage: site.StageAfter, Action: site.ActionLiquidate, Site: "hook-b"})
	h.OnEvent(site.HookEvent{Stage: site.StageAfter, Action: site.ActionFlashLiquidate, Site: "hook-b"})
	if got := testutil.ToFloat64(m.Liquidations.WithLabelValues("hook-b", "standard")); got != 1 {
		t.Errorf("standard liquidations: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Liquidations.WithLabelValues("hook-b", "flash")); got != 1 {
		t.Errorf("flash liquidations: got %v, want 1", got)
	}

	h.OnEvent(site.HookEvent{Stage: site.StageAfter, Action: site.ActionFlashLiquidate, Site: "hook-b", Err: site.ErrFlashLiquidationNotRepaid})
	if got := testutil.ToFloat64(m.FlashRollbacks.WithLabelValues("hook-b")); got != 1 {
		t.Errorf("flash rollbacks: got %v, want 1", got)
	}
}

// ==== Gauge poller ====

func TestSitePoller_SnapshotsPoolGauges(t *testing.T) {
	m := metrics()

	s, err := site.New(site.Config{
		ConditionID: "poll-a",
		Params: site.RiskParams{
			MaxLtvBps:               7500,
			LiquidationThresholdBps: 8500,
			LiquidationTargetBps:    9000,
			LiquidationBonusBps:     500,
			GracePeriodSeconds:      3600,
		},
		Oracle: oracle.NewStatic(500_000, 500_000),
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new site: %v", err)
	}
	reg := registry.New()
	if err := reg.Add(s); err != nil {
		t.Fatalf("add site: %v", err)
	}

	if _, err := s.Deposit("lender", site.AssetQuote, 1000*unit, false); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := s.Deposit("alice", site.AssetYes, 1200*unit, false); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := s.Borrow("alice", 400*unit); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	p := observability.NewSitePoller(reg, m, 0, zerolog.Nop())
	p.Refresh()

	if got := testutil.ToFloat64(m.UtilizationBps.WithLabelValues("poll-a")); got != 4000 {
		t.Errorf("utilization: got %v, want 4000", got)
	}
	if got := testutil.ToFloat64(m.ResolutionState.WithLabelValues("poll-a")); got != 0 {
		t.Errorf("resolution state: got %v, want 0 (active)", got)
	}
	if got := testutil.ToFloat64(m.BorrowIndexWad.WithLabelValues("poll-a")); got != 1 {
		t.Errorf("borrow index: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BadDebt.WithLabelValues("poll-a")); got != 0 {
		t.Errorf("bad debt: got %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.ProtocolFees.WithLabelValues("poll-a", "pending")); got != 0 {
		t.Errorf("pending fees: got %v, want 0", got)
	}
}
