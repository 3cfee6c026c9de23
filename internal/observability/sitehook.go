package observability

import (
	"errors"
	"sync"
	"time"

	"SiteLend/internal/site"
)

// SiteHook feeds the operation metrics from site hook events. Dispatch
// is serialized per site, so one in-flight start time per site is
// enough; the map guards cross-site concurrency.
type SiteHook struct {
	metrics *Metrics

	mu      sync.Mutex
	started map[string]time.Time
}

func NewSiteHook(m *Metrics) *SiteHook {
	return &SiteHook{metrics: m, started: make(map[string]time.Time)}
}

func (h *SiteHook) Actions() site.ActionSet { return site.AllActions() }

func (h *SiteHook) OnEvent(ev site.HookEvent) {
	if ev.Stage == site.StageBefore {
		h.mu.Lock()
		h.started[ev.Site] = time.Now()
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	start, ok := h.started[ev.Site]
	delete(h.started, ev.Site)
	h.mu.Unlock()
	if ok {
		h.metrics.OpDuration.WithLabelValues(ev.Action.String()).Observe(time.Since(start).Seconds())
	}

	if ev.Err != nil {
		h.metrics.OpsRejected.WithLabelValues(ev.Site, ev.Action.String(), rejectReason(ev.Err)).Inc()
		if errors.Is(ev.Err, site.ErrStalePrice) {
			h.metrics.StalePriceRejects.WithLabelValues(ev.Site).Inc()
		}
		if errors.Is(ev.Err, site.ErrFlashLiquidationNotRepaid) {
			h.metrics.FlashRollbacks.WithLabelValues(ev.Site).Inc()
		}
		return
	}

	h.metrics.OpsApplied.WithLabelValues(ev.Site, ev.Action.String()).Inc()
	switch ev.Action {
	case site.ActionLiquidate:
		h.metrics.Liquidations.WithLabelValues(ev.Site, "standard").Inc()
	case site.ActionFlashLiquidate:
		h.metrics.Liquidations.WithLabelValues(ev.Site, "flash").Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, site.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, site.ErrInsolventAfterBorrow),
		errors.Is(err, site.ErrInsolventAfterWithdrawal):
		return "solvency"
	case errors.Is(err, site.ErrInsufficientLiquidity):
		return "liquidity"
	case errors.Is(err, site.ErrFlashLiquidationNotRepaid):
		return "flash_unpaid"
	case errors.Is(err, site.ErrUserIsSolvent):
		return "solvent_target"
	case errors.Is(err, site.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "other"
	}
}
