package observability

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"SiteLend/internal/registry"
)

// SitePoller refreshes the per-site gauge metrics from registry
// snapshots. Counters stay with the event hook; everything here is a
// point-in-time read of pool state.
type SitePoller struct {
	registry *registry.Registry
	metrics  *Metrics
	interval time.Duration
	log      zerolog.Logger
}

func NewSitePoller(reg *registry.Registry, m *Metrics, interval time.Duration, log zerolog.Logger) *SitePoller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SitePoller{registry: reg, metrics: m, interval: interval, log: log}
}

// Run refreshes on the interval until the context is cancelled.
func (p *SitePoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh()
		}
	}
}

// Refresh snapshots every registered site into the gauges.
func (p *SitePoller) Refresh() {
	for _, condition := range p.registry.Conditions() {
		st, err := p.registry.Get(condition)
		if err != nil {
			continue
		}
		info, err := st.Info()
		if err != nil {
			p.log.Debug().Err(err).Str("condition", condition).Msg("site snapshot skipped")
			continue
		}
		m := p.metrics
		m.UtilizationBps.WithLabelValues(condition).Set(float64(info.UtilizationBps))
		m.BorrowRateRay.WithLabelValues(condition).Set(scaledToFloat(info.BorrowRateRay, 27))
		m.BorrowIndexWad.WithLabelValues(condition).Set(scaledToFloat(info.BorrowIndex, 18))
		m.ProtocolFees.WithLabelValues(condition, "pending").Set(float64(info.PendingFees))
		m.ProtocolFees.WithLabelValues(condition, "harvested").Set(float64(info.HarvestedFees))
		m.BadDebt.WithLabelValues(condition).Set(float64(info.TotalBadDebt))
		m.ResolutionState.WithLabelValues(condition).Set(resolutionStateCode(info.State))
	}
}

func resolutionStateCode(state string) float64 {
	switch state {
	case "ACTIVE":
		return 0
	case "RESOLVING":
		return 1
	case "RESOLVED":
		return 2
	case "DISPUTED":
		return 3
	default:
		return -1
	}
}

// scaledToFloat converts a base-10 fixed-point integer string to a
// float at the given decimal scale. Unparseable input reads as 0.
func scaledToFloat(s string, decimals int64) float64 {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil)
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), new(big.Float).SetInt(scale)).Float64()
	return f
}
