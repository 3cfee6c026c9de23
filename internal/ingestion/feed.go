package ingestion

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"SiteLend/internal/observability"
	"SiteLend/internal/oracle"
	"SiteLend/internal/registry"
	"SiteLend/internal/site"
)

// Feed drains raw NATS messages, updates the oracle cache, and nudges the
// affected site when a resolution arrives. Messages are acked after the
// cache update; site errors are logged, not retried, since the cache
// already holds the outcome and the next operation will observe it.
type Feed struct {
	cache    *oracle.Cache
	registry *registry.Registry
	metrics  *observability.Metrics
	events   <-chan RawEvent
	log      zerolog.Logger
}

func NewFeed(cache *oracle.Cache, reg *registry.Registry, metrics *observability.Metrics, events <-chan RawEvent, log zerolog.Logger) *Feed {
	return &Feed{
		cache:    cache,
		registry: reg,
		metrics:  metrics,
		events:   events,
		log:      log,
	}
}

// Run processes messages until the context ends or the channel closes.
func (f *Feed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-f.events:
			if !ok {
				return nil
			}
			f.handle(raw)
		}
	}
}

func (f *Feed) handle(raw RawEvent) {
	switch {
	case strings.HasPrefix(raw.Subject, "sitelend.prices."):
		f.handlePrice(raw)
	case strings.HasPrefix(raw.Subject, "sitelend.resolution."):
		f.handleResolution(raw)
	default:
		f.log.Warn().Str("subject", raw.Subject).Msg("unknown subject")
		// Ack unroutable messages to avoid a redelivery loop.
		raw.AckFunc()
	}
}

func (f *Feed) handlePrice(raw RawEvent) {
	p, err := ParsePriceUpdate(raw.Data)
	if err != nil {
		f.log.Warn().Err(err).Str("subject", raw.Subject).Msg("bad price update")
		raw.AckFunc()
		return
	}
	f.cache.SetPrices(p.ConditionID, p.YesPrice, p.NoPrice, p.Timestamp)
	if f.metrics != nil {
		f.metrics.PriceUpdates.WithLabelValues(p.ConditionID).Inc()
		if age, ok := f.cache.PriceAge(p.ConditionID); ok {
			f.metrics.PriceAge.WithLabelValues(p.ConditionID).Set(age.Seconds())
		}
	}
	raw.AckFunc()
}

func (f *Feed) handleResolution(raw RawEvent) {
	r, err := ParseResolutionUpdate(raw.Data)
	if err != nil {
		f.log.Warn().Err(err).Str("subject", raw.Subject).Msg("bad resolution update")
		raw.AckFunc()
		return
	}
	winner, _ := ParseSide(r.Winner)
	f.cache.SetResolution(r.ConditionID, winner, r.Timestamp)
	raw.AckFunc()

	s, err := f.registry.Get(r.ConditionID)
	if err != nil {
		// No site for this market; the cache keeps the outcome anyway.
		f.log.Debug().Str("condition", r.ConditionID).Msg("resolution for unknown site")
		return
	}
	if err := s.HandleResolution(); err != nil {
		if errors.Is(err, site.ErrInvalidResolutionTransition) {
			f.log.Debug().Err(err).Str("condition", r.ConditionID).Msg("resolution already in progress")
			return
		}
		f.log.Error().Err(err).Str("condition", r.ConditionID).Msg("resolution handling failed")
	} else {
		f.log.Info().Str("condition", r.ConditionID).Stringer("winner", winner).Msg("resolution ingested")
	}
}
