// Package oracle provides price and resolution feeds for prediction
// markets. The Cache implementation is fed by the NATS ingestion layer;
// Static serves fixed values for tests and local runs.
package oracle

import (
	"fmt"
	"sync"
	"time"

	"SiteLend/internal/site"
)

// ErrUnknownCondition is returned for markets the oracle has never seen.
var ErrUnknownCondition = fmt.Errorf("oracle: unknown condition")

type entry struct {
	yesPrice   int64
	noPrice    int64
	updatedAt  time.Time
	resolved   bool
	winner     site.Side
	resolvedAt time.Time
}

// Cache is a freshness-aware in-memory oracle. Writers are the ingestion
// subscribers; readers are the sites.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	maxAge  time.Duration
	now     func() time.Time
}

// NewCache creates a cache that treats prices older than maxAge as stale.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// SetClock overrides the wall clock, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SetPrices records a fresh YES/NO price pair for the condition.
func (c *Cache) SetPrices(conditionID string, yesPrice, noPrice int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[conditionID]
	if !ok {
		e = &entry{}
		c.entries[conditionID] = e
	}
	// Out-of-order updates never roll the price back.
	if at.Before(e.updatedAt) {
		return
	}
	e.yesPrice = yesPrice
	e.noPrice = noPrice
	e.updatedAt = at
}

// SetResolution records the market outcome. Resolution is sticky; later
// price updates do not clear it.
func (c *Cache) SetResolution(conditionID string, winner site.Side, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[conditionID]
	if !ok {
		e = &entry{}
		c.entries[conditionID] = e
	}
	e.resolved = true
	e.winner = winner
	e.resolvedAt = at
}

// ClearResolution drops a recorded outcome after an admin cancellation.
func (c *Cache) ClearResolution(conditionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[conditionID]; ok {
		e.resolved = false
		e.winner = site.SideNone
	}
}

// PriceAge returns the age of the freshest price, or false if none.
func (c *Cache) PriceAge(conditionID string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[conditionID]
	if !ok || e.updatedAt.IsZero() {
		return 0, false
	}
	return c.now().Sub(e.updatedAt), true
}

func (c *Cache) GetYesPrice(conditionID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[conditionID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCondition, conditionID)
	}
	return e.yesPrice, nil
}

func (c *Cache) GetNoPrice(conditionID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[conditionID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCondition, conditionID)
	}
	return e.noPrice, nil
}

func (c *Cache) IsResolved(conditionID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[conditionID]
	if !ok {
		return false, nil
	}
	return e.resolved, nil
}

func (c *Cache) GetResolution(conditionID string) (site.Side, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[conditionID]
	if !ok || !e.resolved {
		return site.SideNone, fmt.Errorf("%w: %s not resolved", ErrUnknownCondition, conditionID)
	}
	return e.winner, nil
}

func (c *Cache) IsPriceFresh(conditionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[conditionID]
	if !ok || e.updatedAt.IsZero() {
		return false
	}
	return c.now().Sub(e.updatedAt) <= c.maxAge
}

// Static is a fixed-value oracle for tests and local development.
type Static struct {
	mu       sync.RWMutex
	YesPrice int64
	NoPrice  int64
	Resolved bool
	Winner   site.Side
	Fresh    bool
}

// NewStatic builds a fresh static oracle with the given prices.
func NewStatic(yesPrice, noPrice int64) *Static {
	return &Static{YesPrice: yesPrice, NoPrice: noPrice, Fresh: true}
}

// Update swaps the prices.
func (s *Static) Update(yesPrice, noPrice int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.YesPrice = yesPrice
	s.NoPrice = noPrice
}

// Resolve marks the market resolved with the given winner.
func (s *Static) Resolve(winner site.Side) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resolved = true
	s.Winner = winner
}

// SetFresh toggles the freshness flag.
func (s *Static) SetFresh(fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fresh = fresh
}

func (s *Static) GetYesPrice(string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.YesPrice, nil
}

func (s *Static) GetNoPrice(string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NoPrice, nil
}

func (s *Static) IsResolved(string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Resolved, nil
}

func (s *Static) GetResolution(string) (site.Side, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Winner, nil
}

func (s *Static) IsPriceFresh(string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fresh
}
