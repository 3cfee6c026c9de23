package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"SiteLend/internal/fpmath"
	"SiteLend/internal/site"
)

// PriceUpdate is the JSON payload on sitelend.prices.<condition>.
type PriceUpdate struct {
	ConditionID string    `json:"condition_id"`
	YesPrice    int64     `json:"yes_price"`
	NoPrice     int64     `json:"no_price"`
	Timestamp   time.Time `json:"timestamp"`
}

// ResolutionUpdate is the JSON payload on sitelend.resolution.<condition>.
type ResolutionUpdate struct {
	ConditionID string    `json:"condition_id"`
	Winner      string    `json:"winner"`
	Timestamp   time.Time `json:"timestamp"`
}

// ParsePriceUpdate validates and decodes a price message. Prices are 1e6
// fixed point and must lie in [0, 1.0]; binary market sides cannot trade
// above par.
func ParsePriceUpdate(data []byte) (*PriceUpdate, error) {
	var p PriceUpdate
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("price update: %w", err)
	}
	if p.ConditionID == "" {
		return nil, fmt.Errorf("price update: missing condition_id")
	}
	if p.YesPrice < 0 || p.YesPrice > fpmath.PriceScale {
		return nil, fmt.Errorf("price update: yes_price %d out of [0, %d]", p.YesPrice, fpmath.PriceScale)
	}
	if p.NoPrice < 0 || p.NoPrice > fpmath.PriceScale {
		return nil, fmt.Errorf("price update: no_price %d out of [0, %d]", p.NoPrice, fpmath.PriceScale)
	}
	if p.Timestamp.IsZero() {
		return nil, fmt.Errorf("price update: missing timestamp")
	}
	return &p, nil
}

// ParseResolutionUpdate validates and decodes a resolution message.
func ParseResolutionUpdate(data []byte) (*ResolutionUpdate, error) {
	var r ResolutionUpdate
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("resolution update: %w", err)
	}
	if r.ConditionID == "" {
		return nil, fmt.Errorf("resolution update: missing condition_id")
	}
	if _, err := ParseSide(r.Winner); err != nil {
		return nil, err
	}
	if r.Timestamp.IsZero() {
		return nil, fmt.Errorf("resolution update: missing timestamp")
	}
	return &r, nil
}

// ParseSide converts the wire winner string to a side.
func ParseSide(s string) (site.Side, error) {
	switch s {
	case "YES":
		return site.SideYes, nil
	case "NO":
		return site.SideNo, nil
	default:
		return site.SideNone, fmt.Errorf("resolution update: invalid winner %q", s)
	}
}
