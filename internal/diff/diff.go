// Package diff decides whether a freshly scraped price/stock observation is
// new information worth persisting, and which notification events it signals.
package diff

import "time"

// DefaultFreshnessWindow is how long an unchanged price stays fresh before a
// confirming row is written anyway.
const DefaultFreshnessWindow = 12 * time.Hour

// Observation is a scraped price/stock snapshot for one variant listing.
type Observation struct {
	PriceInCents int
	InStock      bool
	ObservedAt   time.Time
}

// LastPrice is the most recently persisted observation, nil when the variant
// has no history yet.
type LastPrice struct {
	PriceInCents int
	InStock      bool
	ObservedAt   time.Time
}

// Result carries the three independent classification booleans. They may
// co-occur: a single observation can be outdated, a price drop, and a restock
// at once.
type Result struct {
	// IsOutdated is the sole gate for writing a new price row. It bounds
	// table growth when nothing changed.
	IsOutdated bool
	// HasPriceDropped is true iff the new price is strictly below the old.
	HasPriceDropped bool
	// HasRestocked is true iff stock transitioned false to true.
	HasRestocked bool
}

// Classify compares an observation against the last persisted price. With no
// prior price the observation is a baseline: persisted, but never an event.
// Otherwise the observation is outdated when the price changed, the stock
// changed, or the last row is older than the freshness window.
func Classify(obs Observation, last *LastPrice, freshnessWindow time.Duration) Result {
	if last == nil {
		return Result{IsOutdated: true}
	}

	isStale := obs.ObservedAt.Sub(last.ObservedAt) >= freshnessWindow
	hasPriceChanged := obs.PriceInCents != last.PriceInCents
	hasStockChanged := obs.InStock != last.InStock

	return Result{
		IsOutdated:      isStale || hasPriceChanged || hasStockChanged,
		HasPriceDropped: obs.PriceInCents < last.PriceInCents,
		HasRestocked:    obs.InStock && !last.InStock,
	}
}
