// Package indicator provides incremental technical indicators over closed
// kline bars.
//
// Every indicator keeps only its recurrence state (last EMA value, rolling
// sums), never a bar history, so memory is O(streams), not O(bars). Values
// are undefined until a minimum warm-up count of closed bars has been seen;
// until then Ready() reports false and consumers must not act on Value().
package indicator

import "oibot/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g. "EMA", "RSI").
	Name() string

	// Update feeds a closed bar and recalculates.
	Update(k model.Kline)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when the warm-up window has been accumulated.
	Ready() bool

	// Reset clears all state so warm-up re-accumulates from scratch.
	Reset()
}

// Value pairs an indicator reading with its readiness. A not-ready value
// must be ignored by strategies.
type Value struct {
	V     float64 `json:"v"`
	Ready bool    `json:"ready"`
}

func reading(ind Indicator) Value {
	return Value{V: ind.Value(), Ready: ind.Ready()}
}
