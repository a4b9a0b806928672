// Package strategy turns normalized market data into entry signals.
//
// Two mutually exclusive modes exist, selected once at configuration time
// and never switched at runtime: threshold mode compares price and
// open-interest percentage change over a rolling lookback window, and
// confluence mode requires multiple indicator conditions to align on each
// closed 5-minute bar.
package strategy

import (
	"oibot/internal/indicator"
	"oibot/internal/model"
)

// Strategy is the capability shared by both signal modes. A mode that does
// not consume an input type implements the method as a no-op.
type Strategy interface {
	// Name returns the mode name.
	Name() string

	// OnTick feeds a spot tick. Only threshold mode can emit here.
	OnTick(t model.Tick) *model.Signal

	// OnOpenInterest feeds an open-interest sample. Never emits directly.
	OnOpenInterest(oi model.OpenInterest)

	// OnClosedKline feeds a closed bar with its indicator snapshot.
	// Only confluence mode can emit here.
	OnClosedKline(k model.Kline, snap indicator.Snapshot) *model.Signal
}

// OpenChecker reports whether a position is already open for a symbol.
// The position lifecycle manager is the single source of truth here;
// strategies never track their own "in trade" flag.
type OpenChecker interface {
	HasOpen(symbol string) bool
}
