// Package execution places orders through an execution sink: a live
// exchange connector or the paper simulator.
//
// Placement is fire-and-forget: PlaceEntry/PlaceReduceOnly return a handle
// immediately and the fill (or failure) arrives later on Events(). The
// lifecycle manager bridges that asynchrony.
package execution

import (
	"context"

	"oibot/internal/model"
)

// Sink accepts order intents and reports their outcomes asynchronously.
type Sink interface {
	// PlaceEntry opens or adds to a position in the given direction.
	PlaceEntry(ctx context.Context, symbol string, dir model.Direction, qty float64) (model.OrderHandle, error)

	// PlaceReduceOnly exits up to qty of an existing position in the given
	// direction. It never increases position size.
	PlaceReduceOnly(ctx context.Context, symbol string, dir model.Direction, qty float64) (model.OrderHandle, error)

	// Cancel withdraws a previously placed order if it has not filled.
	Cancel(ctx context.Context, handle model.OrderHandle) error

	// Events streams fills and failures for placed orders.
	Events() <-chan model.OrderEvent
}
