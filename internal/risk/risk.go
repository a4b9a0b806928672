// Package risk gates signals against portfolio-level guards and sizes
// accepted entries.
package risk

import (
	"log"
	"math"

	"oibot/internal/model"
	"oibot/internal/portfolio"
)

// Rejection reason codes, used as metric labels and in logs.
const (
	RejectMaxPositions  = "max_positions"
	RejectSessionClosed = "session_closed"
	RejectDailyDrawdown = "daily_drawdown"
	RejectMinVolume     = "min_volume"
	RejectBadQuantity   = "bad_quantity"
)

// Config holds guard thresholds and the sizing policy parameters.
//
// Sizing priority: a Notional override > 0 wins; otherwise RiskPct > 0
// selects risk-based sizing; otherwise PositionPct sizes as a percent of
// equity.
type Config struct {
	MaxPositions        int
	Sessions            []Session
	MaxDailyDrawdownPct float64 // halt when daily realized loss exceeds this percent
	MinVolume           float64

	Notional    float64
	Leverage    float64
	RiskPct     float64
	PositionPct float64

	// DefaultStopPct supplies a protective stop, as a percent of entry,
	// for signals that carry none (threshold mode has no swing structure
	// to anchor one).
	DefaultStopPct float64
}

// Decision carries the sizing for an accepted signal.
type Decision struct {
	Quantity  float64
	StopPrice float64
}

// Evaluator applies the guard chain and sizing policy. Guards run in a
// fixed order and the first failing one wins.
type Evaluator struct {
	cfg  Config
	book *portfolio.Book
}

// NewEvaluator creates an Evaluator reading portfolio state from book.
func NewEvaluator(cfg Config, book *portfolio.Book) *Evaluator {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &Evaluator{cfg: cfg, book: book}
}

// Evaluate checks the signal against every guard, then sizes the entry.
// ok=false comes with one of the Reject* reason codes.
func (e *Evaluator) Evaluate(sig *model.Signal) (Decision, bool, string) {
	if e.book.OpenCount() >= e.cfg.MaxPositions {
		return Decision{}, false, RejectMaxPositions
	}
	if !InAnySession(e.cfg.Sessions, sig.Time) {
		return Decision{}, false, RejectSessionClosed
	}
	if e.cfg.MaxDailyDrawdownPct > 0 && e.book.DailyDrawdownPct() <= -e.cfg.MaxDailyDrawdownPct {
		return Decision{}, false, RejectDailyDrawdown
	}
	if e.cfg.MinVolume > 0 && sig.Volume < e.cfg.MinVolume {
		return Decision{}, false, RejectMinVolume
	}

	stop := sig.StopPrice
	if stop <= 0 && e.cfg.DefaultStopPct > 0 && sig.Price > 0 {
		if sig.Direction == model.Long {
			stop = sig.Price * (1 - e.cfg.DefaultStopPct/100)
		} else {
			stop = sig.Price * (1 + e.cfg.DefaultStopPct/100)
		}
	}

	qty := e.quantity(sig, stop)
	if qty <= 0 || math.IsInf(qty, 0) || math.IsNaN(qty) {
		log.Printf("[risk] %s: unusable quantity %v (price=%v stop=%v)", sig.Symbol, qty, sig.Price, stop)
		return Decision{}, false, RejectBadQuantity
	}
	return Decision{Quantity: qty, StopPrice: stop}, true, ""
}

func (e *Evaluator) quantity(sig *model.Signal, stop float64) float64 {
	if sig.Price <= 0 {
		return 0
	}
	equity := e.book.Equity()

	switch {
	case e.cfg.Notional > 0:
		return e.cfg.Notional * e.cfg.Leverage / sig.Price
	case e.cfg.RiskPct > 0:
		dist := math.Abs(sig.Price - stop)
		if dist == 0 || stop <= 0 {
			return 0
		}
		return equity * e.cfg.RiskPct / 100 / dist
	default:
		return equity * e.cfg.PositionPct / 100 / sig.Price
	}
}
