package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// PositionState is the lifecycle state of a tracked position.
type PositionState string

const (
	// StateOpening: entry order sent, fill not yet confirmed.
	StateOpening PositionState = "OPENING"
	// StateOpen: entry filled, no take-profit level filled yet.
	StateOpen PositionState = "OPEN"
	// StatePartiallyClosed: at least one take-profit level filled.
	StatePartiallyClosed PositionState = "PARTIALLY_CLOSED"
	// StateClosed: terminal; stop hit or all levels filled.
	StateClosed PositionState = "CLOSED"
)

// TakeProfitLevel is one partial exit target. Levels are ordered by
// distance from entry; fractions across all levels sum to 1.0 at creation.
type TakeProfitLevel struct {
	Price    float64 `json:"price"`
	Fraction float64 `json:"fraction"`
	Filled   bool    `json:"filled"`
}

// Position is a tracked trade from entry through partial exits to closure.
// It is owned exclusively by the lifecycle manager for its symbol.
type Position struct {
	Symbol       string            `json:"symbol"`
	Direction    Direction         `json:"direction"`
	EntryPrice   float64           `json:"entry_price"`
	Quantity     float64           `json:"quantity"`      // original filled quantity
	RemainingQty float64           `json:"remaining_qty"` // quantity minus filled level quantities
	StopPrice    float64           `json:"stop_price"`
	TakeProfits  []TakeProfitLevel `json:"take_profits"`
	State        PositionState     `json:"state"`
	OpenedAt     time.Time         `json:"opened_at"`

	// Flagged marks a position whose exit could not be executed after
	// bounded retries; it requires external intervention.
	Flagged bool `json:"flagged,omitempty"`
}

// Validate checks the position's internal invariants.
func (p *Position) Validate() error {
	if p.Quantity <= 0 || math.IsNaN(p.Quantity) || math.IsInf(p.Quantity, 0) {
		return fmt.Errorf("position %s: quantity %v not positive finite", p.Symbol, p.Quantity)
	}
	sum := 0.0
	filledQty := 0.0
	for _, lvl := range p.TakeProfits {
		sum += lvl.Fraction
		if lvl.Filled {
			filledQty += lvl.Fraction * p.Quantity
		}
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("position %s: take-profit fractions sum to %v, want 1.0", p.Symbol, sum)
	}
	if math.Abs(p.RemainingQty-(p.Quantity-filledQty)) > 1e-9 {
		return fmt.Errorf("position %s: remaining qty %v inconsistent with filled levels", p.Symbol, p.RemainingQty)
	}
	return nil
}

// NextUnfilledLevel returns the index of the first unfilled take-profit
// level, or -1 if all are filled.
func (p *Position) NextUnfilledLevel() int {
	for i := range p.TakeProfits {
		if !p.TakeProfits[i].Filled {
			return i
		}
	}
	return -1
}

// RealizedPnL returns the realized profit for exiting qty at price.
func (p *Position) RealizedPnL(qty, price float64) float64 {
	if p.Direction == Long {
		return (price - p.EntryPrice) * qty
	}
	return (p.EntryPrice - price) * qty
}

// JSON returns the JSON-encoded position.
func (p *Position) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}

// PositionFromJSON reconstructs a position persisted mid-lifecycle.
func PositionFromJSON(data []byte) (*Position, error) {
	var p Position
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
