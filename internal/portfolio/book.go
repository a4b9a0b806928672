// Package portfolio tracks open positions and daily account aggregates.
//
// The Book is the single synchronization authority for cross-symbol state:
// open-position count, realized P&L and equity are only ever read or
// mutated through it, so per-symbol workers never share mutable state
// directly.
package portfolio

import (
	"log"
	"sync"
	"time"

	"oibot/internal/model"
)

// State is a point-in-time copy of the book, safe to serialize or publish.
type State struct {
	Positions      []model.Position `json:"positions"`
	Equity         float64          `json:"equity"`
	DayStartEquity float64          `json:"day_start_equity"`
	DailyRealized  float64          `json:"daily_realized"`
	Day            string           `json:"day"` // UTC date, YYYY-MM-DD
}

// Book holds all open positions plus the daily equity aggregates the risk
// guards read before every entry.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*model.Position

	equity         float64
	dayStartEquity float64
	dailyRealized  float64
	day            string // UTC date of the current trading day
}

// NewBook creates a Book with the given starting equity. The first event
// timestamp establishes the trading day.
func NewBook(initialEquity float64) *Book {
	return &Book{
		positions:      make(map[string]*model.Position),
		equity:         initialEquity,
		dayStartEquity: initialEquity,
	}
}

// HasOpen reports whether the symbol has a live position in any
// non-terminal state.
func (b *Book) HasOpen(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.positions[symbol]
	return ok
}

// OpenCount returns the number of live positions.
func (b *Book) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Get returns a copy of the symbol's position.
func (b *Book) Get(symbol string) (model.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// Put inserts or replaces the symbol's position.
func (b *Book) Put(pos model.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := pos
	b.positions[pos.Symbol] = &cp
}

// Remove drops the symbol's position, normally after it reaches a
// terminal state.
func (b *Book) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, symbol)
}

// RecordRealized applies a realized P&L increment from a fill or close.
func (b *Book) RecordRealized(pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyRealized += pnl
	b.equity += pnl
}

// Equity returns current account equity.
func (b *Book) Equity() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.equity
}

// DailyRealized returns realized P&L accumulated since the last daily reset.
func (b *Book) DailyRealized() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dailyRealized
}

// DailyDrawdownPct returns today's realized P&L as a percentage of
// day-start equity. Losses are negative.
func (b *Book) DailyDrawdownPct() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.dayStartEquity <= 0 {
		return 0
	}
	return b.dailyRealized / b.dayStartEquity * 100
}

// RollDay resets the daily aggregates when the UTC date of now differs
// from the current trading day. Open positions carry across the boundary.
func (b *Book) RollDay(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.day == day {
		return
	}
	if b.day != "" {
		log.Printf("[portfolio] daily reset: day=%s realized=%.2f equity=%.2f", b.day, b.dailyRealized, b.equity)
	}
	b.day = day
	b.dayStartEquity = b.equity
	b.dailyRealized = 0
}

// Snapshot returns a copy of the full book state.
func (b *Book) Snapshot() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := State{
		Positions:      make([]model.Position, 0, len(b.positions)),
		Equity:         b.equity,
		DayStartEquity: b.dayStartEquity,
		DailyRealized:  b.dailyRealized,
		Day:            b.day,
	}
	for _, p := range b.positions {
		st.Positions = append(st.Positions, *p)
	}
	return st
}

// Restore loads previously persisted positions and aggregates, used when
// resuming after a restart.
func (b *Book) Restore(st State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]*model.Position, len(st.Positions))
	for i := range st.Positions {
		cp := st.Positions[i]
		b.positions[cp.Symbol] = &cp
	}
	b.equity = st.Equity
	b.dayStartEquity = st.DayStartEquity
	b.dailyRealized = st.DailyRealized
	b.day = st.Day
}
