// Package position runs the per-symbol trade lifecycle: entry order,
// partial take-profits, stop exit, closure.
//
// A Manager owns exactly one symbol's position and must only be driven
// from that symbol's event goroutine. Cross-symbol aggregates live in the
// portfolio Book, which does its own locking.
package position

import (
	"context"
	"log"
	"math"
	"time"

	"oibot/internal/execution"
	"oibot/internal/model"
	"oibot/internal/portfolio"
)

const qtyEpsilon = 1e-9

// stopExit marks a pending exit as a stop-loss rather than a take-profit
// level index.
const stopExit = -1

// Alerter surfaces order failures that must not stay buried in logs.
type Alerter interface {
	OrderFailure(symbol, reason string)
	CriticalFailure(symbol, reason string)
}

// Journal persists every position state change for post-restart resume
// and audit.
type Journal interface {
	RecordPosition(p model.Position)
}

// Config tunes the lifecycle state machine.
type Config struct {
	// EntryTimeout bounds how long an entry order may stay unconfirmed
	// before the manager reverts to idle.
	EntryTimeout time.Duration
	// MaxExitRetries bounds reduce-only retry attempts before the
	// position is flagged for external intervention.
	MaxExitRetries int
	// TPRatios are risk-reward multiples for the take-profit levels,
	// nearest first. TPFractions are the matching position fractions and
	// must sum to 1.0 (validated by configuration before reaching here).
	TPRatios    []float64
	TPFractions []float64
}

type entryOrder struct {
	handle   model.OrderHandle
	dir      model.Direction
	qty      float64
	stop     float64
	signalAt time.Time
	deadline time.Time
}

type exitOrder struct {
	handle model.OrderHandle
	level  int // take-profit index, or stopExit
	qty    float64
}

// Manager is the state machine for one symbol.
type Manager struct {
	symbol  string
	cfg     Config
	book    *portfolio.Book
	sink    execution.Sink
	policy  StopPolicy // optional
	alert   Alerter    // optional
	journal Journal    // optional

	pos          *model.Position
	pendingEntry *entryOrder
	pendingExit  *exitOrder
	exitRetries  int
}

// NewManager creates a Manager for one symbol. policy, alert and journal
// may be nil.
func NewManager(symbol string, cfg Config, book *portfolio.Book, sink execution.Sink, policy StopPolicy, alert Alerter, journal Journal) *Manager {
	if cfg.MaxExitRetries <= 0 {
		cfg.MaxExitRetries = 3
	}
	if cfg.EntryTimeout <= 0 {
		cfg.EntryTimeout = 30 * time.Second
	}
	return &Manager{
		symbol:  symbol,
		cfg:     cfg,
		book:    book,
		sink:    sink,
		policy:  policy,
		alert:   alert,
		journal: journal,
	}
}

// Position returns a copy of the tracked position, if any.
func (m *Manager) Position() (model.Position, bool) {
	if m.pos == nil {
		return model.Position{}, false
	}
	return *m.pos, true
}

// Idle reports whether the manager can accept a new signal.
func (m *Manager) Idle() bool {
	return m.pos == nil && m.pendingEntry == nil
}

// Restore resumes a persisted position after a restart.
func (m *Manager) Restore(p model.Position) {
	cp := p
	m.pos = &cp
	m.book.Put(cp)
}

// OnSignal places the entry order for an accepted, sized signal. Signals
// arriving while a position or entry is in flight are dropped.
func (m *Manager) OnSignal(ctx context.Context, sig *model.Signal, qty float64) {
	if !m.Idle() {
		return
	}
	handle, err := m.sink.PlaceEntry(ctx, sig.Symbol, sig.Direction, qty)
	if err != nil {
		log.Printf("[position] %s: entry placement failed: %v", sig.Symbol, err)
		m.surfaceOrderFailure(err.Error())
		return
	}
	m.pendingEntry = &entryOrder{
		handle:   handle,
		dir:      sig.Direction,
		qty:      qty,
		stop:     sig.StopPrice,
		signalAt: sig.Time,
		deadline: sig.Time.Add(m.cfg.EntryTimeout),
	}
	m.pos = &model.Position{
		Symbol:       sig.Symbol,
		Direction:    sig.Direction,
		Quantity:     qty,
		RemainingQty: qty,
		StopPrice:    sig.StopPrice,
		State:        model.StateOpening,
		OpenedAt:     sig.Time,
	}
	m.book.Put(*m.pos)
	log.Printf("[position] %s: %s entry qty=%v stop=%v order=%s (%s)",
		sig.Symbol, sig.Direction, qty, sig.StopPrice, handle, sig.Reason)
}

// OnOrderEvent applies a fill or failure from the execution sink.
func (m *Manager) OnOrderEvent(ctx context.Context, ev model.OrderEvent) {
	switch {
	case m.pendingEntry != nil && ev.Handle == m.pendingEntry.handle:
		m.applyEntryEvent(ev)
	case m.pendingExit != nil && ev.Handle == m.pendingExit.handle:
		m.applyExitEvent(ctx, ev)
	}
}

func (m *Manager) applyEntryEvent(ev model.OrderEvent) {
	entry := m.pendingEntry
	m.pendingEntry = nil

	if ev.Failed {
		log.Printf("[position] %s: entry order %s failed: %s", m.symbol, ev.Handle, ev.Reason)
		m.book.Remove(m.symbol)
		m.pos = nil
		m.surfaceOrderFailure("entry failed: " + ev.Reason)
		return
	}

	risk := math.Abs(ev.AvgPrice - entry.stop)
	levels := make([]model.TakeProfitLevel, len(m.cfg.TPRatios))
	for i, ratio := range m.cfg.TPRatios {
		price := ev.AvgPrice + ratio*risk
		if entry.dir == model.Short {
			price = ev.AvgPrice - ratio*risk
		}
		levels[i] = model.TakeProfitLevel{Price: price, Fraction: m.cfg.TPFractions[i]}
	}

	m.pos.EntryPrice = ev.AvgPrice
	m.pos.Quantity = ev.FilledQty
	m.pos.RemainingQty = ev.FilledQty
	m.pos.TakeProfits = levels
	m.pos.State = model.StateOpen
	m.pos.OpenedAt = ev.Time
	m.book.Put(*m.pos)
	m.record()
	log.Printf("[position] %s: open %s qty=%v entry=%v stop=%v tps=%d",
		m.symbol, m.pos.Direction, m.pos.Quantity, m.pos.EntryPrice, m.pos.StopPrice, len(levels))
}

func (m *Manager) applyExitEvent(ctx context.Context, ev model.OrderEvent) {
	exit := m.pendingExit
	m.pendingExit = nil

	if ev.Failed {
		log.Printf("[position] %s: exit order %s failed: %s", m.symbol, ev.Handle, ev.Reason)
		m.retryExit(ctx, exit, ev.Reason)
		return
	}

	m.exitRetries = 0
	pnl := m.pos.RealizedPnL(ev.FilledQty, ev.AvgPrice)
	m.book.RecordRealized(pnl)

	if exit.level == stopExit {
		m.pos.RemainingQty = 0
		m.close("stop", pnl)
		return
	}

	m.pos.TakeProfits[exit.level].Filled = true
	m.pos.RemainingQty -= ev.FilledQty
	if m.pos.RemainingQty < qtyEpsilon || m.pos.NextUnfilledLevel() == stopExit {
		m.pos.RemainingQty = 0
		m.close("take-profit", pnl)
		return
	}
	m.pos.State = model.StatePartiallyClosed
	m.book.Put(*m.pos)
	m.record()
	log.Printf("[position] %s: tp%d filled qty=%v price=%v pnl=%.4f remaining=%v",
		m.symbol, exit.level+1, ev.FilledQty, ev.AvgPrice, pnl, m.pos.RemainingQty)
}

// OnTick drives exits: entry timeout, stop check (always first), take
// profits and stop-policy tightening.
func (m *Manager) OnTick(ctx context.Context, t model.Tick) {
	if m.pendingEntry != nil {
		if t.TickTS.After(m.pendingEntry.deadline) {
			m.abandonEntry(ctx, t)
		}
		return
	}
	if m.pos == nil || m.pos.Flagged || m.pendingExit != nil {
		return
	}
	if m.pos.State != model.StateOpen && m.pos.State != model.StatePartiallyClosed {
		return
	}

	price := t.Price
	if m.stopHit(price) {
		m.placeExit(ctx, stopExit, m.pos.RemainingQty)
		return
	}

	if idx := m.pos.NextUnfilledLevel(); idx != stopExit && m.tpHit(idx, price) {
		qty := m.pos.TakeProfits[idx].Fraction * m.pos.Quantity
		if qty > m.pos.RemainingQty {
			qty = m.pos.RemainingQty
		}
		m.placeExit(ctx, idx, qty)
		return
	}

	if m.policy != nil {
		if newStop, ok := m.policy.Adjust(*m.pos, price); ok && m.tightens(newStop, price) {
			log.Printf("[position] %s: stop %v -> %v", m.symbol, m.pos.StopPrice, newStop)
			m.pos.StopPrice = newStop
			m.book.Put(*m.pos)
			m.record()
		}
	}
}

func (m *Manager) stopHit(price float64) bool {
	if m.pos.Direction == model.Long {
		return price <= m.pos.StopPrice
	}
	return price >= m.pos.StopPrice
}

func (m *Manager) tpHit(idx int, price float64) bool {
	target := m.pos.TakeProfits[idx].Price
	if m.pos.Direction == model.Long {
		return price >= target
	}
	return price <= target
}

// tightens reports whether newStop moves the stop strictly toward price
// without crossing it. Stops never loosen.
func (m *Manager) tightens(newStop, price float64) bool {
	if m.pos.Direction == model.Long {
		return newStop > m.pos.StopPrice && newStop < price
	}
	return newStop < m.pos.StopPrice && newStop > price
}

func (m *Manager) abandonEntry(ctx context.Context, t model.Tick) {
	entry := m.pendingEntry
	m.pendingEntry = nil
	m.pos = nil
	m.book.Remove(m.symbol)
	if err := m.sink.Cancel(ctx, entry.handle); err != nil {
		log.Printf("[position] %s: cancel %s failed: %v", m.symbol, entry.handle, err)
	}
	log.Printf("[position] %s: entry order %s unconfirmed after %v, reverting to idle",
		m.symbol, entry.handle, m.cfg.EntryTimeout)
	m.surfaceOrderFailure("entry unconfirmed within timeout")
}

// placeExit sends a reduce-only order, retrying placement errors up to the
// configured bound before flagging the position.
func (m *Manager) placeExit(ctx context.Context, level int, qty float64) {
	for {
		handle, err := m.sink.PlaceReduceOnly(ctx, m.symbol, m.pos.Direction, qty)
		if err == nil {
			m.pendingExit = &exitOrder{handle: handle, level: level, qty: qty}
			return
		}
		log.Printf("[position] %s: reduce-only placement failed: %v", m.symbol, err)
		m.exitRetries++
		if m.exitRetries > m.cfg.MaxExitRetries {
			m.flagCritical(err.Error())
			return
		}
		m.surfaceOrderFailure("exit placement failed: " + err.Error())
	}
}

func (m *Manager) retryExit(ctx context.Context, exit *exitOrder, reason string) {
	m.exitRetries++
	if m.exitRetries > m.cfg.MaxExitRetries {
		m.flagCritical(reason)
		return
	}
	m.surfaceOrderFailure("exit failed, retrying: " + reason)
	m.placeExit(ctx, exit.level, exit.qty)
}

// flagCritical marks the position unmanageable. It stays in its last
// known state until an operator intervenes.
func (m *Manager) flagCritical(reason string) {
	m.pos.Flagged = true
	m.book.Put(*m.pos)
	m.record()
	log.Printf("[position] %s: CRITICAL: exit failed %d times, position flagged: %s",
		m.symbol, m.exitRetries, reason)
	if m.alert != nil {
		m.alert.CriticalFailure(m.symbol, reason)
	}
}

func (m *Manager) close(trigger string, lastPnL float64) {
	m.pos.State = model.StateClosed
	m.record()
	m.book.Remove(m.symbol)
	log.Printf("[position] %s: closed via %s, last fill pnl=%.4f, daily realized=%.4f",
		m.symbol, trigger, lastPnL, m.book.DailyRealized())
	m.pos = nil
	m.exitRetries = 0
}

func (m *Manager) surfaceOrderFailure(reason string) {
	if m.alert != nil {
		m.alert.OrderFailure(m.symbol, reason)
	}
}

func (m *Manager) record() {
	if m.journal != nil && m.pos != nil {
		m.journal.RecordPosition(*m.pos)
	}
}
