package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"oibot/internal/model"
)

// Fill records a simulated execution.
type Fill struct {
	Handle     model.OrderHandle `json:"handle"`
	Symbol     string            `json:"symbol"`
	Side       model.Direction   `json:"side"`
	Qty        float64           `json:"qty"`
	Price      float64           `json:"price"`
	Slippage   float64           `json:"slippage"`
	ReduceOnly bool              `json:"reduce_only"`
	FilledAt   time.Time         `json:"filled_at"`
}

// PaperSink simulates order execution without exchange calls: every order
// fills immediately at the last observed price, adjusted by a configurable
// slippage. Used in dry-run and replay.
type PaperSink struct {
	mu        sync.Mutex
	lastPrice map[string]float64
	fills     []Fill
	orderSeq  int64

	slippageBps float64 // basis points, adverse to the taker
	events      chan model.OrderEvent
	dropped     int64 // atomic
}

// NewPaperSink creates a paper sink. eventBuffer sizes the Events channel.
func NewPaperSink(eventBuffer int, slippageBps float64) *PaperSink {
	return &PaperSink{
		lastPrice:   make(map[string]float64),
		fills:       make([]Fill, 0, 1000),
		slippageBps: slippageBps,
		events:      make(chan model.OrderEvent, eventBuffer),
	}
}

// ObservePrice records the latest traded price used to fill subsequent
// orders for the symbol.
func (p *PaperSink) ObservePrice(symbol string, price float64) {
	p.mu.Lock()
	p.lastPrice[symbol] = price
	p.mu.Unlock()
}

// Events returns the stream of simulated fills and failures.
func (p *PaperSink) Events() <-chan model.OrderEvent {
	return p.events
}

// Fills returns a snapshot of all simulated executions.
func (p *PaperSink) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// PlaceEntry fills immediately at last price plus adverse slippage.
func (p *PaperSink) PlaceEntry(_ context.Context, symbol string, dir model.Direction, qty float64) (model.OrderHandle, error) {
	return p.fill(symbol, dir, qty, false)
}

// PlaceReduceOnly exits at last price plus adverse slippage. dir is the
// position's direction; the simulated order takes the opposite side.
func (p *PaperSink) PlaceReduceOnly(_ context.Context, symbol string, dir model.Direction, qty float64) (model.OrderHandle, error) {
	return p.fill(symbol, dir.Opposite(), qty, true)
}

// Cancel is a no-op: paper orders fill synchronously and are never resting.
func (p *PaperSink) Cancel(_ context.Context, handle model.OrderHandle) error {
	log.Printf("[paper] cancel %s: nothing resting", handle)
	return nil
}

func (p *PaperSink) fill(symbol string, side model.Direction, qty float64, reduceOnly bool) (model.OrderHandle, error) {
	p.mu.Lock()
	price, ok := p.lastPrice[symbol]
	if !ok || price <= 0 {
		p.mu.Unlock()
		return "", fmt.Errorf("paper: no observed price for %s", symbol)
	}

	slip := 0.0
	if p.slippageBps > 0 {
		slip = price * p.slippageBps / 10000
		if side == model.Long {
			price += slip // buy higher
		} else {
			price -= slip // sell lower
		}
	}

	p.orderSeq++
	handle := model.OrderHandle(fmt.Sprintf("PAPER-%d", p.orderSeq))
	now := time.Now().UTC()
	p.fills = append(p.fills, Fill{
		Handle: handle, Symbol: symbol, Side: side,
		Qty: qty, Price: price, Slippage: slip,
		ReduceOnly: reduceOnly, FilledAt: now,
	})
	p.mu.Unlock()

	log.Printf("[paper] %s %s qty=%v price=%v (slip=%v) reduceOnly=%v order=%s",
		side, symbol, qty, price, slip, reduceOnly, handle)

	// Non-blocking: fill runs inside the symbol worker, and the event
	// forwarder feeds that same worker. A blocking send here could wedge
	// the pair against each other when the buffer fills. A dropped fill
	// surfaces through the manager's entry timeout or exit retry.
	select {
	case p.events <- model.OrderEvent{
		Handle:    handle,
		Symbol:    symbol,
		FilledQty: qty,
		AvgPrice:  price,
		Time:      now,
	}:
	default:
		n := atomic.AddInt64(&p.dropped, 1)
		log.Printf("[paper] event buffer full, dropped fill %s (total %d)", handle, n)
	}
	return handle, nil
}

// DroppedEvents reports how many fill events were discarded because the
// Events buffer was full.
func (p *PaperSink) DroppedEvents() int64 {
	return atomic.LoadInt64(&p.dropped)
}
