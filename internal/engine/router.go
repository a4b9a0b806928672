package engine

import (
	"context"
	"log"
	"strings"
	"sync"

	"oibot/internal/metrics"
	"oibot/internal/position"
)

// Router owns one worker goroutine per symbol and delivers every event
// for a symbol to that worker, in order.
type Router struct {
	mu      sync.RWMutex
	closed  bool
	workers map[string]chan Event
	engines map[string]*SymbolEngine

	newEngine func(symbol string) *SymbolEngine
	bufSize   int
	metrics   *metrics.Metrics

	ctx context.Context
	wg  sync.WaitGroup
}

// NewRouter creates a Router. newEngine builds the pipeline for a symbol
// the first time an event for it arrives.
func NewRouter(newEngine func(symbol string) *SymbolEngine, bufSize int, m *metrics.Metrics) *Router {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Router{
		workers:   make(map[string]chan Event),
		engines:   make(map[string]*SymbolEngine),
		newEngine: newEngine,
		bufSize:   bufSize,
		metrics:   m,
	}
}

// Start fixes the context used by workers. Must be called before Dispatch.
func (r *Router) Start(ctx context.Context) {
	r.ctx = ctx
}

// Engine returns the symbol's pipeline, creating it (and its worker) on
// first use.
func (r *Router) Engine(symbol string) *SymbolEngine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engineLocked(symbol)
}

func (r *Router) engineLocked(symbol string) *SymbolEngine {
	if eng, ok := r.engines[symbol]; ok {
		return eng
	}
	eng := r.newEngine(symbol)
	r.engines[symbol] = eng
	if !r.closed {
		ch := make(chan Event, r.bufSize)
		r.workers[symbol] = ch
		r.wg.Add(1)
		go r.run(eng, ch)
	}
	return eng
}

func (r *Router) run(eng *SymbolEngine, ch chan Event) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			eng.handle(r.ctx, ev)
		}
	}
}

// Dispatch routes an event to its symbol's worker. Ticks and open
// interest are dropped when the worker's queue is full so a stalled
// symbol cannot block ingestion; klines and order events always land.
// After Close the event is discarded. The read lock is held across the
// send so Close cannot close the channel under an in-flight Dispatch.
func (r *Router) Dispatch(symbol string, ev Event) {
	r.mu.RLock()
	ch, ok := r.workers[symbol]
	if !ok {
		r.mu.RUnlock()
		r.Engine(symbol)
		r.mu.RLock()
		ch = r.workers[symbol]
	}
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	switch ev.kind() {
	case "tick", "oi":
		select {
		case ch <- ev:
		default:
			if r.metrics != nil {
				r.metrics.EventsDropped.WithLabelValues(ev.kind()).Inc()
			}
			log.Printf("[engine] %s: worker queue full, dropping %s", symbol, ev.kind())
		}
	default:
		select {
		case ch <- ev:
		case <-r.ctx.Done():
		}
	}
}

// Close stops accepting events and waits for workers to drain. Safe to
// call while producers are still dispatching; their events are dropped.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, ch := range r.workers {
		close(ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// InstrumentedAlerter counts order failures before forwarding them.
type InstrumentedAlerter struct {
	Inner   position.Alerter // may be nil
	Metrics *metrics.Metrics
}

func (a *InstrumentedAlerter) OrderFailure(symbol, reason string) {
	if a.Metrics != nil {
		a.Metrics.OrderFailures.Inc()
		if strings.HasPrefix(reason, "exit") {
			a.Metrics.ExitRetries.Inc()
		}
	}
	if a.Inner != nil {
		a.Inner.OrderFailure(symbol, reason)
	}
}

func (a *InstrumentedAlerter) CriticalFailure(symbol, reason string) {
	if a.Metrics != nil {
		a.Metrics.CriticalFailures.Inc()
	}
	if a.Inner != nil {
		a.Inner.CriticalFailure(symbol, reason)
	}
}
