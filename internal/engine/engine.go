// Package engine wires market data, indicators, signal generation, risk
// and the position lifecycle into per-symbol pipelines.
//
// All events for one symbol are funneled onto one worker goroutine, so
// the lifecycle state machine and strategy state never see interleaved
// mutation. Different symbols run concurrently.
package engine

import (
	"context"
	"errors"
	"log"

	"oibot/internal/indicator"
	"oibot/internal/metrics"
	"oibot/internal/model"
	"oibot/internal/portfolio"
	"oibot/internal/position"
	"oibot/internal/risk"
	"oibot/internal/strategy"
)

// Event is one unit of per-symbol work. Exactly one field is set.
type Event struct {
	Tick  *model.Tick
	OI    *model.OpenInterest
	Kline *model.Kline
	Order *model.OrderEvent
}

func (e Event) kind() string {
	switch {
	case e.Tick != nil:
		return "tick"
	case e.OI != nil:
		return "oi"
	case e.Kline != nil:
		return "kline"
	case e.Order != nil:
		return "order"
	}
	return "empty"
}

// PriceObserver receives the latest traded price; the paper sink uses it
// to fill simulated orders.
type PriceObserver interface {
	ObservePrice(symbol string, price float64)
}

// SnapshotSink receives the per-bar indicator readout, e.g. for live
// publication.
type SnapshotSink interface {
	OnSnapshot(ctx context.Context, snap indicator.Snapshot)
}

// SignalRecorder persists emitted signals for audit.
type SignalRecorder interface {
	RecordSignal(sig *model.Signal)
}

// SymbolEngine processes one symbol's events in arrival order.
type SymbolEngine struct {
	symbol   string
	ind      *indicator.Engine
	strat    strategy.Strategy
	eval     *risk.Evaluator
	mgr      *position.Manager
	book     *portfolio.Book
	observer PriceObserver  // optional
	snaps    SnapshotSink   // optional
	signals  SignalRecorder // optional
	metrics  *metrics.Metrics
}

// Deps bundles the per-symbol collaborators a SymbolEngine needs.
type Deps struct {
	Indicators *indicator.Engine
	Strategy   strategy.Strategy
	Evaluator  *risk.Evaluator
	Manager    *position.Manager
	Book       *portfolio.Book
	Observer   PriceObserver
	Snapshots  SnapshotSink
	Signals    SignalRecorder
	Metrics    *metrics.Metrics
}

// NewSymbolEngine creates the pipeline for one symbol.
func NewSymbolEngine(symbol string, d Deps) *SymbolEngine {
	return &SymbolEngine{
		symbol:   symbol,
		ind:      d.Indicators,
		strat:    d.Strategy,
		eval:     d.Evaluator,
		mgr:      d.Manager,
		book:     d.Book,
		observer: d.Observer,
		snaps:    d.Snapshots,
		signals:  d.Signals,
		metrics:  d.Metrics,
	}
}

// Manager exposes the lifecycle manager, used to restore persisted
// positions before the pipeline starts.
func (s *SymbolEngine) Manager() *position.Manager { return s.mgr }

// Indicators exposes the indicator engine for periodic checkpointing.
func (s *SymbolEngine) Indicators() *indicator.Engine { return s.ind }

func (s *SymbolEngine) handle(ctx context.Context, ev Event) {
	switch {
	case ev.Tick != nil:
		s.onTick(ctx, *ev.Tick)
	case ev.OI != nil:
		s.count(func(m *metrics.Metrics) { m.OISamplesTotal.Inc() })
		s.strat.OnOpenInterest(*ev.OI)
	case ev.Kline != nil:
		s.onKline(ctx, *ev.Kline)
	case ev.Order != nil:
		s.onOrder(ctx, *ev.Order)
	}
}

func (s *SymbolEngine) onTick(ctx context.Context, t model.Tick) {
	s.count(func(m *metrics.Metrics) { m.TicksTotal.Inc() })
	s.book.RollDay(t.TickTS)
	if s.observer != nil {
		s.observer.ObservePrice(t.Symbol, t.Price)
	}

	// Exits before entries: a stop or take-profit on the open position
	// always outranks a fresh signal on the same tick.
	s.mgr.OnTick(ctx, t)

	if sig := s.strat.OnTick(t); sig != nil {
		s.onSignal(ctx, sig)
	}
	s.gauges()
}

func (s *SymbolEngine) onKline(ctx context.Context, k model.Kline) {
	s.book.RollDay(k.CloseTime)
	snap, err := s.ind.Update(k)
	if err != nil {
		if errors.Is(err, indicator.ErrOutOfOrder) || errors.Is(err, indicator.ErrDuplicate) {
			s.count(func(m *metrics.Metrics) { m.DataAnomalies.Inc() })
			log.Printf("[engine] %s: dropped anomalous kline close=%s: %v", k.Symbol, k.CloseTime, err)
		}
		return
	}
	s.count(func(m *metrics.Metrics) { m.KlinesTotal.Inc() })
	if s.snaps != nil {
		s.snaps.OnSnapshot(ctx, snap)
	}

	if sig := s.strat.OnClosedKline(k, snap); sig != nil {
		s.onSignal(ctx, sig)
	}
	s.gauges()
}

func (s *SymbolEngine) onSignal(ctx context.Context, sig *model.Signal) {
	s.count(func(m *metrics.Metrics) { m.SignalsTotal.WithLabelValues(s.strat.Name()).Inc() })
	if s.signals != nil {
		s.signals.RecordSignal(sig)
	}

	d, ok, reason := s.eval.Evaluate(sig)
	if !ok {
		s.count(func(m *metrics.Metrics) { m.SignalRejects.WithLabelValues(reason).Inc() })
		log.Printf("[engine] %s: signal rejected (%s): %s", sig.Symbol, reason, sig.Reason)
		return
	}
	sig.StopPrice = d.StopPrice
	s.count(func(m *metrics.Metrics) { m.OrdersPlaced.WithLabelValues("entry").Inc() })
	s.mgr.OnSignal(ctx, sig, d.Quantity)
}

func (s *SymbolEngine) onOrder(ctx context.Context, ev model.OrderEvent) {
	if ev.Failed {
		s.count(func(m *metrics.Metrics) { m.OrderFailures.Inc() })
	} else {
		s.count(func(m *metrics.Metrics) { m.FillsTotal.Inc() })
	}
	s.mgr.OnOrderEvent(ctx, ev)
	s.gauges()
}

func (s *SymbolEngine) count(fn func(*metrics.Metrics)) {
	if s.metrics != nil {
		fn(s.metrics)
	}
}

func (s *SymbolEngine) gauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.OpenPositions.Set(float64(s.book.OpenCount()))
	s.metrics.DailyRealizedPnL.Set(s.book.DailyRealized())
	s.metrics.Equity.Set(s.book.Equity())
}
