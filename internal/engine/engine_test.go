package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oibot/internal/execution"
	"oibot/internal/indicator"
	"oibot/internal/model"
	"oibot/internal/portfolio"
	"oibot/internal/position"
	"oibot/internal/risk"
	"oibot/internal/strategy"
)

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type pipeline struct {
	eng   *SymbolEngine
	book  *portfolio.Book
	paper *execution.PaperSink
}

// thresholdPipeline wires a complete single-symbol pipeline in threshold
// mode backed by the paper sink.
func thresholdPipeline(symbol string) *pipeline {
	book := portfolio.NewBook(10000)
	paper := execution.NewPaperSink(64, 0)
	eval := risk.NewEvaluator(risk.Config{
		MaxPositions:   5,
		Notional:       50,
		DefaultStopPct: 2,
	}, book)
	strat := strategy.NewThreshold(strategy.ThresholdConfig{
		PriceChangePct: 2.5,
		OIChangePct:    1.5,
		Lookback:       5 * time.Minute,
	})
	mgr := position.NewManager(symbol, position.Config{
		EntryTimeout:   30 * time.Second,
		MaxExitRetries: 3,
		TPRatios:       []float64{1.0, 1.5},
		TPFractions:    []float64{0.5, 0.5},
	}, book, paper, nil, nil, nil)

	eng := NewSymbolEngine(symbol, Deps{
		Indicators: indicator.NewEngine(indicator.Config{
			EMAFast: 9, EMAMid: 21, EMASlow: 50,
			MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
			RSIPeriod: 14, ATRPeriod: 14,
		}),
		Strategy:  strat,
		Evaluator: eval,
		Manager:   mgr,
		Book:      book,
		Observer:  paper,
	})
	return &pipeline{eng: eng, book: book, paper: paper}
}

// pump delivers all queued sink events back into the pipeline, as the
// live wiring does.
func (p *pipeline) pump(ctx context.Context, t *testing.T) {
	t.Helper()
	for {
		select {
		case ev := <-p.paper.Events():
			p.eng.handle(ctx, Event{Order: &ev})
		default:
			return
		}
	}
}

func (p *pipeline) tick(ctx context.Context, price float64, ts time.Time) {
	tk := model.Tick{Symbol: "BTCUSDT", Price: price, Qty: 1, TickTS: ts}
	p.eng.handle(ctx, Event{Tick: &tk})
}

func (p *pipeline) oi(ctx context.Context, value float64, ts time.Time) {
	s := model.OpenInterest{Symbol: "BTCUSDT", Value: value, SampledAt: ts}
	p.eng.handle(ctx, Event{OI: &s})
}

func TestPipeline_ThresholdSignalToOpenPosition(t *testing.T) {
	ctx := context.Background()
	p := thresholdPipeline("BTCUSDT")

	p.oi(ctx, 1000, t0)
	p.tick(ctx, 100, t0)
	assert.False(t, p.book.HasOpen("BTCUSDT"))

	// +3% price, +2% OI inside the window: signal, sized at 50 notional,
	// filled by the paper sink.
	p.oi(ctx, 1020, t0.Add(time.Minute))
	p.tick(ctx, 103, t0.Add(time.Minute))
	p.pump(ctx, t)

	require.True(t, p.book.HasOpen("BTCUSDT"))
	pos, ok := p.eng.Manager().Position()
	require.True(t, ok)
	assert.Equal(t, model.StateOpen, pos.State)
	assert.InDelta(t, 103.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 50.0/103.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 103*0.98, pos.StopPrice, 1e-9) // default stop pct
	require.NoError(t, pos.Validate())
}

func TestPipeline_TakeProfitThenStopClosesOut(t *testing.T) {
	ctx := context.Background()
	p := thresholdPipeline("BTCUSDT")

	p.oi(ctx, 1000, t0)
	p.tick(ctx, 100, t0)
	p.oi(ctx, 1020, t0.Add(time.Minute))
	p.tick(ctx, 103, t0.Add(time.Minute))
	p.pump(ctx, t)

	pos, ok := p.eng.Manager().Position()
	require.True(t, ok)
	tp1 := pos.TakeProfits[0].Price

	// Overshoot TP1 by more than the later stop undershoot so the two
	// legs cannot net to zero.
	p.tick(ctx, tp1+0.5, t0.Add(2*time.Minute))
	p.pump(ctx, t)
	pos, ok = p.eng.Manager().Position()
	require.True(t, ok)
	assert.Equal(t, model.StatePartiallyClosed, pos.State)
	assert.InDelta(t, pos.Quantity/2, pos.RemainingQty, 1e-9)

	p.tick(ctx, pos.StopPrice-0.01, t0.Add(3*time.Minute))
	p.pump(ctx, t)
	_, ok = p.eng.Manager().Position()
	assert.False(t, ok)
	assert.False(t, p.book.HasOpen("BTCUSDT"))
	assert.Greater(t, p.book.DailyRealized(), 0.0)
}

func TestPipeline_FormingBarDoesNotReachStrategy(t *testing.T) {
	ctx := context.Background()
	p := thresholdPipeline("BTCUSDT")

	k := model.Kline{
		Symbol: "BTCUSDT", Timeframe: "5m",
		Open: 100, High: 101, Low: 99, Close: 100, Volume: 10,
		CloseTime: t0, Closed: false,
	}
	p.eng.handle(ctx, Event{Kline: &k})
	assert.False(t, p.book.HasOpen("BTCUSDT"))
}

// sequenceObserver records observed prices per symbol.
type sequenceObserver struct {
	mu   sync.Mutex
	seen map[string][]float64
}

func (o *sequenceObserver) ObservePrice(symbol string, price float64) {
	o.mu.Lock()
	o.seen[symbol] = append(o.seen[symbol], price)
	o.mu.Unlock()
}

// quietEngineFactory builds pipelines whose thresholds are high enough
// that no signal ever fires, so router tests exercise only delivery.
func quietEngineFactory(obs PriceObserver) func(symbol string) *SymbolEngine {
	return func(symbol string) *SymbolEngine {
		book := portfolio.NewBook(10000)
		paper := execution.NewPaperSink(8, 0)
		eval := risk.NewEvaluator(risk.Config{MaxPositions: 1, Notional: 50}, book)
		strat := strategy.NewThreshold(strategy.ThresholdConfig{
			PriceChangePct: 1e9, OIChangePct: 1e9, Lookback: time.Minute,
		})
		mgr := position.NewManager(symbol, position.Config{
			TPRatios: []float64{1}, TPFractions: []float64{1},
		}, book, paper, nil, nil, nil)
		return NewSymbolEngine(symbol, Deps{
			Indicators: indicator.NewEngine(indicator.Config{
				EMAFast: 9, EMAMid: 21, EMASlow: 50,
				MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
				RSIPeriod: 14, ATRPeriod: 14,
			}),
			Strategy:  strat,
			Evaluator: eval,
			Manager:   mgr,
			Book:      book,
			Observer:  obs,
		})
	}
}

func TestRouter_PerSymbolOrderPreserved(t *testing.T) {
	obs := &sequenceObserver{seen: make(map[string][]float64)}
	newEngine := quietEngineFactory(obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRouter(newEngine, 1024, nil)
	r.Start(ctx)

	const n = 200
	for i := 0; i < n; i++ {
		for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
			tk := model.Tick{Symbol: sym, Price: float64(i), Qty: 1, TickTS: t0.Add(time.Duration(i) * time.Second)}
			r.Dispatch(sym, Event{Tick: &tk})
		}
	}
	r.Close()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		require.Len(t, obs.seen[sym], n, sym)
		for i, price := range obs.seen[sym] {
			require.Equal(t, float64(i), price, sym)
		}
	}
}

func TestRouter_CloseWhileDispatching(t *testing.T) {
	obs := &sequenceObserver{seen: make(map[string][]float64)}

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRouter(quietEngineFactory(obs), 16, nil)
	r.Start(ctx)

	// Producers keep dispatching through and past shutdown, like the
	// live pump goroutines that may be mid-Dispatch when Close runs.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				tk := model.Tick{Symbol: sym, Price: float64(i), Qty: 1, TickTS: t0}
				r.Dispatch(sym, Event{Tick: &tk})
			}
		}(sym)
	}

	time.Sleep(10 * time.Millisecond)
	cancel()
	r.Close()

	// Events after Close are discarded without panicking.
	tk := model.Tick{Symbol: "BTCUSDT", Price: 1, Qty: 1, TickTS: t0}
	r.Dispatch("BTCUSDT", Event{Tick: &tk})
	r.Dispatch("SOLUSDT", Event{Tick: &tk})

	close(stop)
	wg.Wait()
}
