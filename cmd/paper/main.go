package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"oibot/config"
	"oibot/internal/engine"
	"oibot/internal/execution"
	"oibot/internal/indicator"
	"oibot/internal/logger"
	"oibot/internal/marketdata/replay"
	"oibot/internal/model"
	"oibot/internal/notification"
	"oibot/internal/portfolio"
	"oibot/internal/position"
	"oibot/internal/risk"
	"oibot/internal/strategy"
	sqlitestore "oibot/internal/store/sqlite"
)

// paper replays journaled klines through the full pipeline against the
// simulated sink. It reads the live journal and writes its own results
// next to it, so a replay can never contaminate live resume state.
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("[paper] starting replay...")

	if err := godotenv.Load(); err == nil {
		log.Println("[paper] loaded .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[paper] %v", err)
	}
	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[paper] %v", err)
	}
	logger.Init("paper", lvl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[paper] interrupted")
		cancel()
	}()

	// ---- Kline source (read-only) ----
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[paper] open journal: %v", err)
	}
	defer reader.Close()

	// ---- Result journal, separate from the live one ----
	resultPath := paperPath(cfg.SQLitePath)
	journal, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: resultPath})
	if err != nil {
		log.Fatalf("[paper] open result journal: %v", err)
	}
	defer journal.Close()
	log.Printf("[paper] results -> %s", resultPath)

	// ---- Pipeline ----
	book := portfolio.NewBook(cfg.InitialEquity)
	sink := execution.NewPaperSink(1024, cfg.SlippageBps)
	alerter := notification.NewTradeAlerter(notification.NewLogNotifier(), true)

	indCfg := indicator.Config{
		EMAFast:    cfg.EMAFast,
		EMAMid:     cfg.EMAMid,
		EMASlow:    cfg.EMASlow,
		MACDFast:   cfg.MACDFast,
		MACDSlow:   cfg.MACDSlow,
		MACDSignal: cfg.MACDSignal,
		RSIPeriod:  cfg.RSIPeriod,
		ATRPeriod:  cfg.ATRPeriod,
	}
	thrCfg := strategy.ThresholdConfig{
		PriceChangePct: cfg.ThresholdPricePct,
		OIChangePct:    cfg.ThresholdOIPct,
		Lookback:       cfg.ThresholdWindow,
		Anchor:         cfg.ThresholdAnchor,
	}
	confCfg := strategy.ConfluenceConfig{
		MinVolume:   cfg.MinVolume,
		SwingBars:   cfg.SwingBars,
		MaxStopPct:  cfg.MaxStopPct,
		ATRStopMult: cfg.ATRStopMult,
	}
	posCfg := position.Config{
		EntryTimeout:   cfg.EntryTimeout,
		MaxExitRetries: cfg.MaxExitRetries,
		TPRatios:       cfg.TPRatios,
		TPFractions:    cfg.TPFractions,
	}
	policy := position.BreakEven{TriggerRR: cfg.BreakEvenRR, OffsetPct: cfg.BreakEvenPct}
	eval := risk.NewEvaluator(cfg.RiskConfig(), book)

	newEngine := func(symbol string) *engine.SymbolEngine {
		strat, err := strategy.New(cfg.Mode, thrCfg, confCfg, book)
		if err != nil {
			log.Fatalf("[paper] %v", err)
		}
		mgr := position.NewManager(symbol, posCfg, book, sink, policy, alerter, journal)
		return engine.NewSymbolEngine(symbol, engine.Deps{
			Indicators: indicator.NewEngine(indCfg),
			Strategy:   strat,
			Evaluator:  eval,
			Manager:    mgr,
			Book:       book,
			Observer:   sink,
			Signals:    journal,
		})
	}

	router := engine.NewRouter(newEngine, 4096, nil)
	router.Start(ctx)

	klineCh := make(chan model.Kline, 4096)
	tickCh := make(chan model.Tick, 4096)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-tickCh:
				tk := t
				router.Dispatch(t.Symbol, engine.Event{Tick: &tk})
			}
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case k := <-klineCh:
				kl := k
				router.Dispatch(k.Symbol, engine.Event{Kline: &kl})
			}
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sink.Events():
				oe := ev
				router.Dispatch(ev.Symbol, engine.Event{Order: &oe})
			}
		}
	}()

	// ---- Replay ----
	replayer := replay.New(reader)
	if err := replayer.Run(ctx, cfg.Timeframe, cfg.ReplayFromMs, cfg.ReplaySpeed, klineCh, tickCh); err != nil {
		log.Fatalf("[paper] replay failed: %v", err)
	}

	// Let trailing fill events work through the pumps before tearing down.
	time.Sleep(500 * time.Millisecond)
	cancel()
	router.Close()

	// ---- Summary ----
	fills := sink.Fills()
	log.Printf("[paper] replay done: %d simulated fills", len(fills))
	log.Printf("[paper] equity %.2f (start %.2f), daily realized %.2f",
		book.Equity(), cfg.InitialEquity, book.DailyRealized())
	for _, p := range book.Snapshot().Positions {
		log.Printf("[paper] still open: %s %s qty=%v entry=%v stop=%v",
			p.Symbol, p.Direction, p.RemainingQty, p.EntryPrice, p.StopPrice)
	}
}

// paperPath derives the result journal path, e.g. data/tradebot.db ->
// data/tradebot-paper.db.
func paperPath(livePath string) string {
	if i := strings.LastIndexByte(livePath, '.'); i > 0 {
		return livePath[:i] + "-paper" + livePath[i:]
	}
	return livePath + "-paper"
}
