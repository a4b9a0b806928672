package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"oibot/config"
	"oibot/internal/engine"
	"oibot/internal/execution"
	"oibot/internal/indicator"
	"oibot/internal/logger"
	"oibot/internal/marketdata/bus"
	"oibot/internal/marketdata/oipoll"
	"oibot/internal/marketdata/ws"
	"oibot/internal/metrics"
	"oibot/internal/model"
	"oibot/internal/notification"
	"oibot/internal/portfolio"
	"oibot/internal/position"
	"oibot/internal/risk"
	"oibot/internal/strategy"
	redisstore "oibot/internal/store/redis"
	sqlitestore "oibot/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tradebot] starting...")

	// ---- Load .env + config ----
	if err := godotenv.Load(); err == nil {
		log.Println("[tradebot] loaded .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[tradebot] %v", err)
	}
	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[tradebot] %v", err)
	}
	logger.Init("tradebot", lvl)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus(cfg.DryRun)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite journal (off hot path) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[tradebot] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(d time.Duration) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
	}
	log.Println("[tradebot] sqlite journal ready")

	// ---- Redis publisher ----
	var pub *redisstore.Publisher
	pub, err = redisstore.New(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Printf("[tradebot] WARNING: redis init failed: %v (continuing without redis)", err)
		pub = nil
	} else {
		pub.OnWrite = func(d time.Duration) {
			prom.RedisWriteDur.Observe(d.Seconds())
		}
		log.Println("[tradebot] redis publisher ready")
	}

	// ---- Periodic liveness checks ----
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Resume state: open positions + indicator checkpoint ----
	resumed, checkpoints := loadResumeState(cfg.SQLitePath)

	// ---- Portfolio, execution, alerts ----
	book := portfolio.NewBook(cfg.InitialEquity)

	// The execution sink is pluggable; the simulator is the only
	// connector shipped, so live mode refuses to start.
	if !cfg.DryRun {
		log.Fatalf("[tradebot] no live exchange connector configured, set DRY_RUN=true")
	}
	sink := execution.NewPaperSink(1024, cfg.SlippageBps)

	alerter := &engine.InstrumentedAlerter{
		Inner:   notification.NewTradeAlerter(buildNotifier(cfg), cfg.DryRun),
		Metrics: prom,
	}

	journal := &journalFanout{writer: sqlWriter, pub: pub, book: book}

	var snaps engine.SnapshotSink
	if pub != nil {
		snaps = snapshotPublisher{pub: pub}
	}

	// ---- Per-symbol pipeline factory ----
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
		ind := indicator.NewEngine(indCfg)
		if blob, ok := checkpoints[symbol]; ok {
			restored, err := indicator.RestoreEngine(indCfg, blob)
			if err != nil {
				log.Printf("[tradebot] %s: indicator checkpoint unusable, cold start: %v", symbol, err)
			} else {
				ind = restored
			}
		}
		strat, err := strategy.New(cfg.Mode, thrCfg, confCfg, book)
		if err != nil {
			log.Fatalf("[tradebot] %v", err) // mode already validated by config
		}
		mgr := position.NewManager(symbol, posCfg, book, sink, policy, alerter, journal)
		return engine.NewSymbolEngine(symbol, engine.Deps{
			Indicators: ind,
			Strategy:   strat,
			Evaluator:  eval,
			Manager:    mgr,
			Book:       book,
			Observer:   sink,
			Snapshots:  snaps,
			Signals:    sqlWriter,
			Metrics:    prom,
		})
	}

	router := engine.NewRouter(newEngine, 1024, prom)
	router.Start(ctx)

	for _, p := range resumed {
		router.Engine(p.Symbol).Manager().Restore(p)
		log.Printf("[tradebot] resumed %s position: %s qty=%v remaining=%v",
			p.Symbol, p.State, p.Quantity, p.RemainingQty)
	}

	// ---- Pipeline channels + fan-outs ----
	tickCh := make(chan model.Tick, 10000)
	klineCh := make(chan model.Kline, 5000)
	oiCh := make(chan model.OpenInterest, 256)

	tickFan := bus.New[model.Tick](5000)
	tickFan.OnDrop = func(idx int) {
		prom.EventsDropped.WithLabelValues("tick_fanout").Inc()
	}
	routerTicks := tickFan.Subscribe()
	var redisTicks <-chan model.Tick
	if pub != nil {
		redisTicks = tickFan.Subscribe()
	}
	go tickFan.Run(ctx, tickCh)

	klineFan := bus.New[model.Kline](5000)
	klineFan.OnDrop = func(idx int) {
		prom.EventsDropped.WithLabelValues("kline_fanout").Inc()
	}
	routerKlines := klineFan.Subscribe()
	sqliteKlines := klineFan.Subscribe()
	go klineFan.Run(ctx, klineCh)

	go sqlWriter.Run(ctx, sqliteKlines)
	if pub != nil {
		go pub.Run(ctx, redisTicks)
	}

	// ---- Pumps into the per-symbol router ----
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-routerTicks:
				if !ok {
					return
				}
				health.SetLastTickTime(t.TickTS)
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
			case k, ok := <-routerKlines:
				if !ok {
					return
				}
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
			case oi := <-oiCh:
				sample := oi
				router.Dispatch(oi.Symbol, engine.Event{OI: &sample})
				if pub != nil {
					pub.PublishOpenInterest(ctx, oi)
				}
			}
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sink.Events():
				if !ok {
					return
				}
				oe := ev
				router.Dispatch(ev.Symbol, engine.Event{Order: &oe})
			}
		}
	}()

	// ---- Market data feeds ----
	feed, err := ws.New(ws.Config{
		URL:       cfg.WSURL,
		Symbols:   cfg.Symbols,
		Timeframe: cfg.Timeframe,
	})
	if err != nil {
		log.Fatalf("[tradebot] ws init failed: %v", err)
	}
	feed.OnReconnect = func() {
		prom.WSReconnects.Inc()
	}
	feed.OnConnected = health.SetWSConnected
	go feed.Run(ctx, tickCh, klineCh)

	poller := oipoll.New(oipoll.Config{
		BaseURL:  cfg.OIBaseURL,
		Symbols:  cfg.Symbols,
		Interval: cfg.OIInterval,
	})
	go poller.Run(ctx, oiCh)

	// ---- Periodic indicator checkpoint + book publication ----
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				saveCheckpoint(router, cfg.Symbols, sqlWriter)
				if pub != nil {
					pub.PublishBook(ctx, book.Snapshot())
				}
			}
		}
	}()

	log.Printf("[tradebot] mode=%s symbols=%v tf=%s dry_run=%v", cfg.Mode, cfg.Symbols, cfg.Timeframe, cfg.DryRun)
	log.Println("[tradebot] pipeline ready")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[tradebot] shutdown signal received, cleaning up...")
	cancel()
	router.Close()

	saveCheckpoint(router, cfg.Symbols, sqlWriter)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if pub != nil {
		pub.Close()
	}
	log.Println("[tradebot] shutdown complete.")
}

// loadResumeState reads non-terminal positions and the latest indicator
// checkpoint from a previous run. A missing or unreadable journal is a
// cold start, not an error.
func loadResumeState(dbPath string) ([]model.Position, map[string]json.RawMessage) {
	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		log.Printf("[tradebot] no journal to resume from: %v", err)
		return nil, nil
	}
	defer reader.Close()

	positions, err := reader.LoadOpenPositions()
	if err != nil {
		log.Printf("[tradebot] position resume failed: %v", err)
	}

	checkpoints := map[string]json.RawMessage{}
	blob, err := reader.LatestSnapshot()
	if err != nil {
		log.Printf("[tradebot] checkpoint load failed: %v", err)
	} else if blob != nil {
		if err := json.Unmarshal(blob, &checkpoints); err != nil {
			log.Printf("[tradebot] checkpoint unreadable, cold start: %v", err)
			checkpoints = map[string]json.RawMessage{}
		}
	}
	return positions, checkpoints
}

// saveCheckpoint serializes every symbol's indicator engine into one blob.
func saveCheckpoint(router *engine.Router, symbols []string, w *sqlitestore.Writer) {
	out := make(map[string]json.RawMessage, len(symbols))
	for _, sym := range symbols {
		data, err := indicator.SnapshotEngine(router.Engine(sym).Indicators())
		if err != nil {
			log.Printf("[tradebot] %s: checkpoint failed: %v", sym, err)
			continue
		}
		out[sym] = data
	}
	blob, err := json.Marshal(out)
	if err != nil {
		log.Printf("[tradebot] checkpoint marshal failed: %v", err)
		return
	}
	if err := w.SaveSnapshot(blob); err != nil {
		log.Printf("[tradebot] checkpoint save failed: %v", err)
	}
}

// buildNotifier picks alert backends from config; all configured backends
// receive every alert.
func buildNotifier(cfg *config.Config) notification.Notifier {
	var backends []notification.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	switch len(backends) {
	case 0:
		return notification.NewLogNotifier()
	case 1:
		return backends[0]
	default:
		return notification.NewMultiNotifier(backends...)
	}
}

// journalFanout records lifecycle transitions in SQLite and mirrors them
// to Redis for external consumers.
type journalFanout struct {
	writer *sqlitestore.Writer
	pub    *redisstore.Publisher
	book   *portfolio.Book
}

func (j *journalFanout) RecordPosition(p model.Position) {
	j.writer.RecordPosition(p)
	if j.pub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		j.pub.PublishPosition(ctx, p)
		j.pub.PublishBook(ctx, j.book.Snapshot())
	}
}

type snapshotPublisher struct {
	pub *redisstore.Publisher
}

func (s snapshotPublisher) OnSnapshot(ctx context.Context, snap indicator.Snapshot) {
	s.pub.PublishSnapshot(ctx, snap)
}
