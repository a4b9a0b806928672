package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading bot.
type Metrics struct {
	TicksTotal     prometheus.Counter
	KlinesTotal    prometheus.Counter
	OISamplesTotal prometheus.Counter
	DataAnomalies  prometheus.Counter
	EventsDropped  *prometheus.CounterVec // labels: kind

	SignalsTotal  *prometheus.CounterVec // labels: mode
	SignalRejects *prometheus.CounterVec // labels: reason

	OrdersPlaced     *prometheus.CounterVec // labels: type=entry|reduce_only
	FillsTotal       prometheus.Counter
	OrderFailures    prometheus.Counter
	ExitRetries      prometheus.Counter
	CriticalFailures prometheus.Counter

	OpenPositions    prometheus.Gauge
	DailyRealizedPnL prometheus.Gauge
	Equity           prometheus.Gauge

	WSReconnects    prometheus.Counter
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_ticks_total",
			Help: "Total market ticks received",
		}),
		KlinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_klines_total",
			Help: "Total closed klines accepted by the indicator engine",
		}),
		OISamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_oi_samples_total",
			Help: "Total open-interest samples received",
		}),
		DataAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_data_anomalies_total",
			Help: "Out-of-order or duplicate market data dropped",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_events_dropped_total",
			Help: "Events dropped because a symbol worker queue was full",
		}, []string{"kind"}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_signals_total",
			Help: "Signals emitted by the signal generator",
		}, []string{"mode"}),
		SignalRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_signal_rejects_total",
			Help: "Signals rejected by a risk guard",
		}, []string{"reason"}),

		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_orders_placed_total",
			Help: "Orders sent to the execution sink",
		}, []string{"type"}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_fills_total",
			Help: "Order fills confirmed by the execution sink",
		}),
		OrderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_order_failures_total",
			Help: "Orders reported failed or unconfirmed within timeout",
		}),
		ExitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_exit_retries_total",
			Help: "Reduce-only exit retry attempts",
		}),
		CriticalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_critical_failures_total",
			Help: "Positions flagged after exhausting exit retries",
		}),

		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_open_positions",
			Help: "Currently open positions",
		}),
		DailyRealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_daily_realized_pnl",
			Help: "Realized P&L since the daily reset",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_equity",
			Help: "Current account equity",
		}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_ws_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradebot_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradebot_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.KlinesTotal,
		m.OISamplesTotal,
		m.DataAnomalies,
		m.EventsDropped,
		m.SignalsTotal,
		m.SignalRejects,
		m.OrdersPlaced,
		m.FillsTotal,
		m.OrderFailures,
		m.ExitRetries,
		m.CriticalFailures,
		m.OpenPositions,
		m.DailyRealizedPnL,
		m.Equity,
		m.WSReconnects,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
	)
	return m
}

// HealthStatus tracks liveness of the bot's dependencies, served at
// /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	DryRun         bool      `json:"dry_run"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(dryRun bool) *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		DryRun:    dryRun,
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb and db may be
// nil when the corresponding store is disabled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if rdb != nil {
					h.CheckRedis(ctx, rdb)
				}
				if db != nil {
					h.CheckSQLite(ctx, db)
				}
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.WSConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		DryRun          bool    `json:"dry_run"`
		WSConnected     bool    `json:"ws_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		DryRun:          h.DryRun,
		WSConnected:     h.WSConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
