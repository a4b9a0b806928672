// Package config loads all runtime configuration from environment
// variables and validates it once at startup. Contradictory settings
// (take-profit fractions that do not cover the position, inverted EMA
// periods, malformed session windows) are configuration errors and the
// process must not start.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"oibot/internal/risk"
	"oibot/internal/strategy"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Trading universe
	Symbols   []string
	Timeframe string // kline interval, e.g. "5m"
	Mode      strategy.Mode
	DryRun    bool

	// Account
	InitialEquity float64
	Leverage      float64

	// Threshold mode
	ThresholdPricePct float64
	ThresholdOIPct    float64
	ThresholdWindow   time.Duration
	ThresholdAnchor   strategy.AnchorPolicy

	// Confluence mode / indicators
	EMAFast, EMAMid, EMASlow       int
	MACDFast, MACDSlow, MACDSignal int
	RSIPeriod                      int
	ATRPeriod                      int
	MinVolume                      float64
	SwingBars                      int
	MaxStopPct                     float64
	ATRStopMult                    float64

	// Risk & sizing
	MaxPositions        int
	Sessions            []risk.Session
	MaxDailyDrawdownPct float64
	Notional            float64
	RiskPct             float64
	PositionPct         float64
	DefaultStopPct      float64

	// Position lifecycle
	EntryTimeout   time.Duration
	MaxExitRetries int
	TPRatios       []float64
	TPFractions    []float64
	BreakEvenRR    float64
	BreakEvenPct   float64

	// Market data
	WSURL        string
	OIBaseURL    string
	OIInterval   time.Duration
	SlippageBps  float64
	ReplaySpeed  float64
	ReplayFromMs int64

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string

	// Notifications
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
}

// Load reads configuration from environment variables with defaults and
// validates the result. Any error it returns is fatal.
func Load() (*Config, error) {
	cfg := &Config{
		Symbols:   splitList(getEnv("SYMBOLS", "BTCUSDT")),
		Timeframe: getEnv("TIMEFRAME", "5m"),
		Mode:      strategy.Mode(getEnv("STRATEGY_MODE", "threshold")),

		InitialEquity: getFloat("INITIAL_EQUITY", 10000),
		Leverage:      getFloat("LEVERAGE", 10),

		ThresholdPricePct: getFloat("THRESHOLD_PRICE_PCT", 2.5),
		ThresholdOIPct:    getFloat("THRESHOLD_OI_PCT", 1.5),
		ThresholdWindow:   getDuration("THRESHOLD_WINDOW", 5*time.Minute),
		ThresholdAnchor:   strategy.AnchorPolicy(getEnv("THRESHOLD_ANCHOR", string(strategy.AnchorReset))),

		EMAFast:     getInt("EMA_FAST", 9),
		EMAMid:      getInt("EMA_MID", 21),
		EMASlow:     getInt("EMA_SLOW", 50),
		MACDFast:    getInt("MACD_FAST", 12),
		MACDSlow:    getInt("MACD_SLOW", 26),
		MACDSignal:  getInt("MACD_SIGNAL", 9),
		RSIPeriod:   getInt("RSI_PERIOD", 14),
		ATRPeriod:   getInt("ATR_PERIOD", 14),
		MinVolume:   getFloat("MIN_VOLUME", 0),
		SwingBars:   getInt("SWING_BARS", 10),
		MaxStopPct:  getFloat("MAX_STOP_PCT", 0.5),
		ATRStopMult: getFloat("ATR_STOP_MULT", 1.5),

		MaxPositions:        getInt("MAX_POSITIONS", 5),
		MaxDailyDrawdownPct: getFloat("MAX_DAILY_DD_PCT", 3.0),
		Notional:            getFloat("NOTIONAL_USD", 50),
		RiskPct:             getFloat("RISK_PCT", 0),
		PositionPct:         getFloat("POSITION_PCT", 0),
		DefaultStopPct:      getFloat("DEFAULT_STOP_PCT", 2.0),

		EntryTimeout:   getDuration("ENTRY_TIMEOUT", 30*time.Second),
		MaxExitRetries: getInt("MAX_EXIT_RETRIES", 3),
		BreakEvenRR:    getFloat("BREAKEVEN_RR", 1.0),
		BreakEvenPct:   getFloat("BREAKEVEN_OFFSET_PCT", 0.05),

		WSURL:        getEnv("BYBIT_WS_URL", ""),
		OIBaseURL:    getEnv("BYBIT_REST_URL", ""),
		OIInterval:   getDuration("OI_POLL_INTERVAL", 30*time.Second),
		SlippageBps:  getFloat("PAPER_SLIPPAGE_BPS", 0),
		ReplaySpeed:  getFloat("REPLAY_SPEED", 0),
		ReplayFromMs: int64(getInt("REPLAY_FROM_MS", 0)),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/tradebot.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("ALERT_WEBHOOK_URL", ""),
	}

	var err error
	cfg.DryRun, err = getBool("DRY_RUN", true)
	if err != nil {
		return nil, err
	}

	cfg.Sessions, err = risk.ParseSessions(getEnv("TRADING_SESSIONS", "07:00-16:00,13:30-20:00"))
	if err != nil {
		return nil, fmt.Errorf("config: TRADING_SESSIONS: %w", err)
	}

	cfg.TPRatios, err = floatList(getEnv("TP_RATIOS", "1.0,1.5"))
	if err != nil {
		return nil, fmt.Errorf("config: TP_RATIOS: %w", err)
	}
	cfg.TPFractions, err = floatList(getEnv("TP_FRACTIONS", "0.5,0.5"))
	if err != nil {
		return nil, fmt.Errorf("config: TP_FRACTIONS: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: SYMBOLS must name at least one symbol")
	}
	switch c.Mode {
	case strategy.ModeThreshold, strategy.ModeConfluence:
	default:
		return fmt.Errorf("config: unknown STRATEGY_MODE %q", c.Mode)
	}
	switch c.ThresholdAnchor {
	case strategy.AnchorReset, strategy.AnchorRoll:
	default:
		return fmt.Errorf("config: unknown THRESHOLD_ANCHOR %q", c.ThresholdAnchor)
	}

	if !(c.EMAFast < c.EMAMid && c.EMAMid < c.EMASlow) {
		return fmt.Errorf("config: EMA periods must be strictly increasing, got %d/%d/%d",
			c.EMAFast, c.EMAMid, c.EMASlow)
	}
	if c.MACDFast >= c.MACDSlow {
		return fmt.Errorf("config: MACD_FAST (%d) must be below MACD_SLOW (%d)", c.MACDFast, c.MACDSlow)
	}

	if len(c.TPRatios) == 0 || len(c.TPRatios) != len(c.TPFractions) {
		return fmt.Errorf("config: TP_RATIOS (%d) and TP_FRACTIONS (%d) must pair up",
			len(c.TPRatios), len(c.TPFractions))
	}
	var sum float64
	for i, f := range c.TPFractions {
		if f <= 0 {
			return fmt.Errorf("config: TP_FRACTIONS[%d] must be positive, got %v", i, f)
		}
		sum += f
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("config: TP_FRACTIONS must sum to 1.0, got %v", sum)
	}
	for i := 1; i < len(c.TPRatios); i++ {
		if c.TPRatios[i] <= c.TPRatios[i-1] {
			return fmt.Errorf("config: TP_RATIOS must be strictly increasing")
		}
	}

	if c.InitialEquity <= 0 {
		return fmt.Errorf("config: INITIAL_EQUITY must be positive, got %v", c.InitialEquity)
	}
	if c.Leverage < 1 {
		return fmt.Errorf("config: LEVERAGE must be at least 1, got %v", c.Leverage)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("config: MAX_POSITIONS must be positive, got %d", c.MaxPositions)
	}
	if c.DefaultStopPct <= 0 {
		return fmt.Errorf("config: DEFAULT_STOP_PCT must be positive, got %v", c.DefaultStopPct)
	}
	if c.EntryTimeout <= 0 {
		return fmt.Errorf("config: ENTRY_TIMEOUT must be positive, got %v", c.EntryTimeout)
	}
	if c.Notional <= 0 && c.RiskPct <= 0 && c.PositionPct <= 0 {
		return fmt.Errorf("config: one of NOTIONAL_USD, RISK_PCT, POSITION_PCT must be set")
	}
	return nil
}

// RiskConfig assembles the guard-chain and sizing parameters.
func (c *Config) RiskConfig() risk.Config {
	return risk.Config{
		MaxPositions:        c.MaxPositions,
		Sessions:            c.Sessions,
		MaxDailyDrawdownPct: c.MaxDailyDrawdownPct,
		MinVolume:           c.MinVolume,
		Notional:            c.Notional,
		Leverage:            c.Leverage,
		RiskPct:             c.RiskPct,
		PositionPct:         c.PositionPct,
		DefaultStopPct:      c.DefaultStopPct,
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func floatList(s string) ([]float64, error) {
	parts := splitList(s)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out = append(out, f)
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean, got %q", key, v)
	}
	return b, nil
}
