package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oibot/internal/strategy"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, cfg.Symbols)
	assert.Equal(t, "5m", cfg.Timeframe)
	assert.Equal(t, strategy.ModeThreshold, cfg.Mode)
	assert.True(t, cfg.DryRun)

	assert.Equal(t, 2.5, cfg.ThresholdPricePct)
	assert.Equal(t, 1.5, cfg.ThresholdOIPct)
	assert.Equal(t, 5*time.Minute, cfg.ThresholdWindow)

	assert.Equal(t, 10.0, cfg.Leverage)
	assert.Equal(t, 5, cfg.MaxPositions)
	assert.Equal(t, 3.0, cfg.MaxDailyDrawdownPct)
	assert.Equal(t, []float64{1.0, 1.5}, cfg.TPRatios)
	assert.Equal(t, []float64{0.5, 0.5}, cfg.TPFractions)
	assert.Equal(t, 30*time.Second, cfg.EntryTimeout)
	assert.Equal(t, 3, cfg.MaxExitRetries)
	assert.Len(t, cfg.Sessions, 2)
}

func TestLoad_SymbolListParsing(t *testing.T) {
	t.Setenv("SYMBOLS", " BTCUSDT, ETHUSDT ,SOLUSDT,")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Symbols)
}

func TestLoad_TPFractionsMustSumToOne(t *testing.T) {
	t.Setenv("TP_FRACTIONS", "0.5,0.4")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestLoad_TPPairsMustMatch(t *testing.T) {
	t.Setenv("TP_RATIOS", "1.0,1.5,2.0")
	t.Setenv("TP_FRACTIONS", "0.5,0.5")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_EMAOrderEnforced(t *testing.T) {
	t.Setenv("EMA_FAST", "50")
	t.Setenv("EMA_SLOW", "9")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMA")
}

func TestLoad_UnknownModeRejected(t *testing.T) {
	t.Setenv("STRATEGY_MODE", "martingale")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MalformedSessionsRejected(t *testing.T) {
	t.Setenv("TRADING_SESSIONS", "0700 to 1600")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_BadDryRunRejected(t *testing.T) {
	t.Setenv("DRY_RUN", "maybe")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_NoSizingBasisRejected(t *testing.T) {
	t.Setenv("NOTIONAL_USD", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOTIONAL_USD")
}

func TestRiskConfig_CarriesGuardsAndSizing(t *testing.T) {
	t.Setenv("RISK_PCT", "1.0")
	cfg, err := Load()
	require.NoError(t, err)

	rc := cfg.RiskConfig()
	assert.Equal(t, 5, rc.MaxPositions)
	assert.Equal(t, 3.0, rc.MaxDailyDrawdownPct)
	assert.Equal(t, 1.0, rc.RiskPct)
	assert.Equal(t, 10.0, rc.Leverage)
	assert.Equal(t, 2.0, rc.DefaultStopPct)
}
