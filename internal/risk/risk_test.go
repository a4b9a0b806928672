package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oibot/internal/model"
	"oibot/internal/portfolio"
)

func inSession() time.Time {
	return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
}

func testSignal() *model.Signal {
	return &model.Signal{
		Symbol:    "BTCUSDT",
		Direction: model.Long,
		Price:     100,
		Volume:    1000,
		StopPrice: 98,
		Time:      inSession(),
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	sessions, err := ParseSessions("07:00-16:00,13:30-20:00")
	require.NoError(t, err)
	return Config{
		MaxPositions:        5,
		Sessions:            sessions,
		MaxDailyDrawdownPct: 3.0,
		MinVolume:           10,
		Notional:            50,
	}
}

func openPosition(sym string) model.Position {
	return model.Position{
		Symbol: sym, Direction: model.Long,
		EntryPrice: 100, Quantity: 1, RemainingQty: 1, StopPrice: 98,
		TakeProfits: []model.TakeProfitLevel{{Price: 102, Fraction: 1}},
		State:       model.StateOpen,
	}
}

func TestEvaluate_NotionalSizing(t *testing.T) {
	e := NewEvaluator(testConfig(t), portfolio.NewBook(10000))

	d, ok, reason := e.Evaluate(testSignal())
	require.True(t, ok, reason)
	assert.InDelta(t, 0.5, d.Quantity, 1e-12) // 50 notional at price 100, no leverage
	assert.Equal(t, 98.0, d.StopPrice)
}

func TestEvaluate_NotionalLeverage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Leverage = 10
	e := NewEvaluator(cfg, portfolio.NewBook(10000))

	d, ok, _ := e.Evaluate(testSignal())
	require.True(t, ok)
	assert.InDelta(t, 5.0, d.Quantity, 1e-12)
}

func TestEvaluate_RiskBasedSizing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notional = 0
	cfg.RiskPct = 1
	e := NewEvaluator(cfg, portfolio.NewBook(10000))

	// equity 10000, risk 1% = 100, stop distance 2 -> qty 50
	d, ok, _ := e.Evaluate(testSignal())
	require.True(t, ok)
	assert.InDelta(t, 50.0, d.Quantity, 1e-12)
}

func TestEvaluate_PctEquitySizing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notional = 0
	cfg.PositionPct = 2
	e := NewEvaluator(cfg, portfolio.NewBook(10000))

	d, ok, _ := e.Evaluate(testSignal())
	require.True(t, ok)
	assert.InDelta(t, 2.0, d.Quantity, 1e-12) // 10000 * 2% / 100
}

func TestEvaluate_StopEqualsEntryRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notional = 0
	cfg.RiskPct = 1
	e := NewEvaluator(cfg, portfolio.NewBook(10000))

	sig := testSignal()
	sig.StopPrice = sig.Price
	_, ok, reason := e.Evaluate(sig)
	assert.False(t, ok)
	assert.Equal(t, RejectBadQuantity, reason)
}

func TestEvaluate_ZeroPriceRejected(t *testing.T) {
	e := NewEvaluator(testConfig(t), portfolio.NewBook(10000))

	sig := testSignal()
	sig.Price = 0
	_, ok, reason := e.Evaluate(sig)
	assert.False(t, ok)
	assert.Equal(t, RejectBadQuantity, reason)
}

func TestEvaluate_DefaultStopForStoplessSignal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notional = 0
	cfg.RiskPct = 1
	cfg.DefaultStopPct = 2
	e := NewEvaluator(cfg, portfolio.NewBook(10000))

	sig := testSignal()
	sig.StopPrice = 0
	d, ok, _ := e.Evaluate(sig)
	require.True(t, ok)
	assert.InDelta(t, 98.0, d.StopPrice, 1e-9)
	assert.InDelta(t, 50.0, d.Quantity, 1e-9)

	sig.Direction = model.Short
	d, ok, _ = e.Evaluate(sig)
	require.True(t, ok)
	assert.InDelta(t, 102.0, d.StopPrice, 1e-9)
}

func TestEvaluate_MaxPositionsGuard(t *testing.T) {
	book := portfolio.NewBook(10000)
	for _, sym := range []string{"A", "B", "C", "D", "E"} {
		book.Put(openPosition(sym))
	}
	e := NewEvaluator(testConfig(t), book)

	_, ok, reason := e.Evaluate(testSignal())
	assert.False(t, ok)
	assert.Equal(t, RejectMaxPositions, reason)
}

func TestEvaluate_SessionGuard(t *testing.T) {
	e := NewEvaluator(testConfig(t), portfolio.NewBook(10000))

	sig := testSignal()
	sig.Time = time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC) // outside both windows
	_, ok, reason := e.Evaluate(sig)
	assert.False(t, ok)
	assert.Equal(t, RejectSessionClosed, reason)
}

func TestEvaluate_DailyDrawdownHalts(t *testing.T) {
	book := portfolio.NewBook(10000)
	book.RollDay(inSession())
	book.RecordRealized(-300) // exactly the 3% floor
	e := NewEvaluator(testConfig(t), book)

	_, ok, reason := e.Evaluate(testSignal())
	assert.False(t, ok)
	assert.Equal(t, RejectDailyDrawdown, reason)
}

func TestEvaluate_MinVolumeGuard(t *testing.T) {
	e := NewEvaluator(testConfig(t), portfolio.NewBook(10000))

	sig := testSignal()
	sig.Volume = 5
	_, ok, reason := e.Evaluate(sig)
	assert.False(t, ok)
	assert.Equal(t, RejectMinVolume, reason)
}

func TestEvaluate_GuardOrderFirstFailureWins(t *testing.T) {
	// Book at max positions AND outside session: max positions is checked
	// first so its reason is reported.
	book := portfolio.NewBook(10000)
	for _, sym := range []string{"A", "B", "C", "D", "E"} {
		book.Put(openPosition(sym))
	}
	e := NewEvaluator(testConfig(t), book)

	sig := testSignal()
	sig.Time = time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC)
	_, ok, reason := e.Evaluate(sig)
	assert.False(t, ok)
	assert.Equal(t, RejectMaxPositions, reason)
}
