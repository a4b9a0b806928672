package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oibot/internal/model"
)

func thresholdForTest() *Threshold {
	return NewThreshold(ThresholdConfig{
		PriceChangePct: 2.5,
		OIChangePct:    1.5,
		Lookback:       5 * time.Minute,
	})
}

func tick(sym string, price float64, ts time.Time) model.Tick {
	return model.Tick{Symbol: sym, Price: price, Qty: 1, TickTS: ts}
}

func oiSample(sym string, value float64, ts time.Time) model.OpenInterest {
	return model.OpenInterest{Symbol: sym, Value: value, SampledAt: ts}
}

func TestThreshold_ExactMoveEmitsOnce(t *testing.T) {
	s := thresholdForTest()
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	s.OnOpenInterest(oiSample("BTCUSDT", 1000, base))
	require.Nil(t, s.OnTick(tick("BTCUSDT", 100, base)))

	// Price +2.5% and OI +1.5% within the window; exactly at both thresholds.
	s.OnOpenInterest(oiSample("BTCUSDT", 1015, base.Add(2*time.Minute)))
	sig := s.OnTick(tick("BTCUSDT", 102.5, base.Add(2*time.Minute)))
	require.NotNil(t, sig)
	assert.Equal(t, model.Long, sig.Direction)
	assert.Equal(t, "BTCUSDT", sig.Symbol)

	// The same move must not re-trigger during the cooldown.
	s.OnOpenInterest(oiSample("BTCUSDT", 1020, base.Add(3*time.Minute)))
	assert.Nil(t, s.OnTick(tick("BTCUSDT", 103, base.Add(3*time.Minute))))
	assert.Nil(t, s.OnTick(tick("BTCUSDT", 104, base.Add(4*time.Minute))))
}

func TestThreshold_EmitsAgainAfterCooldown(t *testing.T) {
	s := thresholdForTest()
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	s.OnOpenInterest(oiSample("BTCUSDT", 1000, base))
	s.OnTick(tick("BTCUSDT", 100, base))
	s.OnOpenInterest(oiSample("BTCUSDT", 1020, base.Add(time.Minute)))
	require.NotNil(t, s.OnTick(tick("BTCUSDT", 103, base.Add(time.Minute))))

	// Fresh move after the cooldown window elapses.
	after := base.Add(7 * time.Minute)
	s.OnOpenInterest(oiSample("BTCUSDT", 1020, after))
	require.Nil(t, s.OnTick(tick("BTCUSDT", 103, after)))
	s.OnOpenInterest(oiSample("BTCUSDT", 1040, after.Add(time.Minute)))
	sig := s.OnTick(tick("BTCUSDT", 106, after.Add(time.Minute)))
	assert.NotNil(t, sig)
}

func TestThreshold_RequiresOpenInterest(t *testing.T) {
	s := thresholdForTest()
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	s.OnTick(tick("BTCUSDT", 100, base))
	// +5% on price alone: no OI window, no signal.
	assert.Nil(t, s.OnTick(tick("BTCUSDT", 105, base.Add(time.Minute))))
}

func TestThreshold_PriceBelowThresholdNoSignal(t *testing.T) {
	s := thresholdForTest()
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	s.OnOpenInterest(oiSample("BTCUSDT", 1000, base))
	s.OnTick(tick("BTCUSDT", 100, base))
	s.OnOpenInterest(oiSample("BTCUSDT", 1100, base.Add(time.Minute)))
	// OI +10% but price only +1%: both legs must clear.
	assert.Nil(t, s.OnTick(tick("BTCUSDT", 101, base.Add(time.Minute))))
}

func TestThreshold_WindowPrunesOldSamples(t *testing.T) {
	s := thresholdForTest()
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	s.OnOpenInterest(oiSample("BTCUSDT", 1000, base))
	s.OnTick(tick("BTCUSDT", 100, base))

	// Six minutes later the old anchor has aged out of the 5m window, so
	// the rise is measured against the new baseline only.
	later := base.Add(6 * time.Minute)
	s.OnOpenInterest(oiSample("BTCUSDT", 1016, later))
	s.OnTick(tick("BTCUSDT", 103, later))
	s.OnOpenInterest(oiSample("BTCUSDT", 1017, later.Add(time.Minute)))
	assert.Nil(t, s.OnTick(tick("BTCUSDT", 103.5, later.Add(time.Minute))))
}

func TestThreshold_SymbolsAreIndependent(t *testing.T) {
	s := thresholdForTest()
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	s.OnOpenInterest(oiSample("BTCUSDT", 1000, base))
	s.OnTick(tick("BTCUSDT", 100, base))
	s.OnOpenInterest(oiSample("ETHUSDT", 500, base))
	s.OnTick(tick("ETHUSDT", 10, base))

	s.OnOpenInterest(oiSample("BTCUSDT", 1020, base.Add(time.Minute)))
	require.NotNil(t, s.OnTick(tick("BTCUSDT", 103, base.Add(time.Minute))))

	// ETHUSDT saw no move; BTCUSDT's signal must not leak.
	assert.Nil(t, s.OnTick(tick("ETHUSDT", 10.01, base.Add(time.Minute))))
}
