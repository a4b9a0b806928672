package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oibot/internal/indicator"
	"oibot/internal/model"
)

type fakeOpen map[string]bool

func (f fakeOpen) HasOpen(symbol string) bool { return f[symbol] }

func confluenceForTest(open OpenChecker) *Confluence {
	return NewConfluence(ConfluenceConfig{
		MinVolume:   10,
		SwingBars:   3,
		MaxStopPct:  0.5,
		ATRStopMult: 1.5,
	}, open)
}

func ready(v float64) indicator.Value { return indicator.Value{V: v, Ready: true} }

// longSnapshot satisfies every long-side confluence condition at close=100.
func longSnapshot() indicator.Snapshot {
	return indicator.Snapshot{
		Symbol:     "BTCUSDT",
		Timeframe:  "5m",
		Close:      100,
		Volume:     50,
		EMAFast:    ready(101),
		EMAMid:     ready(100.5),
		EMASlow:    ready(99),
		MACD:       ready(0.4),
		MACDSignal: ready(0.1),
		RSI:        ready(60),
		VWAP:       ready(99.5),
		ATR:        ready(0.8),
	}
}

func closedBar(sym string, close, low, high, vol float64, ts time.Time) model.Kline {
	return model.Kline{
		Symbol: sym, Timeframe: "5m",
		Open: close, High: high, Low: low, Close: close, Volume: vol,
		CloseTime: ts, Closed: true,
	}
}

func feedWarmupBars(s *Confluence, sym string, ts time.Time) {
	// Three bars so a swing extremum exists; snapshot left not-ready so
	// none of them can emit.
	for i := 0; i < 3; i++ {
		s.OnClosedKline(closedBar(sym, 100, 99.8, 100.2, 50, ts.Add(time.Duration(i-3)*5*time.Minute)), indicator.Snapshot{})
	}
}

func TestConfluence_LongSignal(t *testing.T) {
	s := confluenceForTest(fakeOpen{})
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	feedWarmupBars(s, "BTCUSDT", ts)

	k := closedBar("BTCUSDT", 100, 99.7, 100.3, 50, ts)
	sig := s.OnClosedKline(k, longSnapshot())
	require.NotNil(t, sig)
	assert.Equal(t, model.Long, sig.Direction)
	// Swing low of the last 3 bars is 99.7, but the 0.5% cap tightens it.
	assert.InDelta(t, 99.7, sig.StopPrice, 1e-9)
	assert.Less(t, sig.StopPrice, sig.Price)
}

func TestConfluence_ShortSignalMirrored(t *testing.T) {
	s := confluenceForTest(fakeOpen{})
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	feedWarmupBars(s, "BTCUSDT", ts)

	snap := longSnapshot()
	snap.EMAFast = ready(99)
	snap.EMAMid = ready(99.5)
	snap.EMASlow = ready(101)
	snap.MACD = ready(-0.4)
	snap.MACDSignal = ready(-0.1)
	snap.RSI = ready(40)
	snap.VWAP = ready(100.5)

	k := closedBar("BTCUSDT", 100, 99.7, 100.3, 50, ts)
	sig := s.OnClosedKline(k, snap)
	require.NotNil(t, sig)
	assert.Equal(t, model.Short, sig.Direction)
	assert.Greater(t, sig.StopPrice, sig.Price)
}

func TestConfluence_NoSignalWhileOpen(t *testing.T) {
	open := fakeOpen{"BTCUSDT": true}
	s := confluenceForTest(open)
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	feedWarmupBars(s, "BTCUSDT", ts)

	k := closedBar("BTCUSDT", 100, 99.7, 100.3, 50, ts)
	// Repeated delivery of a perfect bar stays silent while in a trade.
	assert.Nil(t, s.OnClosedKline(k, longSnapshot()))
	assert.Nil(t, s.OnClosedKline(closedBar("BTCUSDT", 100, 99.7, 100.3, 50, ts.Add(5*time.Minute)), longSnapshot()))

	// Once the position closes, the next matching bar may signal again.
	open["BTCUSDT"] = false
	assert.NotNil(t, s.OnClosedKline(closedBar("BTCUSDT", 100, 99.7, 100.3, 50, ts.Add(10*time.Minute)), longSnapshot()))
}

func TestConfluence_RSIBand(t *testing.T) {
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		rsi  float64
		want bool
	}{
		{50, false}, // exclusive lower bound
		{50.1, true},
		{70, true}, // inclusive upper bound
		{70.1, false},
	}
	for _, tc := range cases {
		s := confluenceForTest(fakeOpen{})
		feedWarmupBars(s, "BTCUSDT", ts)
		snap := longSnapshot()
		snap.RSI = ready(tc.rsi)
		sig := s.OnClosedKline(closedBar("BTCUSDT", 100, 99.7, 100.3, 50, ts), snap)
		if tc.want {
			assert.NotNil(t, sig, "rsi=%v", tc.rsi)
		} else {
			assert.Nil(t, sig, "rsi=%v", tc.rsi)
		}
	}
}

func TestConfluence_VolumeFloor(t *testing.T) {
	s := confluenceForTest(fakeOpen{})
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	feedWarmupBars(s, "BTCUSDT", ts)

	k := closedBar("BTCUSDT", 100, 99.7, 100.3, 5, ts) // below the floor of 10
	assert.Nil(t, s.OnClosedKline(k, longSnapshot()))
}

func TestConfluence_NotReadyIndicatorsStaySilent(t *testing.T) {
	s := confluenceForTest(fakeOpen{})
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	feedWarmupBars(s, "BTCUSDT", ts)

	snap := longSnapshot()
	snap.EMASlow.Ready = false
	assert.Nil(t, s.OnClosedKline(closedBar("BTCUSDT", 100, 99.7, 100.3, 50, ts), snap))
}

func TestConfluence_ATRStopFallback(t *testing.T) {
	s := confluenceForTest(fakeOpen{})
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	// First bar ever: no swing history, stop comes from ATR distance.
	k := closedBar("BTCUSDT", 100, 99.7, 100.3, 50, ts)
	sig := s.OnClosedKline(k, longSnapshot())
	require.NotNil(t, sig)
	assert.InDelta(t, 100-1.5*0.8, sig.StopPrice, 1e-9)
}

func TestConfluence_StopCapTightensDeepSwing(t *testing.T) {
	s := confluenceForTest(fakeOpen{})
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	// Swing low 95 is 5% away; far beyond the 0.5% cap.
	for i := 0; i < 3; i++ {
		s.OnClosedKline(closedBar("BTCUSDT", 100, 95, 100.2, 50, ts.Add(time.Duration(i-3)*5*time.Minute)), indicator.Snapshot{})
	}
	sig := s.OnClosedKline(closedBar("BTCUSDT", 100, 95, 100.3, 50, ts), longSnapshot())
	require.NotNil(t, sig)
	assert.InDelta(t, 99.5, sig.StopPrice, 1e-9)
}
