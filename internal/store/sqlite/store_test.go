package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oibot/internal/model"
)

func openTestStore(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	w, err := New(WriterConfig{DBPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	r, err := NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return w, r
}

func TestKlineRoundTrip(t *testing.T) {
	w, r := openTestStore(t)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	klines := []model.Kline{
		{Symbol: "BTCUSDT", Timeframe: "5m", Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 12, CloseTime: base, Closed: true},
		{Symbol: "BTCUSDT", Timeframe: "5m", Open: 100.5, High: 102, Low: 100, Close: 101.5, Volume: 9, CloseTime: base.Add(5 * time.Minute), Closed: true},
	}
	require.NoError(t, w.insertBatch(klines))

	got, err := r.ReadKlines("5m", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, klines[0].Close, got[0].Close)
	assert.Equal(t, base, got[0].CloseTime)
	assert.True(t, got[0].Closed)

	// fromMs filter excludes the first bar.
	got, err = r.ReadKlines("5m", base.UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, base.Add(5*time.Minute), got[0].CloseTime)
}

func TestPositionResumeRoundTrip(t *testing.T) {
	w, r := openTestStore(t)

	open := model.Position{
		Symbol: "BTCUSDT", Direction: model.Long,
		EntryPrice: 100, Quantity: 1, RemainingQty: 0.5, StopPrice: 98,
		TakeProfits: []model.TakeProfitLevel{
			{Price: 102, Fraction: 0.5, Filled: true},
			{Price: 103, Fraction: 0.5},
		},
		State:    model.StatePartiallyClosed,
		OpenedAt: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}
	w.RecordPosition(open)

	closed := open
	closed.Symbol = "ETHUSDT"
	closed.State = model.StateClosed
	w.RecordPosition(closed)

	got, err := r.LoadOpenPositions()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, model.StatePartiallyClosed, got[0].State)
	assert.InDelta(t, 0.5, got[0].RemainingQty, 1e-12)
	assert.Equal(t, 1, got[0].NextUnfilledLevel())
}

func TestPositionUpsertKeepsLatest(t *testing.T) {
	w, r := openTestStore(t)

	p := model.Position{
		Symbol: "BTCUSDT", Direction: model.Long,
		EntryPrice: 100, Quantity: 1, RemainingQty: 1, StopPrice: 98,
		TakeProfits: []model.TakeProfitLevel{{Price: 102, Fraction: 1}},
		State:       model.StateOpen,
	}
	w.RecordPosition(p)

	p.StopPrice = 100 // stop tightened
	w.RecordPosition(p)

	got, err := r.LoadOpenPositions()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 100.0, got[0].StopPrice)
}

func TestSnapshotKeepsLatest(t *testing.T) {
	w, r := openTestStore(t)

	none, err := r.LatestSnapshot()
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, w.SaveSnapshot([]byte(`{"version":1}`)))
	require.NoError(t, w.SaveSnapshot([]byte(`{"version":2}`)))

	got, err := r.LatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(got))
}
