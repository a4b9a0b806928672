// Package replay reads historical klines from SQLite and emits them at a
// configurable speed, for dry-run backtesting against the paper sink.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"oibot/internal/model"
	sqlitestore "oibot/internal/store/sqlite"
)

// Replayer reads stored klines and replays them in close-time order.
type Replayer struct {
	reader *sqlitestore.Reader
}

// New creates a Replayer backed by a SQLite reader.
func New(reader *sqlitestore.Reader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays all closed klines for the timeframe, emitting them into
// outCh, plus a synthetic tick per bar close so stop and take-profit
// monitoring runs. speed controls playback: 1.0 = real-time, 10.0 = 10x,
// 0 = as fast as possible. fromMs filters bars to those closing after
// the given Unix-millisecond timestamp (0 = all).
func (r *Replayer) Run(ctx context.Context, tf string, fromMs int64, speed float64, outCh chan<- model.Kline, tickCh chan<- model.Tick) error {
	klines, err := r.reader.ReadKlines(tf, fromMs)
	if err != nil {
		return err
	}
	if len(klines) == 0 {
		log.Println("[replay] no klines found in SQLite")
		return nil
	}

	// Stored rows are ordered per query, but interleaved symbols share
	// close times; keep a stable order.
	sort.SliceStable(klines, func(i, j int) bool {
		return klines[i].CloseTime.Before(klines[j].CloseTime)
	})

	log.Printf("[replay] loaded %d klines (%s), speed=%.1fx", len(klines), tf, speed)

	var prevTS time.Time
	emitted := 0
	for _, k := range klines {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d klines", emitted)
			return ctx.Err()
		default:
		}

		if speed > 0 && !prevTS.IsZero() {
			gap := k.CloseTime.Sub(prevTS)
			if gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				// Cap max sleep to avoid very long waits across gaps.
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = k.CloseTime

		select {
		case tickCh <- model.Tick{Symbol: k.Symbol, Price: k.Close, Qty: k.Volume, TickTS: k.CloseTime}:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case outCh <- k:
		case <-ctx.Done():
			return ctx.Err()
		}
		emitted++
	}

	log.Printf("[replay] completed: %d klines replayed", emitted)
	return nil
}
