package indicator

import (
	"errors"
	"log"
	"time"

	"oibot/internal/model"
)

// Data anomalies: the engine drops the offending bar and keeps its
// recurrence state untouched. Never fatal.
var (
	ErrNotClosed  = errors.New("indicator: bar is not closed")
	ErrOutOfOrder = errors.New("indicator: bar close time out of order")
	ErrDuplicate  = errors.New("indicator: duplicate bar close time")
)

// Config specifies the indicator set computed per stream.
type Config struct {
	EMAFast int // e.g. 9
	EMAMid  int // e.g. 21
	EMASlow int // e.g. 50

	MACDFast   int // e.g. 12
	MACDSlow   int // e.g. 26
	MACDSignal int // e.g. 9

	RSIPeriod int // e.g. 14
	ATRPeriod int // e.g. 14

	// VWAPBoundary is the session anchor as an offset from UTC midnight.
	VWAPBoundary time.Duration
}

// Snapshot is the per-bar indicator readout handed to strategies. Each
// reading carries its own Ready flag; a not-ready reading must be ignored.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	CloseTime time.Time `json:"close_time"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`

	EMAFast    Value `json:"ema_fast"`
	EMAMid     Value `json:"ema_mid"`
	EMASlow    Value `json:"ema_slow"`
	MACD       Value `json:"macd"`
	MACDSignal Value `json:"macd_signal"`
	RSI        Value `json:"rsi"`
	VWAP       Value `json:"vwap"`
	ATR        Value `json:"atr"`
}

// stream holds live indicator instances for one symbol+timeframe.
type stream struct {
	emaFast *EMA
	emaMid  *EMA
	emaSlow *EMA
	macd    *MACD
	rsi     *RSI
	vwap    *VWAP
	atr     *ATR

	lastClose time.Time
	interval  time.Duration
}

// Engine computes the configured indicator set across multiple
// symbol+timeframe streams. Designed for single-goroutine usage per
// stream; callers serialize updates per symbol.
type Engine struct {
	cfg     Config
	streams map[string]*stream
}

// NewEngine creates an indicator engine with the given config.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		streams: make(map[string]*stream, 64),
	}
}

func (e *Engine) newStream(tf string) *stream {
	return &stream{
		emaFast:  NewEMA(e.cfg.EMAFast),
		emaMid:   NewEMA(e.cfg.EMAMid),
		emaSlow:  NewEMA(e.cfg.EMASlow),
		macd:     NewMACD(e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal),
		rsi:      NewRSI(e.cfg.RSIPeriod),
		vwap:     NewVWAP(e.cfg.VWAPBoundary),
		atr:      NewATR(e.cfg.ATRPeriod),
		interval: model.TimeframeDuration(tf),
	}
}

func (s *stream) reset() {
	s.emaFast.Reset()
	s.emaMid.Reset()
	s.emaSlow.Reset()
	s.macd.Reset()
	s.rsi.Reset()
	s.vwap.Reset()
	s.atr.Reset()
}

// Update feeds a closed bar into the stream for (k.Symbol, k.Timeframe)
// and returns the resulting snapshot.
//
// Bars must arrive in non-decreasing close-time order per stream; a
// duplicate or out-of-order close time is rejected without touching
// recurrence state. A gap longer than one bar interval invalidates the
// stream: all indicators reset and warm-up re-accumulates, so a stale
// recurrence never masquerades as ready.
func (e *Engine) Update(k model.Kline) (Snapshot, error) {
	if !k.Closed {
		return Snapshot{}, ErrNotClosed
	}

	key := k.Key()
	st, ok := e.streams[key]
	if !ok {
		st = e.newStream(k.Timeframe)
		e.streams[key] = st
	}

	if !st.lastClose.IsZero() {
		if k.CloseTime.Equal(st.lastClose) {
			return Snapshot{}, ErrDuplicate
		}
		if k.CloseTime.Before(st.lastClose) {
			return Snapshot{}, ErrOutOfOrder
		}
		if st.interval > 0 && k.CloseTime.Sub(st.lastClose) > st.interval {
			log.Printf("[indicator] %s: gap %v > %v; resetting warm-up",
				key, k.CloseTime.Sub(st.lastClose), st.interval)
			st.reset()
		}
	}
	st.lastClose = k.CloseTime

	st.emaFast.Update(k)
	st.emaMid.Update(k)
	st.emaSlow.Update(k)
	st.macd.Update(k)
	st.rsi.Update(k)
	st.vwap.Update(k)
	st.atr.Update(k)

	return Snapshot{
		Symbol:     k.Symbol,
		Timeframe:  k.Timeframe,
		CloseTime:  k.CloseTime,
		Close:      k.Close,
		Volume:     k.Volume,
		EMAFast:    reading(st.emaFast),
		EMAMid:     reading(st.emaMid),
		EMASlow:    reading(st.emaSlow),
		MACD:       reading(st.macd),
		MACDSignal: Value{V: st.macd.Signal(), Ready: st.macd.Ready()},
		RSI:        reading(st.rsi),
		VWAP:       reading(st.vwap),
		ATR:        reading(st.atr),
	}, nil
}

// WarmupBars returns the number of closed bars needed before every
// configured indicator reports ready.
func (e *Engine) WarmupBars() int {
	warm := e.cfg.EMASlow
	if n := e.cfg.MACDSlow + e.cfg.MACDSignal - 1; n > warm {
		warm = n
	}
	if n := e.cfg.RSIPeriod + 1; n > warm {
		warm = n
	}
	if n := e.cfg.ATRPeriod; n > warm {
		warm = n
	}
	return warm
}
