package strategy

import (
	"fmt"

	"oibot/internal/indicator"
	"oibot/internal/model"
)

// ConfluenceConfig parameterizes confluence mode.
type ConfluenceConfig struct {
	MinVolume float64 // liquidity floor per bar

	// SwingBars is how many recent bars form the swing extremum used as
	// the stop anchor.
	SwingBars int
	// MaxStopPct caps the stop distance as a percentage of entry; a swing
	// further away than this is tightened to the cap.
	MaxStopPct float64
	// ATRStopMult is the stop distance in ATRs when no swing extremum is
	// available yet.
	ATRStopMult float64
}

// Confluence is the five-minute futures scalping mode: on each closed bar
// it requires trend alignment (EMA order), VWAP side, MACD-vs-signal and an
// RSI momentum band to agree before emitting. The lifecycle manager is
// consulted first; a symbol already in a trade never signals again, no
// matter how many times the same bar is delivered.
type Confluence struct {
	cfg    ConfluenceConfig
	open   OpenChecker
	recent map[string][]model.Kline // last SwingBars bars per symbol
}

// NewConfluence creates a confluence-mode strategy.
func NewConfluence(cfg ConfluenceConfig, open OpenChecker) *Confluence {
	if cfg.SwingBars <= 0 {
		cfg.SwingBars = 3
	}
	if cfg.MaxStopPct <= 0 {
		cfg.MaxStopPct = 0.5
	}
	if cfg.ATRStopMult <= 0 {
		cfg.ATRStopMult = 1.5
	}
	return &Confluence{
		cfg:    cfg,
		open:   open,
		recent: make(map[string][]model.Kline),
	}
}

func (s *Confluence) Name() string { return "confluence" }

// OnTick is a no-op: confluence mode acts on closed bars only.
func (s *Confluence) OnTick(model.Tick) *model.Signal { return nil }

// OnOpenInterest is a no-op: open interest does not gate confluence entries.
func (s *Confluence) OnOpenInterest(model.OpenInterest) {}

func (s *Confluence) OnClosedKline(k model.Kline, snap indicator.Snapshot) *model.Signal {
	buf := append(s.recent[k.Symbol], k)
	if n := len(buf) - s.cfg.SwingBars; n > 0 {
		buf = buf[n:]
	}
	s.recent[k.Symbol] = buf

	if s.open != nil && s.open.HasOpen(k.Symbol) {
		return nil
	}

	if !snap.EMAFast.Ready || !snap.EMAMid.Ready || !snap.EMASlow.Ready ||
		!snap.MACD.Ready || !snap.RSI.Ready || !snap.VWAP.Ready {
		return nil
	}
	if k.Volume < s.cfg.MinVolume {
		return nil
	}

	p := k.Close
	longOK := snap.EMAFast.V > snap.EMAMid.V && snap.EMAMid.V > snap.EMASlow.V &&
		p > snap.VWAP.V &&
		snap.MACD.V > snap.MACDSignal.V &&
		snap.RSI.V > 50 && snap.RSI.V <= 70
	shortOK := snap.EMAFast.V < snap.EMAMid.V && snap.EMAMid.V < snap.EMASlow.V &&
		p < snap.VWAP.V &&
		snap.MACD.V < snap.MACDSignal.V &&
		snap.RSI.V >= 30 && snap.RSI.V < 50

	var dir model.Direction
	switch {
	case longOK:
		dir = model.Long
	case shortOK:
		dir = model.Short
	default:
		return nil
	}

	stop, ok := s.stopPrice(k.Symbol, dir, p, snap)
	if !ok {
		return nil
	}

	return &model.Signal{
		Symbol:    k.Symbol,
		Direction: dir,
		Price:     p,
		Volume:    k.Volume,
		StopPrice: stop,
		Reason: fmt.Sprintf("%s confluence: ema %.6f/%.6f/%.6f vwap %.6f macd %.6f/%.6f rsi %.1f",
			dir, snap.EMAFast.V, snap.EMAMid.V, snap.EMASlow.V, snap.VWAP.V, snap.MACD.V, snap.MACDSignal.V, snap.RSI.V),
		Time: k.CloseTime,
	}
}

// stopPrice derives the protective stop from the most recent swing
// extremum, tightened to at most MaxStopPct from entry. With too little
// bar history the ATR distance substitutes; with neither, no signal.
func (s *Confluence) stopPrice(symbol string, dir model.Direction, entry float64, snap indicator.Snapshot) (float64, bool) {
	buf := s.recent[symbol]

	if len(buf) >= s.cfg.SwingBars {
		if dir == model.Long {
			swing := buf[0].Low
			for _, b := range buf[1:] {
				if b.Low < swing {
					swing = b.Low
				}
			}
			floor := entry * (1 - s.cfg.MaxStopPct/100)
			if swing < floor {
				swing = floor
			}
			if swing < entry {
				return swing, true
			}
		} else {
			swing := buf[0].High
			for _, b := range buf[1:] {
				if b.High > swing {
					swing = b.High
				}
			}
			ceil := entry * (1 + s.cfg.MaxStopPct/100)
			if swing > ceil {
				swing = ceil
			}
			if swing > entry {
				return swing, true
			}
		}
	}

	if snap.ATR.Ready && snap.ATR.V > 0 {
		if dir == model.Long {
			return entry - s.cfg.ATRStopMult*snap.ATR.V, true
		}
		return entry + s.cfg.ATRStopMult*snap.ATR.V, true
	}
	return 0, false
}
