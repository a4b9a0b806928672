package strategy

import (
	"fmt"
	"time"

	"oibot/internal/indicator"
	"oibot/internal/model"
)

// AnchorPolicy controls what happens to the rolling window after a signal
// fires, so the same move cannot re-trigger during the cooldown.
type AnchorPolicy string

const (
	// AnchorReset clears the whole window; percentage change restarts from
	// the first tick after the signal. Default.
	AnchorReset AnchorPolicy = "reset"
	// AnchorRoll keeps the window but drops the oldest (anchoring) samples,
	// so the change is measured against the post-signal baseline.
	AnchorRoll AnchorPolicy = "roll"
)

// ThresholdConfig parameterizes threshold mode.
type ThresholdConfig struct {
	PriceChangePct float64       // e.g. 2.5
	OIChangePct    float64       // e.g. 1.5
	Lookback       time.Duration // rolling window, default 5m; also the cooldown
	Anchor         AnchorPolicy
}

type pricePoint struct {
	ts    time.Time
	value float64
}

type thresholdWindow struct {
	prices        []pricePoint
	oi            []pricePoint
	cooldownUntil time.Time
}

// Threshold emits a long signal when price and open interest have both
// risen by their configured percentages within the lookback window. There
// is no short-side rule in this mode; the directional bias is deliberate.
type Threshold struct {
	cfg     ThresholdConfig
	windows map[string]*thresholdWindow
}

// NewThreshold creates a threshold-mode strategy.
func NewThreshold(cfg ThresholdConfig) *Threshold {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 5 * time.Minute
	}
	if cfg.Anchor == "" {
		cfg.Anchor = AnchorReset
	}
	return &Threshold{
		cfg:     cfg,
		windows: make(map[string]*thresholdWindow),
	}
}

func (s *Threshold) Name() string { return "threshold" }

func (s *Threshold) window(symbol string) *thresholdWindow {
	w, ok := s.windows[symbol]
	if !ok {
		w = &thresholdWindow{}
		s.windows[symbol] = w
	}
	return w
}

// prune drops points older than the lookback, keeping the window bounded.
func prune(points []pricePoint, cutoff time.Time) []pricePoint {
	i := 0
	for i < len(points) && points[i].ts.Before(cutoff) {
		i++
	}
	return points[i:]
}

func changePct(points []pricePoint) (float64, bool) {
	if len(points) < 2 || points[0].value == 0 {
		return 0, false
	}
	oldest := points[0].value
	latest := points[len(points)-1].value
	return (latest - oldest) / oldest * 100.0, true
}

func (s *Threshold) OnOpenInterest(oi model.OpenInterest) {
	w := s.window(oi.Symbol)
	w.oi = prune(w.oi, oi.SampledAt.Add(-s.cfg.Lookback))
	w.oi = append(w.oi, pricePoint{ts: oi.SampledAt, value: oi.Value})
}

func (s *Threshold) OnTick(t model.Tick) *model.Signal {
	w := s.window(t.Symbol)
	cutoff := t.TickTS.Add(-s.cfg.Lookback)
	w.prices = prune(w.prices, cutoff)
	w.oi = prune(w.oi, cutoff)
	w.prices = append(w.prices, pricePoint{ts: t.TickTS, value: t.Price})

	if t.TickTS.Before(w.cooldownUntil) {
		return nil
	}

	priceChg, ok := changePct(w.prices)
	if !ok {
		return nil
	}
	oiChg, ok := changePct(w.oi)
	if !ok {
		return nil
	}

	if priceChg < s.cfg.PriceChangePct || oiChg < s.cfg.OIChangePct {
		return nil
	}

	w.cooldownUntil = t.TickTS.Add(s.cfg.Lookback)
	switch s.cfg.Anchor {
	case AnchorRoll:
		// Drop the anchoring samples; the rest of the window rolls forward.
		if len(w.prices) > 1 {
			w.prices = w.prices[len(w.prices)-1:]
		}
		if len(w.oi) > 1 {
			w.oi = w.oi[len(w.oi)-1:]
		}
	default:
		w.prices = nil
		w.oi = nil
	}

	return &model.Signal{
		Symbol:    t.Symbol,
		Direction: model.Long,
		Price:     t.Price,
		Volume:    t.Qty,
		Reason:    fmt.Sprintf("price %+.2f%% oi %+.2f%% over %v", priceChg, oiChg, s.cfg.Lookback),
		Time:      t.TickTS,
	}
}

// OnClosedKline is a no-op: threshold mode operates on ticks and OI only.
func (s *Threshold) OnClosedKline(model.Kline, indicator.Snapshot) *model.Signal {
	return nil
}
