package indicator

import "oibot/internal/model"

// EMA calculates an Exponential Moving Average over bar closes.
// O(1) per update; no window storage needed.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
// The smoothing recurrence is seeded from a simple average over the first
// `period` closes.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(k model.Kline) {
	e.update(k.Close)
}

// update is shared with MACD, which feeds its own derived series.
func (e *EMA) update(price float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA = price*k + prev*(1-k), k = 2/(period+1)
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// Reset clears the EMA state so warm-up re-accumulates.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}

// Snapshot serializes the EMA state for checkpoint persistence.
func (e *EMA) Snapshot() EMAState {
	return EMAState{
		Period:  e.period,
		Current: e.current,
		Count:   e.count,
		Sum:     e.sum,
	}
}

// Restore loads EMA state from a checkpoint.
func (e *EMA) Restore(s EMAState) {
	e.period = s.Period
	e.multiplier = 2.0 / float64(s.Period+1)
	e.current = s.Current
	e.count = s.Count
	e.sum = s.Sum
}

// EMAState is the serialized recurrence state of an EMA.
type EMAState struct {
	Period  int     `json:"period"`
	Current float64 `json:"current"`
	Count   int     `json:"count"`
	Sum     float64 `json:"sum,omitempty"`
}
