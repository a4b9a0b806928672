package indicator

import (
	"math"

	"oibot/internal/model"
)

// ATR calculates the Average True Range with Wilder's smoothing, seeded by
// a simple average of the first `period` true ranges. Used as the fallback
// stop distance when no usable swing extremum exists.
type ATR struct {
	period    int
	count     int
	prevClose float64
	sum       float64
	current   float64
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string { return "ATR" }

func (a *ATR) Update(k model.Kline) {
	tr := k.High - k.Low
	if a.count > 0 {
		tr = math.Max(tr, math.Max(
			math.Abs(k.High-a.prevClose),
			math.Abs(k.Low-a.prevClose),
		))
	}
	a.prevClose = k.Close
	a.count++

	if a.count <= a.period {
		a.sum += tr
		if a.count == a.period {
			a.current = a.sum / float64(a.period)
		}
		return
	}

	p := float64(a.period)
	a.current = (a.current*(p-1) + tr) / p
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count >= a.period }

func (a *ATR) Reset() {
	a.count = 0
	a.prevClose = 0
	a.sum = 0
	a.current = 0
}

// Snapshot serializes the ATR state for checkpoint persistence.
func (a *ATR) Snapshot() ATRState {
	return ATRState{
		Period:    a.period,
		Count:     a.count,
		PrevClose: a.prevClose,
		Sum:       a.sum,
		Current:   a.current,
	}
}

// Restore loads ATR state from a checkpoint.
func (a *ATR) Restore(s ATRState) {
	a.period = s.Period
	a.count = s.Count
	a.prevClose = s.PrevClose
	a.sum = s.Sum
	a.current = s.Current
}

// ATRState is the serialized recurrence state of an ATR.
type ATRState struct {
	Period    int     `json:"period"`
	Count     int     `json:"count"`
	PrevClose float64 `json:"prev_close"`
	Sum       float64 `json:"sum,omitempty"`
	Current   float64 `json:"current"`
}
