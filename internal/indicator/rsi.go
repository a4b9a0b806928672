package indicator

import "oibot/internal/model"

// RSI calculates the Relative Strength Index using Wilder's smoothing method,
// bounded 0–100. Update is O(1) per bar; no history scans.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(k model.Kline) {
	price := k.Close
	r.count++

	if r.count == 1 {
		// First bar; just record price, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain := 0.0
	loss := 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			// First RSI value using SMA seed
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.recompute()
		}
		return
	}

	// Wilder's smoothing: avgGain = (prevAvgGain*(period-1) + gain) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.recompute()
}

func (r *RSI) recompute() {
	if r.avgLoss == 0 {
		r.current = 100.0
		return
	}
	rs := r.avgGain / r.avgLoss
	r.current = 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }

func (r *RSI) Reset() {
	r.count = 0
	r.prevClose = 0
	r.avgGain = 0
	r.avgLoss = 0
	r.current = 0
}

// Snapshot serializes the RSI state for checkpoint persistence.
func (r *RSI) Snapshot() RSIState {
	return RSIState{
		Period:    r.period,
		Count:     r.count,
		PrevClose: r.prevClose,
		AvgGain:   r.avgGain,
		AvgLoss:   r.avgLoss,
		Current:   r.current,
	}
}

// Restore loads RSI state from a checkpoint.
func (r *RSI) Restore(s RSIState) {
	r.period = s.Period
	r.count = s.Count
	r.prevClose = s.PrevClose
	r.avgGain = s.AvgGain
	r.avgLoss = s.AvgLoss
	r.current = s.Current
}

// RSIState is the serialized recurrence state of an RSI.
type RSIState struct {
	Period    int     `json:"period"`
	Count     int     `json:"count"`
	PrevClose float64 `json:"prev_close"`
	AvgGain   float64 `json:"avg_gain"`
	AvgLoss   float64 `json:"avg_loss"`
	Current   float64 `json:"current"`
}
