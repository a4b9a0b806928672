package indicator

import "oibot/internal/model"

// MACD calculates the Moving Average Convergence Divergence oscillator:
// the difference between a fast and a slow EMA of closes, plus a signal
// line that is an EMA of the MACD line itself.
//
// The signal line only starts accumulating once the slow EMA is seeded, so
// readiness requires slowPeriod + signalPeriod - 1 closed bars.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
}

// NewMACD creates a MACD with the given periods (typically 12, 26, 9).
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}
}

func (m *MACD) Name() string { return "MACD" }

func (m *MACD) Update(k model.Kline) {
	m.fast.Update(k)
	m.slow.Update(k)
	if !m.slow.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.update(m.line)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }

// Signal returns the signal line (EMA of the MACD line).
func (m *MACD) Signal() float64 { return m.signal.Value() }

func (m *MACD) Ready() bool { return m.slow.Ready() && m.signal.Ready() }

func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.line = 0
}

// Snapshot serializes the MACD state for checkpoint persistence.
func (m *MACD) Snapshot() MACDState {
	return MACDState{
		Fast:   m.fast.Snapshot(),
		Slow:   m.slow.Snapshot(),
		Signal: m.signal.Snapshot(),
		Line:   m.line,
	}
}

// Restore loads MACD state from a checkpoint.
func (m *MACD) Restore(s MACDState) {
	m.fast.Restore(s.Fast)
	m.slow.Restore(s.Slow)
	m.signal.Restore(s.Signal)
	m.line = s.Line
}

// MACDState is the serialized recurrence state of a MACD.
type MACDState struct {
	Fast   EMAState `json:"fast"`
	Slow   EMAState `json:"slow"`
	Signal EMAState `json:"signal"`
	Line   float64  `json:"line"`
}
