package model

import (
	"encoding/json"
	"time"
)

// Kline represents one OHLCV bar for a symbol and timeframe.
// Only bars with Closed=true may mutate indicator state; a forming bar
// is repainted by the exchange until its interval elapses.
type Kline struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"` // e.g. "5m", "15m"
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"` // bar end (UTC)
	Closed    bool      `json:"closed"`
}

// Key returns a unique key for this bar's stream: "symbol:timeframe".
func (k *Kline) Key() string {
	return k.Symbol + ":" + k.Timeframe
}

// JSON returns the JSON-encoded kline (ignoring errors for hot-path usage).
func (k *Kline) JSON() []byte {
	b, _ := json.Marshal(k)
	return b
}

// TimeframeDuration maps a timeframe label to its bar interval.
// Returns 0 for unknown labels.
func TimeframeDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	return 0
}
