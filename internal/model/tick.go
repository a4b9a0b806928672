package model

import "time"

// Tick represents a single spot trade tick from the exchange WebSocket.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	TickTS time.Time `json:"tick_ts"` // UTC timestamp
}
