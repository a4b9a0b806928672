package model

import "time"

// Direction is the side of a trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Opposite returns the exit side for a position in this direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Signal is an entry intent emitted by a strategy. It is ephemeral:
// consumed once by the risk gate, never persisted.
type Signal struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Price     float64   `json:"price"`  // reference price at emission
	Volume    float64   `json:"volume"` // bar/tick volume backing the signal
	StopPrice float64   `json:"stop_price"` // 0 = strategy supplies no stop
	Reason    string    `json:"reason"`
	Time      time.Time `json:"time"`
}
