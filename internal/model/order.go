package model

import "time"

// OrderType selects the entry order style.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderHandle identifies an order placed through the execution sink.
type OrderHandle string

// OrderEvent is an asynchronous report from the execution sink: either a
// fill or a failure for a previously placed order. Exactly one of the two
// is populated, distinguished by Failed.
type OrderEvent struct {
	Handle    OrderHandle `json:"handle"`
	Symbol    string      `json:"symbol"`
	FilledQty float64     `json:"filled_qty"`
	AvgPrice  float64     `json:"avg_price"`
	Failed    bool        `json:"failed"`
	Reason    string      `json:"reason,omitempty"`
	Time      time.Time   `json:"time"`
}
