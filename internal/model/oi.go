package model

import "time"

// OpenInterest is a periodic sample of total outstanding futures contracts
// for a symbol. The poller retains at most one sample per polling interval
// per symbol; a later sample within the same interval replaces the earlier.
type OpenInterest struct {
	Symbol    string    `json:"symbol"`
	Value     float64   `json:"value"` // contracts outstanding
	SampledAt time.Time `json:"sampled_at"`
}
