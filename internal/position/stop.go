package position

import "oibot/internal/model"

// StopPolicy proposes protective-stop adjustments as price moves. The
// manager only ever applies adjustments that tighten the stop toward
// price; a policy can therefore be sloppy about monotonicity.
type StopPolicy interface {
	Adjust(p model.Position, price float64) (float64, bool)
}

// BreakEven moves the stop to the entry price once the trade has moved
// TriggerRR times the current risk distance in its favor. After the move
// the policy goes quiet for that position.
type BreakEven struct {
	TriggerRR float64 // multiples of risk distance, default 1.0
	OffsetPct float64 // stop offset past entry, percent of entry
}

func (b BreakEven) Adjust(p model.Position, price float64) (float64, bool) {
	trig := b.TriggerRR
	if trig <= 0 {
		trig = 1
	}
	if p.Direction == model.Long {
		if p.StopPrice >= p.EntryPrice {
			return 0, false
		}
		risk := p.EntryPrice - p.StopPrice
		if price >= p.EntryPrice+trig*risk {
			return p.EntryPrice * (1 + b.OffsetPct/100), true
		}
		return 0, false
	}
	if p.StopPrice <= p.EntryPrice {
		return 0, false
	}
	risk := p.StopPrice - p.EntryPrice
	if price <= p.EntryPrice-trig*risk {
		return p.EntryPrice * (1 - b.OffsetPct/100), true
	}
	return 0, false
}
