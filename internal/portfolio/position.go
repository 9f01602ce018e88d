package portfolio

import (
	"math"

	"github.com/nashquant/backtesthub/internal/schema"
)

const qtyEps = 1e-12

// Position is the holding of one asset. Only fills change it.
type Position struct {
	Instrument string  `json:"instrument"`
	Qty        float64 `json:"qty"`
	AvgPrice   float64 `json:"avgPrice"`
	Realized   float64 `json:"realized"`
	Commission float64 `json:"commission"`
}

// Unrealized is the open P&L at mark.
func (p Position) Unrealized(mark float64) float64 {
	if p.Qty == 0 {
		return 0
	}
	return p.Qty * (mark - p.AvgPrice)
}

// Apply updates the position with a fill and returns the P&L it realized.
// Increases move the average entry price; reductions realize P&L against it;
// a reversal closes the old side and opens the rest at the fill price.
func (p *Position) Apply(fill schema.Fill) float64 {
	signed := fill.Signed()
	p.Commission += fill.Commission
	if signed == 0 {
		return 0
	}

	if p.Qty == 0 || sameSign(p.Qty, signed) {
		next := p.Qty + signed
		p.AvgPrice = (p.AvgPrice*math.Abs(p.Qty) + fill.Price*math.Abs(signed)) / math.Abs(next)
		p.Qty = next
		return 0
	}

	closing := min(math.Abs(signed), math.Abs(p.Qty))
	realized := closing * (fill.Price - p.AvgPrice) * math.Copysign(1, p.Qty)
	p.Realized += realized

	remaining := p.Qty + signed
	switch {
	case math.Abs(remaining) < qtyEps:
		p.Qty, p.AvgPrice = 0, 0
	case sameSign(remaining, p.Qty):
		p.Qty = remaining
	default:
		p.Qty, p.AvgPrice = remaining, fill.Price
	}
	return realized
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
