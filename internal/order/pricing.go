package order

import (
	"math"
	"strings"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// CommissionModel prices the commission of one fill. Implementations are
// pure and shared by every instrument.
type CommissionModel interface {
	Commission(qty, price float64) float64
}

// FixedCommission charges a flat amount per fill.
type FixedCommission struct {
	Amount float64
}

func (c FixedCommission) Commission(qty, _ float64) float64 {
	if qty == 0 {
		return 0
	}
	return c.Amount
}

// PerShareCommission charges Rate per unit, at least Minimum.
type PerShareCommission struct {
	Rate    float64
	Minimum float64
}

func (c PerShareCommission) Commission(qty, _ float64) float64 {
	if qty == 0 {
		return 0
	}
	return max(c.Rate*math.Abs(qty), c.Minimum)
}

// PercentageCommission charges Rate of the notional, at least Minimum.
type PercentageCommission struct {
	Rate    float64
	Minimum float64
}

func (c PercentageCommission) Commission(qty, price float64) float64 {
	if qty == 0 {
		return 0
	}
	return max(c.Rate*math.Abs(qty*price), c.Minimum)
}

// NewCommissionModel builds a model from its config name.
func NewCommissionModel(model string, rate, minimum float64) (CommissionModel, error) {
	if rate < 0 || minimum < 0 {
		return nil, errors.Wrapf(exception.ErrInvalidConfig, "commission rate %v minimum %v", rate, minimum)
	}
	switch strings.ToLower(strings.TrimSpace(model)) {
	case "", "percentage", "perc":
		return PercentageCommission{Rate: rate, Minimum: minimum}, nil
	case "fixed", "abs":
		return FixedCommission{Amount: rate}, nil
	case "per_share":
		return PerShareCommission{Rate: rate, Minimum: minimum}, nil
	default:
		return nil, errors.Wrapf(exception.ErrInvalidConfig, "commission model %q", model)
	}
}

// Pricer turns a reference price into an executed price and commission.
type Pricer struct {
	SlippageBps float64
	Commission  CommissionModel
}

// FillPrice moves ref against the order by SlippageBps basis points.
func (p Pricer) FillPrice(side schema.OrderSide, ref float64) float64 {
	return ref * (1 + p.SlippageBps/10000*side.Sign())
}

// Quote returns the fill price and commission for qty units at ref.
func (p Pricer) Quote(side schema.OrderSide, qty, ref float64) (price, commission float64) {
	price = p.FillPrice(side, ref)
	if p.Commission != nil {
		commission = p.Commission.Commission(qty, price)
	}
	return price, commission
}
