package engine

import (
	"math"
	"strings"

	"github.com/nashquant/backtesthub/internal/calendar"
	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/instrument"
	"github.com/nashquant/backtesthub/internal/order"
	"github.com/nashquant/backtesthub/internal/risk"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
)

const (
	defaultInitialCash   = 10000
	defaultMemoryCeiling = 256 << 20
	tradingDaysPerYear   = 252
)

// Config is the resolved run configuration.
type Config struct {
	InitialCash    float64
	ExecutionPrice schema.PriceRef
	SlippageBps    float64
	Commission     order.CommissionModel
	Risk           risk.Config
	Sizing         Sizing
	Lines          indicator.Policy
	Calendar       calendar.Policy
	// Workers bounds the strategy fan-out per step.
	Workers int
	// CloseAtEnd liquidates open positions at the final close once the last
	// step is recorded.
	CloseAtEnd bool
	// BaseIndicators are computed on every base instrument.
	BaseIndicators []indicator.Spec
}

// DefaultConfig returns next-bar-open fills without costs, one unit per
// signal and a leverage limit of 1.
func DefaultConfig() Config {
	return Config{
		InitialCash:    defaultInitialCash,
		ExecutionPrice: schema.PriceRefOpen,
		Commission:     order.PercentageCommission{},
		Risk:           risk.Config{LeverageLimit: 1},
		Sizing:         Sizing{Mode: SizingFixed, Units: 1},
		Lines:          indicator.Policy{MemoryCeilingBytes: defaultMemoryCeiling},
		Calendar:       calendar.PolicyTruncateShortest,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case !(c.InitialCash > 0) || math.IsInf(c.InitialCash, 0):
		return errors.Wrapf(exception.ErrInvalidConfig, "initial cash %v", c.InitialCash)
	case c.ExecutionPrice != schema.PriceRefOpen && c.ExecutionPrice != schema.PriceRefClose:
		return errors.Wrapf(exception.ErrInvalidConfig, "execution price %s", c.ExecutionPrice)
	case c.SlippageBps < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "slippage bps %v", c.SlippageBps)
	case c.Commission == nil:
		return errors.Wrap(exception.ErrInvalidConfig, "commission model is nil")
	case c.Risk.LeverageLimit < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "leverage limit %v", c.Risk.LeverageLimit)
	case c.Risk.MaxOrderQty < 0 || c.Risk.MaxPosition < 0:
		return errors.Wrap(exception.ErrInvalidConfig, "order limits must not be negative")
	case c.Calendar == calendar.PolicyUnknown:
		return errors.Wrap(exception.ErrInvalidConfig, "calendar policy is unknown")
	case c.Lines.MemoryCeilingBytes < 0:
		return errors.Wrapf(exception.ErrInvalidConfig, "memory ceiling %d", c.Lines.MemoryCeilingBytes)
	}
	return c.Sizing.validate()
}

// SizingMode selects how a signal becomes a target position.
type SizingMode uint16

const (
	SizingUnknown SizingMode = iota
	// SizingFixed reads the signal as a direction and trades Units.
	SizingFixed
	// SizingWeight reads the signal as a fraction of equity.
	SizingWeight
	// SizingVolatility scales a direction so the position carries VolTarget
	// annualised volatility.
	SizingVolatility
)

func (m SizingMode) String() string {
	switch m {
	case SizingFixed:
		return "fixed"
	case SizingWeight:
		return "weight"
	case SizingVolatility:
		return "volatility"
	default:
		return "unknown"
	}
}

// ParseSizingMode converts a config value. Empty means fixed.
func ParseSizingMode(s string) (SizingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed":
		return SizingFixed, nil
	case "weight":
		return SizingWeight, nil
	case "volatility", "vol":
		return SizingVolatility, nil
	default:
		return SizingUnknown, errors.Wrapf(exception.ErrInvalidConfig, "sizing mode %q", s)
	}
}

// Sizing converts signals into target positions.
type Sizing struct {
	Mode      SizingMode
	Units     float64
	VolTarget float64
	VolAlpha  float64
	// Lot rounds weight and volatility targets toward zero. Zero means 1.
	Lot float64
}

func (s Sizing) validate() error {
	switch s.Mode {
	case SizingFixed:
		if !(s.Units > 0) {
			return errors.Wrapf(exception.ErrInvalidConfig, "fixed sizing units %v", s.Units)
		}
	case SizingWeight:
	case SizingVolatility:
		if !(s.VolTarget > 0) {
			return errors.Wrapf(exception.ErrInvalidConfig, "volatility target %v", s.VolTarget)
		}
		if !(s.VolAlpha > 0) || s.VolAlpha > 1 {
			return errors.Wrapf(exception.ErrInvalidConfig, "volatility alpha %v", s.VolAlpha)
		}
	default:
		return errors.Wrap(exception.ErrInvalidConfig, "sizing mode is unknown")
	}
	if s.Lot < 0 {
		return errors.Wrapf(exception.ErrInvalidConfig, "lot %v", s.Lot)
	}
	return nil
}

// Indicators are the derived lines sizing needs on every asset.
func (s Sizing) Indicators() []indicator.Spec {
	if s.Mode != SizingVolatility {
		return nil
	}
	returns := indicator.Spec{Kind: indicator.KindReturns, Inputs: []string{instrument.LineClose}}
	variance := indicator.Spec{Kind: indicator.KindEWMVar, Inputs: []string{returns.Name()}, Params: []float64{s.VolAlpha}}
	return []indicator.Spec{returns, variance}
}

// varianceLine is the name of the variance line read by volatility sizing.
func (s Sizing) varianceLine() string {
	specs := s.Indicators()
	if len(specs) == 0 {
		return ""
	}
	return specs[len(specs)-1].Name()
}

// Target returns the position the signal asks for. ok is false when the
// signal means "keep whatever is held".
func (s Sizing) Target(signal, equity, price, variance float64, allowShort bool) (target float64, ok bool) {
	switch s.Mode {
	case SizingFixed:
		switch {
		case signal > 0:
			return s.Units, true
		case signal < 0 && allowShort:
			return -s.Units, true
		case signal < 0:
			return 0, true
		default:
			return 0, false
		}

	case SizingWeight:
		if !(price > 0) || !(equity > 0) {
			return 0, false
		}
		if signal < 0 && !allowShort {
			return 0, true
		}
		return s.round(signal * equity / price), true

	case SizingVolatility:
		if signal == 0 {
			return 0, false
		}
		if signal < 0 && !allowShort {
			return 0, true
		}
		vol := math.Sqrt(variance * tradingDaysPerYear)
		if !(vol > 0) || !(price > 0) || !(equity > 0) || math.IsInf(vol, 0) {
			return 0, false
		}
		return math.Copysign(s.round(s.VolTarget/vol*equity/price), signal), true

	default:
		return 0, false
	}
}

func (s Sizing) round(units float64) float64 {
	lot := s.Lot
	if lot == 0 {
		lot = 1
	}
	return math.Trunc(units/lot) * lot
}
