package strategy

import (
	"math"
	"slices"
	"strings"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/instrument"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// Config names a built-in strategy.
type Config struct {
	Name   string    `json:"name" yaml:"name"`
	Params []float64 `json:"params" yaml:"params"`
	Base   string    `json:"base,omitempty" yaml:"base,omitempty"`
}

// SignalLine emits the current value of one derived line.
type SignalLine struct {
	label string
	line  string
	specs []indicator.Spec
}

// NewSignalLine returns a strategy reading line after computing specs.
func NewSignalLine(label, line string, specs ...indicator.Spec) *SignalLine {
	return &SignalLine{label: label, line: line, specs: specs}
}

func (s *SignalLine) Name() string                 { return s.label }
func (s *SignalLine) Indicators() []indicator.Spec { return s.specs }

func (s *SignalLine) Evaluate(view instrument.View) (float64, error) {
	return view.Read(s.line, 0)
}

func constant(label string, v float64) Strategy {
	return Func{
		Label: label,
		Fn: func(instrument.View) (float64, error) {
			return v, nil
		},
	}
}

// BuyAndHold is long from the first bar.
func BuyAndHold() Strategy { return constant("buy_and_hold", 1) }

// SellAndHold is short from the first bar.
func SellAndHold() Strategy { return constant("sell_and_hold", -1) }

func crossOf(kind string, label string, fast, slow int, reverse bool) Strategy {
	f := indicator.Spec{Kind: kind, Inputs: []string{instrument.LineClose}, Params: []float64{float64(fast)}}
	s := indicator.Spec{Kind: kind, Inputs: []string{instrument.LineClose}, Params: []float64{float64(slow)}}
	inputs := []string{f.Name(), s.Name()}
	if reverse {
		inputs = []string{s.Name(), f.Name()}
	}
	cross := indicator.Spec{Kind: indicator.KindCross, Inputs: inputs}
	return NewSignalLine(label, cross.Name(), f, s, cross)
}

// SMACross is long while the fast simple average is above the slow one.
func SMACross(fast, slow int) Strategy {
	return crossOf(indicator.KindSMA, "sma_cross", fast, slow, false)
}

// ReverseSMACross is the mean-reverting mirror of SMACross.
func ReverseSMACross(fast, slow int) Strategy {
	return crossOf(indicator.KindSMA, "reverse_sma_cross", fast, slow, true)
}

// EMACross is long while the fast exponential average is above the slow one.
func EMACross(fast, slow int) Strategy {
	return crossOf(indicator.KindEMA, "ema_cross", fast, slow, false)
}

// Donchian follows breakouts of the period high/low channel.
func Donchian(period int) Strategy {
	p := []float64{float64(period)}
	upper := indicator.Spec{Kind: indicator.KindHighest, Inputs: []string{instrument.LineHigh}, Params: p}
	lower := indicator.Spec{Kind: indicator.KindLowest, Inputs: []string{instrument.LineLow}, Params: p}
	state := indicator.Spec{Kind: indicator.KindBreakout, Inputs: []string{instrument.LineClose, upper.Name(), lower.Name()}}
	return NewSignalLine("donchian", state.Name(), upper, lower, state)
}

// RelativeMomentum is long while the asset's rate of change over period beats
// the base instrument's and short otherwise.
type RelativeMomentum struct {
	base string
	roc  indicator.Spec
}

func NewRelativeMomentum(base string, period int) *RelativeMomentum {
	return &RelativeMomentum{
		base: base,
		roc:  indicator.Spec{Kind: indicator.KindROC, Inputs: []string{instrument.LineClose}, Params: []float64{float64(period)}},
	}
}

func (s *RelativeMomentum) Name() string                     { return "relative_momentum" }
func (s *RelativeMomentum) Indicators() []indicator.Spec     { return []indicator.Spec{s.roc} }
func (s *RelativeMomentum) BaseIndicators() []indicator.Spec { return []indicator.Spec{s.roc} }

func (s *RelativeMomentum) Evaluate(view instrument.View) (float64, error) {
	base, ok := view.Base(s.base)
	if !ok {
		return 0, errors.Wrapf(exception.ErrUnknownInstrument, "base %s", s.base)
	}
	own, err := view.Read(s.roc.Name(), 0)
	if err != nil {
		return 0, err
	}
	bench, err := base.Read(s.roc.Name(), 0)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(own) || math.IsNaN(bench) {
		return math.NaN(), nil
	}
	if own > bench {
		return 1, nil
	}
	return -1, nil
}

type builder func(cfg Config) (Strategy, error)

var builders = map[string]builder{
	"buy_and_hold":  func(cfg Config) (Strategy, error) { return BuyAndHold(), want(cfg, 0) },
	"sell_and_hold": func(cfg Config) (Strategy, error) { return SellAndHold(), want(cfg, 0) },
	"sma_cross": func(cfg Config) (Strategy, error) {
		fast, slow, err := windows(cfg)
		return SMACross(fast, slow), err
	},
	"reverse_sma_cross": func(cfg Config) (Strategy, error) {
		fast, slow, err := windows(cfg)
		return ReverseSMACross(fast, slow), err
	},
	"ema_cross": func(cfg Config) (Strategy, error) {
		fast, slow, err := windows(cfg)
		return EMACross(fast, slow), err
	},
	"donchian": func(cfg Config) (Strategy, error) {
		if err := want(cfg, 1); err != nil {
			return nil, err
		}
		p, err := period(cfg, cfg.Params[0])
		return Donchian(p), err
	},
	"relative_momentum": func(cfg Config) (Strategy, error) {
		if err := want(cfg, 1); err != nil {
			return nil, err
		}
		if cfg.Base == "" {
			return nil, errors.Wrapf(exception.ErrInvalidParams, "%s needs a base instrument", cfg.Name)
		}
		p, err := period(cfg, cfg.Params[0])
		return NewRelativeMomentum(cfg.Base, p), err
	},
}

// Build constructs a built-in strategy by name.
func Build(cfg Config) (Strategy, error) {
	b, ok := builders[strings.ToLower(cfg.Name)]
	if !ok {
		return nil, errors.Wrapf(exception.ErrUnknownStrategy, "%q", cfg.Name)
	}
	s, err := b(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Names lists the built-in strategy names, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func want(cfg Config, n int) error {
	if len(cfg.Params) != n {
		return errors.Wrapf(exception.ErrInvalidParams, "%s: want %d params, got %d", cfg.Name, n, len(cfg.Params))
	}
	return nil
}

func period(cfg Config, v float64) (int, error) {
	if v < 1 || v != math.Trunc(v) {
		return 0, errors.Wrapf(exception.ErrInvalidParams, "%s: window %v is not a positive integer", cfg.Name, v)
	}
	return int(v), nil
}

func windows(cfg Config) (int, int, error) {
	if err := want(cfg, 2); err != nil {
		return 0, 0, err
	}
	fast, err := period(cfg, cfg.Params[0])
	if err != nil {
		return 0, 0, err
	}
	slow, err := period(cfg, cfg.Params[1])
	if err != nil {
		return 0, 0, err
	}
	if fast >= slow {
		return 0, 0, errors.Wrapf(exception.ErrInvalidParams, "%s: fast window %d must be shorter than slow window %d", cfg.Name, fast, slow)
	}
	return fast, slow, nil
}
