package strategy

import (
	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/instrument"
)

// Strategy maps what an instrument has revealed so far to a signal. The same
// value is broadcast to every asset, so Evaluate must not keep state across
// instruments; stateful strategies implement Cloner.
type Strategy interface {
	Name() string
	// Indicators are computed on every asset before the run.
	Indicators() []indicator.Spec
	// Evaluate returns the signal for the current step. NaN or
	// exception.ErrInsufficientHistory mean no signal.
	Evaluate(view instrument.View) (float64, error)
}

// Cloner is implemented by strategies holding per-instrument state.
type Cloner interface {
	Clone() Strategy
}

// BaseDeclarer is implemented by strategies that read derived lines of base
// instruments.
type BaseDeclarer interface {
	BaseIndicators() []indicator.Spec
}

// Func adapts a plain function to Strategy.
type Func struct {
	Label string
	Specs []indicator.Spec
	Fn    func(view instrument.View) (float64, error)
}

func (f Func) Name() string                                   { return f.Label }
func (f Func) Indicators() []indicator.Spec                   { return f.Specs }
func (f Func) Evaluate(view instrument.View) (float64, error) { return f.Fn(view) }
