package indicator

import (
	"slices"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// Factory builds an indicator named name from its inputs and parameters.
type Factory func(name string, inputs []string, params []float64) (Indicator, error)

// Registry maps indicator kinds to factories. It is passed explicitly to the
// engine; there is no package-level registry.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry creates a registry holding every built-in kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	builtins := map[string]Factory{
		KindSMA:      newSMA,
		KindEMA:      newEMA,
		KindStdDev:   newStdDev,
		KindReturns:  newReturns,
		KindROC:      newROC,
		KindEWMVar:   newEWMVar,
		KindHighest:  newExtreme(true),
		KindLowest:   newExtreme(false),
		KindDiff:     newDiff,
		KindCross:    newCross,
		KindBreakout: newBreakout,
	}
	for kind, f := range builtins {
		r.factories[kind] = f
	}
	return r
}

// Register adds a factory for kind.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" || f == nil {
		return exception.ErrInvalidArgument
	}
	if _, ok := r.factories[kind]; ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "indicator kind %s already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

// Build creates the indicator declared by spec.
func (r *Registry) Build(spec Spec) (Indicator, error) {
	f, ok := r.factories[spec.Kind]
	if !ok {
		return nil, errors.Wrapf(exception.ErrUnknownIndicator, "kind %q", spec.Kind)
	}
	return f(spec.Name(), slices.Clone(spec.Inputs), slices.Clone(spec.Params))
}

// Plan builds specs in declaration order. Every input must be one of
// available or the output of an earlier spec. A spec repeating an earlier
// output name with the same definition is dropped.
func (r *Registry) Plan(specs []Spec, available []string) ([]Indicator, error) {
	known := make(map[string]bool, len(available)+len(specs))
	for _, name := range available {
		known[name] = true
	}
	declared := make(map[string]Spec, len(specs))

	out := make([]Indicator, 0, len(specs))
	for _, spec := range specs {
		name := spec.Name()
		if prev, ok := declared[name]; ok {
			if prev.Kind == spec.Kind && slices.Equal(prev.Inputs, spec.Inputs) && slices.Equal(prev.Params, spec.Params) {
				continue
			}
			return nil, errors.Wrapf(exception.ErrInvalidParams, "line %s declared twice with different definitions", name)
		}
		if known[name] {
			return nil, errors.Wrapf(exception.ErrInvalidParams, "line %s shadows an existing line", name)
		}
		for _, in := range spec.Inputs {
			if !known[in] {
				return nil, errors.Wrapf(exception.ErrUnknownLine, "%s reads %s before it is declared", name, in)
			}
		}
		ind, err := r.Build(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, ind)
		known[name] = true
		declared[name] = spec
	}
	return out, nil
}
