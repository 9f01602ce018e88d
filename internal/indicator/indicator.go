package indicator

import (
	"math"
	"strconv"
	"strings"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/line"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// Indicator derives one line from other lines of the same instrument.
//
// Compute and Next must agree value for value: Compute sees whole-history
// arrays before the run, Next sees only what the cursor reveals.
type Indicator interface {
	// Name is the output line name.
	Name() string
	// Inputs are raw or previously declared derived line names.
	Inputs() []string
	// Lookback is the number of past bars needed before the first valid value.
	Lookback() int
	// Compute returns the full output sequence, NaN during warm-up.
	Compute(inputs [][]float64) ([]float64, error)
	// Next returns the value for the current step. self is the output line,
	// readable at offsets >= 1.
	Next(inputs []line.Reader, self line.Reader) (float64, error)
}

// Spec declares an indicator by kind.
type Spec struct {
	Kind   string    `json:"kind" yaml:"kind"`
	Inputs []string  `json:"inputs" yaml:"inputs"`
	Params []float64 `json:"params,omitempty" yaml:"params,omitempty"`
	// As overrides the generated output line name.
	As string `json:"as,omitempty" yaml:"as,omitempty"`
}

// Name returns the output line name, kind(inputs,params) unless As is set.
func (s Spec) Name() string {
	if s.As != "" {
		return s.As
	}
	parts := make([]string, 0, len(s.Inputs)+len(s.Params))
	parts = append(parts, s.Inputs...)
	for _, p := range s.Params {
		parts = append(parts, strconv.FormatFloat(p, 'g', -1, 64))
	}
	return s.Kind + "(" + strings.Join(parts, ",") + ")"
}

// source is what a kernel reads from: a live line or a precompute cursor.
type source interface {
	Read(offset int) (float64, error)
}

// kernel computes the value at the current position of its sources.
type kernel func(in []source, self source) (float64, error)

// windowed is the shared implementation of the built-ins. Both evaluation
// modes run the same kernel, so outputs are bit-identical.
type windowed struct {
	name     string
	inputs   []string
	lookback int
	kernel   kernel
}

func (w *windowed) Name() string     { return w.name }
func (w *windowed) Inputs() []string { return w.inputs }
func (w *windowed) Lookback() int    { return w.lookback }

func (w *windowed) Compute(inputs [][]float64) ([]float64, error) {
	if len(inputs) != len(w.inputs) {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "%s: want %d inputs, got %d", w.name, len(w.inputs), len(inputs))
	}
	n := 0
	if len(inputs) != 0 {
		n = len(inputs[0])
	}
	out := make([]float64, n)
	cursors := make([]arrayCursor, len(inputs))
	in := make([]source, len(inputs))
	for j := range inputs {
		if len(inputs[j]) != n {
			return nil, errors.Wrapf(exception.ErrInvalidArgument, "%s: input %s has %d values, want %d", w.name, w.inputs[j], len(inputs[j]), n)
		}
		cursors[j].values = inputs[j]
		in[j] = &cursors[j]
	}
	self := &arrayCursor{values: out}

	for i := range n {
		for j := range cursors {
			cursors[j].cursor = i
			cursors[j].visible = i + 1
		}
		self.cursor = i
		self.visible = i

		v, err := w.kernel(in, self)
		if err != nil {
			if !errors.Is(err, exception.ErrInsufficientHistory) {
				return nil, errors.Wrapf(err, "%s[%d]", w.name, i)
			}
			v = math.NaN()
		}
		out[i] = v
	}
	return out, nil
}

func (w *windowed) Next(inputs []line.Reader, self line.Reader) (float64, error) {
	in := make([]source, len(inputs))
	for j, r := range inputs {
		in[j] = r
	}
	return w.kernel(in, self)
}

// arrayCursor reads a precomputed array as if it were a line at cursor.
type arrayCursor struct {
	values  []float64
	cursor  int
	visible int
}

func (c *arrayCursor) Read(offset int) (float64, error) {
	if offset < 0 {
		return 0, exception.ErrLookaheadViolation
	}
	idx := c.cursor - offset
	if idx < 0 {
		return 0, exception.ErrInsufficientHistory
	}
	if idx >= c.visible {
		return 0, exception.ErrLookaheadViolation
	}
	return c.values[idx], nil
}
