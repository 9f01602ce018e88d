package indicator

import (
	"math"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// Built-in kinds registered by DefaultRegistry.
const (
	KindSMA      = "sma"
	KindEMA      = "ema"
	KindStdDev   = "stddev"
	KindReturns  = "returns"
	KindROC      = "roc"
	KindEWMVar   = "ewmvar"
	KindHighest  = "highest"
	KindLowest   = "lowest"
	KindDiff     = "diff"
	KindCross    = "cross"
	KindBreakout = "breakout"
)

func isNaN(v float64) bool {
	return v != v
}

// sumWindow adds the last period values oldest first.
func sumWindow(src source, period int) (float64, error) {
	sum := 0.0
	for k := period - 1; k >= 0; k-- {
		v, err := src.Read(k)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

func newSMA(name string, inputs []string, params []float64) (Indicator, error) {
	period, err := periodParam(name, inputs, params, 1)
	if err != nil {
		return nil, err
	}
	return &windowed{
		name:     name,
		inputs:   inputs,
		lookback: period - 1,
		kernel: func(in []source, _ source) (float64, error) {
			sum, err := sumWindow(in[0], period)
			if err != nil {
				return 0, err
			}
			return sum / float64(period), nil
		},
	}, nil
}

// newEMA seeds with the simple average of the first full window.
func newEMA(name string, inputs []string, params []float64) (Indicator, error) {
	period, err := periodParam(name, inputs, params, 1)
	if err != nil {
		return nil, err
	}
	k := 2 / (float64(period) + 1)
	return &windowed{
		name:     name,
		inputs:   inputs,
		lookback: period - 1,
		kernel: func(in []source, self source) (float64, error) {
			prev, err := self.Read(1)
			if err != nil && !errors.Is(err, exception.ErrInsufficientHistory) {
				return 0, err
			}
			if err != nil || isNaN(prev) {
				sum, err := sumWindow(in[0], period)
				if err != nil {
					return 0, err
				}
				return sum / float64(period), nil
			}
			x, err := in[0].Read(0)
			if err != nil {
				return 0, err
			}
			return prev + k*(x-prev), nil
		},
	}, nil
}

// newStdDev is the population standard deviation over the window.
func newStdDev(name string, inputs []string, params []float64) (Indicator, error) {
	period, err := periodParam(name, inputs, params, 1)
	if err != nil {
		return nil, err
	}
	return &windowed{
		name:     name,
		inputs:   inputs,
		lookback: period - 1,
		kernel: func(in []source, _ source) (float64, error) {
			sum, err := sumWindow(in[0], period)
			if err != nil {
				return 0, err
			}
			mean := sum / float64(period)
			sq := 0.0
			for k := period - 1; k >= 0; k-- {
				v, err := in[0].Read(k)
				if err != nil {
					return 0, err
				}
				sq += (v - mean) * (v - mean)
			}
			return math.Sqrt(sq / float64(period)), nil
		},
	}, nil
}

func newReturns(name string, inputs []string, params []float64) (Indicator, error) {
	if err := arity(name, inputs, params, 1, 0); err != nil {
		return nil, err
	}
	return &windowed{
		name:     name,
		inputs:   inputs,
		lookback: 1,
		kernel: func(in []source, _ source) (float64, error) {
			return change(in[0], 1)
		},
	}, nil
}

func newROC(name string, inputs []string, params []float64) (Indicator, error) {
	period, err := periodParam(name, inputs, params, 1)
	if err != nil {
		return nil, err
	}
	return &windowed{
		name:     name,
		inputs:   inputs,
		lookback: period,
		kernel: func(in []source, _ source) (float64, error) {
			return change(in[0], period)
		},
	}, nil
}

func change(src source, period int) (float64, error) {
	past, err := src.Read(period)
	if err != nil {
		return 0, err
	}
	x, err := src.Read(0)
	if err != nil {
		return 0, err
	}
	if past == 0 {
		return math.NaN(), nil
	}
	return x/past - 1, nil
}

// newEWMVar is the exponentially weighted variance of a returns line,
// v = (1-alpha)*v' + alpha*r^2, seeded with the first squared return.
func newEWMVar(name string, inputs []string, params []float64) (Indicator, error) {
	if err := arity(name, inputs, params, 1, 1); err != nil {
		return nil, err
	}
	alpha := params[0]
	if alpha <= 0 || alpha > 1 {
		return nil, errors.Wrapf(exception.ErrInvalidParams, "%s: alpha must be in (0, 1]", name)
	}
	return &windowed{
		name:     name,
		inputs:   inputs,
		lookback: 0,
		kernel: func(in []source, self source) (float64, error) {
			r, err := in[0].Read(0)
			if err != nil {
				return 0, err
			}
			prev, err := self.Read(1)
			if err != nil && !errors.Is(err, exception.ErrInsufficientHistory) {
				return 0, err
			}
			if err != nil || isNaN(prev) {
				return r * r, nil
			}
			if isNaN(r) {
				return prev, nil
			}
			return (1-alpha)*prev + alpha*r*r, nil
		},
	}, nil
}

func newExtreme(highest bool) Factory {
	return func(name string, inputs []string, params []float64) (Indicator, error) {
		period, err := periodParam(name, inputs, params, 1)
		if err != nil {
			return nil, err
		}
		return &windowed{
			name:     name,
			inputs:   inputs,
			lookback: period - 1,
			kernel: func(in []source, _ source) (float64, error) {
				best := math.NaN()
				for k := period - 1; k >= 0; k-- {
					v, err := in[0].Read(k)
					if err != nil {
						return 0, err
					}
					if isNaN(v) {
						return math.NaN(), nil
					}
					if isNaN(best) || (highest && v > best) || (!highest && v < best) {
						best = v
					}
				}
				return best, nil
			},
		}, nil
	}
}

func newDiff(name string, inputs []string, params []float64) (Indicator, error) {
	if err := arity(name, inputs, params, 2, 0); err != nil {
		return nil, err
	}
	return &windowed{
		name:   name,
		inputs: inputs,
		kernel: func(in []source, _ source) (float64, error) {
			a, b, err := pair(in)
			if err != nil {
				return 0, err
			}
			return a - b, nil
		},
	}, nil
}

// newCross is +1 while a is above b, -1 while below and 0 when equal.
func newCross(name string, inputs []string, params []float64) (Indicator, error) {
	if err := arity(name, inputs, params, 2, 0); err != nil {
		return nil, err
	}
	return &windowed{
		name:   name,
		inputs: inputs,
		kernel: func(in []source, _ source) (float64, error) {
			a, b, err := pair(in)
			if err != nil {
				return 0, err
			}
			if isNaN(a) || isNaN(b) {
				return math.NaN(), nil
			}
			switch {
			case a > b:
				return 1, nil
			case a < b:
				return -1, nil
			default:
				return 0, nil
			}
		},
	}, nil
}

// newBreakout tracks a channel breakout state from (price, upper, lower).
// The state flips to +1 when price closes above the previous upper band, to
// -1 below the previous lower band, and otherwise keeps its last value.
func newBreakout(name string, inputs []string, params []float64) (Indicator, error) {
	if err := arity(name, inputs, params, 3, 0); err != nil {
		return nil, err
	}
	return &windowed{
		name:     name,
		inputs:   inputs,
		lookback: 1,
		kernel: func(in []source, self source) (float64, error) {
			state, err := self.Read(1)
			if err != nil && !errors.Is(err, exception.ErrInsufficientHistory) {
				return 0, err
			}
			if err != nil || isNaN(state) {
				state = 0
			}
			price, err := in[0].Read(0)
			if err != nil {
				return 0, err
			}
			upper, err := in[1].Read(1)
			if errors.Is(err, exception.ErrInsufficientHistory) {
				return state, nil
			}
			if err != nil {
				return 0, err
			}
			lower, err := in[2].Read(1)
			if err != nil {
				return 0, err
			}
			switch {
			case isNaN(upper) || isNaN(lower) || isNaN(price):
				return state, nil
			case price > upper:
				return 1, nil
			case price < lower:
				return -1, nil
			default:
				return state, nil
			}
		},
	}, nil
}

func pair(in []source) (float64, float64, error) {
	a, err := in[0].Read(0)
	if err != nil {
		return 0, 0, err
	}
	b, err := in[1].Read(0)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func arity(name string, inputs []string, params []float64, nIn, nParams int) error {
	if len(inputs) != nIn {
		return errors.Wrapf(exception.ErrInvalidParams, "%s: want %d inputs, got %d", name, nIn, len(inputs))
	}
	if len(params) != nParams {
		return errors.Wrapf(exception.ErrInvalidParams, "%s: want %d params, got %d", name, nParams, len(params))
	}
	for _, in := range inputs {
		if in == "" {
			return errors.Wrapf(exception.ErrInvalidParams, "%s: empty input name", name)
		}
	}
	return nil
}

func periodParam(name string, inputs []string, params []float64, nIn int) (int, error) {
	if err := arity(name, inputs, params, nIn, 1); err != nil {
		return 0, err
	}
	p := params[0]
	if p < 1 || p != math.Trunc(p) {
		return 0, errors.Wrapf(exception.ErrInvalidParams, "%s: period must be a positive integer", name)
	}
	return int(p), nil
}
