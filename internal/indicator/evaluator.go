package indicator

import (
	"context"
	"math"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/instrument"
	"github.com/nashquant/backtesthub/internal/line"
	"github.com/nashquant/backtesthub/pkg/exception"
	"golang.org/x/sync/errgroup"
)

// Job pairs an instrument with the indicators planned for it.
type Job struct {
	Instrument *instrument.Instrument
	Indicators []Indicator
}

// Evaluator produces derived lines. Prepare runs once before the first step
// and attaches one line per indicator; Step runs after every cursor advance.
type Evaluator interface {
	Mode() Mode
	Prepare(ctx context.Context, jobs []Job) error
	Step(job Job) error
}

var (
	_ Evaluator = (*VectorizedEvaluator)(nil)
	_ Evaluator = (*IncrementalEvaluator)(nil)
)

// VectorizedEvaluator computes every derived line over the whole history up
// front and lets the instrument cursor reveal it.
type VectorizedEvaluator struct {
	Workers int
}

func (e *VectorizedEvaluator) Mode() Mode { return ModeVectorized }

func (e *VectorizedEvaluator) Prepare(ctx context.Context, jobs []Job) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(1, e.Workers))
	for _, job := range jobs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return precompute(job)
		})
	}
	return eg.Wait()
}

func precompute(job Job) error {
	inst := job.Instrument
	for _, ind := range job.Indicators {
		inputs := make([][]float64, len(ind.Inputs()))
		for j, name := range ind.Inputs() {
			l, ok := inst.Line(name)
			if !ok {
				return errors.Wrapf(exception.ErrUnknownLine, "%s.%s", inst.Name(), name)
			}
			inputs[j] = l.History()
		}
		values, err := ind.Compute(inputs)
		if err != nil {
			return errors.Wrapf(err, "instrument %s", inst.Name())
		}
		if len(values) != inst.Len() {
			return errors.Wrapf(exception.ErrInternal, "%s.%s: computed %d values for %d bars", inst.Name(), ind.Name(), len(values), inst.Len())
		}
		l := line.New(ind.Name(), 0)
		if err := l.Load(values); err != nil {
			return err
		}
		if err := inst.AddDerived(l); err != nil {
			return err
		}
	}
	return nil
}

// Step only checks that the precomputed lines moved with the instrument.
func (e *VectorizedEvaluator) Step(job Job) error {
	inst := job.Instrument
	for _, ind := range job.Indicators {
		l, ok := inst.Line(ind.Name())
		if !ok {
			return errors.Wrapf(exception.ErrUnknownLine, "%s.%s", inst.Name(), ind.Name())
		}
		if l.Cursor() != inst.Step() {
			return errors.Wrapf(exception.ErrOutOfOrderWrite, "%s.%s: cursor %d at step %d", inst.Name(), ind.Name(), l.Cursor(), inst.Step())
		}
	}
	return nil
}

// IncrementalEvaluator appends one value per derived line per step using
// only what the cursor reveals.
type IncrementalEvaluator struct{}

func (e *IncrementalEvaluator) Mode() Mode { return ModeIncremental }

func (e *IncrementalEvaluator) Prepare(ctx context.Context, jobs []Job) error {
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, ind := range job.Indicators {
			if err := job.Instrument.AddDerived(line.New(ind.Name(), job.Instrument.Len())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *IncrementalEvaluator) Step(job Job) error {
	inst := job.Instrument
	for _, ind := range job.Indicators {
		self, ok := inst.Line(ind.Name())
		if !ok {
			return errors.Wrapf(exception.ErrUnknownLine, "%s.%s", inst.Name(), ind.Name())
		}
		inputs := make([]line.Reader, len(ind.Inputs()))
		for j, name := range ind.Inputs() {
			l, ok := inst.Line(name)
			if !ok {
				return errors.Wrapf(exception.ErrUnknownLine, "%s.%s", inst.Name(), name)
			}
			inputs[j] = l
		}

		v, err := ind.Next(inputs, self)
		if err != nil {
			if !errors.Is(err, exception.ErrInsufficientHistory) {
				return errors.Wrapf(err, "%s.%s at step %d", inst.Name(), ind.Name(), inst.Step())
			}
			v = math.NaN()
		}
		if err := self.Append(v); err != nil {
			return errors.Wrapf(err, "instrument %s", inst.Name())
		}
	}
	return nil
}
