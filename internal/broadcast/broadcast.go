package broadcast

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/instrument"
	"github.com/nashquant/backtesthub/internal/obs"
	"github.com/nashquant/backtesthub/internal/strategy"
	"github.com/nashquant/backtesthub/pkg/exception"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one strategy evaluation for one instrument.
type Outcome struct {
	Instrument string
	Signal     float64
	// Valid is false when the strategy produced no usable signal.
	Valid bool
	// Err holds an isolated strategy failure wrapping
	// exception.ErrStrategyEvaluation. Fatal errors are returned by Evaluate
	// instead.
	Err error
}

// Broadcaster runs one strategy definition over many instruments in parallel.
type Broadcaster struct {
	strategies []strategy.Strategy
	workers    int
	metrics    *obs.Metrics
}

// New prepares a broadcaster for n instruments. Strategies implementing
// strategy.Cloner get one copy per instrument.
func New(s strategy.Strategy, n int, workers int, metrics *obs.Metrics) *Broadcaster {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	strategies := make([]strategy.Strategy, n)
	cloner, stateful := s.(strategy.Cloner)
	for i := range strategies {
		if stateful {
			strategies[i] = cloner.Clone()
			continue
		}
		strategies[i] = s
	}
	return &Broadcaster{
		strategies: strategies,
		workers:    workers,
		metrics:    metrics,
	}
}

// Evaluate calls the strategy once per view and waits for all of them.
// views[i] must always refer to the same instrument. The returned outcomes
// follow the order of views.
func (b *Broadcaster) Evaluate(ctx context.Context, views []instrument.View) ([]Outcome, error) {
	if len(views) != len(b.strategies) {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "broadcast: %d views for %d instruments", len(views), len(b.strategies))
	}
	start := time.Now()
	outcomes := make([]Outcome, len(views))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.workers)
	for i, view := range views {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := b.evaluate(b.strategies[i], view)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	b.metrics.ObserveBroadcast(time.Since(start))
	return outcomes, nil
}

func (b *Broadcaster) evaluate(s strategy.Strategy, view instrument.View) (out Outcome, fatal error) {
	out = Outcome{Instrument: view.Name()}
	start := time.Now()
	defer func() {
		b.metrics.ObserveStrategy(time.Since(start))
		if r := recover(); r != nil {
			out.Signal, out.Valid = 0, false
			out.Err = errors.Wrapf(exception.ErrStrategyEvaluation, "%s at step %d: panic: %v", view.Name(), view.Step(), r)
			fatal = nil
			b.isolate(out.Err)
		}
	}()

	signal, err := s.Evaluate(view)
	switch {
	case err == nil && !math.IsNaN(signal) && !math.IsInf(signal, 0):
		out.Signal, out.Valid = signal, true
		b.metrics.IncSignal()
	case err == nil, errors.Is(err, exception.ErrInsufficientHistory):
		b.metrics.IncNoSignal()
	case exception.IsFatal(err):
		return out, errors.Wrapf(err, "%s at step %d", view.Name(), view.Step())
	default:
		out.Err = errors.Wrapf(fmt.Errorf("%w: %w", exception.ErrStrategyEvaluation, err), "%s at step %d", view.Name(), view.Step())
		b.isolate(out.Err)
	}
	return out, nil
}

func (b *Broadcaster) isolate(err error) {
	b.metrics.IncStrategyError()
	logs.Errorf("strategy failure isolated, err: %+v", err)
}
