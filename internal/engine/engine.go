package engine

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/nashquant/backtesthub/internal/broadcast"
	"github.com/nashquant/backtesthub/internal/calendar"
	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/instrument"
	"github.com/nashquant/backtesthub/internal/line"
	"github.com/nashquant/backtesthub/internal/obs"
	"github.com/nashquant/backtesthub/internal/order"
	"github.com/nashquant/backtesthub/internal/portfolio"
	"github.com/nashquant/backtesthub/internal/risk"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/internal/strategy"
	"github.com/nashquant/backtesthub/pkg/exception"
	"github.com/yanun0323/logs"
)

const qtyEps = 1e-9

const (
	phaseSetup    = "setup"
	phaseAdvance  = "advance"
	phaseDerived  = "indicators"
	phaseSignal   = "signal"
	phaseResolve  = "resolve"
	phaseSubmit   = "submit"
	phaseValue    = "valuation"
	phaseFinalize = "finalize"
)

// Engine runs one strategy definition over a set of assets.
type Engine struct {
	cfg      Config
	registry *indicator.Registry
	strategy strategy.Strategy
}

// New validates the configuration and binds a strategy to an indicator
// registry.
func New(cfg Config, registry *indicator.Registry, s strategy.Strategy) (*Engine, error) {
	if registry == nil || s == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "engine needs a registry and a strategy")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, registry: registry, strategy: s}, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run simulates the strategy over assets. Bases are visible to the strategy
// but never traded. Each call is independent; the engine holds no state
// between runs.
//
// Every step runs the same phases in order: advance cursors, extend derived
// lines, evaluate the strategy on every asset, resolve orders placed on the
// previous step, place new orders and mark the portfolio to the close.
func (e *Engine) Run(ctx context.Context, assets, bases []schema.Series) (*Result, error) {
	r, err := e.setup(ctx, assets, bases)
	if err != nil {
		return nil, err
	}
	logs.Infof("run %s started: strategy %s, %d assets, %d bases, %d steps, line mode %s",
		r.result.RunID, r.result.Strategy, len(r.assets), len(r.bases), r.steps, r.eval.Mode())

	for t := range r.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.step(ctx, t); err != nil {
			return nil, err
		}
	}

	if err := r.finalize(); err != nil {
		return nil, err
	}
	logs.Infof("run %s finished: final equity %.2f, %d orders, %d isolated failures",
		r.result.RunID, r.result.FinalEquity, len(r.result.Orders), len(r.result.Failures))
	return r.result, nil
}

// run is the mutable state of a single Run call.
type run struct {
	cfg      Config
	strategy strategy.Strategy
	metrics  *obs.Metrics

	clock    []time.Time
	steps    int
	assets   []*instrument.Instrument
	bases    []*instrument.Instrument
	jobs     []indicator.Job
	eval     indicator.Evaluator
	signals  []*line.Line
	views    []instrument.View
	byName   map[string]int
	variance string

	caster *broadcast.Broadcaster
	book   *order.Book
	ledger *portfolio.Ledger
	risk   *risk.Engine
	pricer order.Pricer

	records []StepRecord
	result  *Result
}

func (e *Engine) setup(ctx context.Context, assets, bases []schema.Series) (*run, error) {
	if len(assets) == 0 {
		return nil, errors.Wrap(exception.ErrNoAssets, "run needs at least one asset")
	}

	all := make([]schema.Series, 0, len(assets)+len(bases))
	for _, s := range assets {
		s.Kind = schema.InstrumentKindAsset
		all = append(all, s)
	}
	for _, s := range bases {
		s.Kind = schema.InstrumentKindBase
		all = append(all, s)
	}

	registry := schema.NewRegistry()
	for _, s := range all {
		if _, ok := registry.IDByName(s.Name); ok {
			return nil, errors.Wrapf(exception.ErrDuplicateInstrument, "instrument %s", s.Name)
		}
		if _, err := registry.Add(s.Name, s.Kind); err != nil {
			return nil, errors.Wrapf(exception.ErrMalformedSeries, "register %s: %v", s.Name, err)
		}
	}

	clock, aligned, err := calendar.Align(e.cfg.Calendar, all)
	if err != nil {
		return nil, err
	}

	assetSpecs := append(slices.Clone(e.strategy.Indicators()), e.cfg.Sizing.Indicators()...)
	baseSpecs := slices.Clone(e.cfg.BaseIndicators)
	if declarer, ok := e.strategy.(strategy.BaseDeclarer); ok {
		baseSpecs = append(baseSpecs, declarer.BaseIndicators()...)
	}

	metrics := obs.NewMetrics()
	r := &run{
		cfg:      e.cfg,
		strategy: e.strategy,
		metrics:  metrics,
		clock:    clock,
		steps:    len(clock),
		byName:   make(map[string]int, len(assets)),
		variance: e.cfg.Sizing.varianceLine(),
		book:     order.NewBook(),
		risk:     risk.NewEngine(e.cfg.Risk),
		pricer:   order.Pricer{SlippageBps: e.cfg.SlippageBps, Commission: e.cfg.Commission},
	}

	maxLines := 0
	for _, s := range aligned {
		id, _ := registry.IDByName(s.Name)
		inst, err := instrument.New(id, s)
		if err != nil {
			return nil, err
		}
		specs := assetSpecs
		if s.Kind == schema.InstrumentKindBase {
			specs = baseSpecs
		}
		plan, err := e.registry.Plan(specs, inst.RawNames())
		if err != nil {
			return nil, errors.Wrapf(err, "plan indicators for %s", s.Name)
		}
		maxLines = max(maxLines, len(plan))
		r.jobs = append(r.jobs, indicator.Job{Instrument: inst, Indicators: plan})

		if s.Kind == schema.InstrumentKindBase {
			r.bases = append(r.bases, inst)
			continue
		}
		r.assets = append(r.assets, inst)
	}
	// Bases advance and compute first so assets read current base values.
	slices.SortStableFunc(r.jobs, func(a, b indicator.Job) int {
		return int(b.Instrument.Kind()) - int(a.Instrument.Kind())
	})

	mode := e.cfg.Lines.Select(len(r.jobs), maxLines, r.steps)
	r.eval = e.cfg.Lines.NewEvaluator(mode, maxLines, r.steps)
	logs.Infof("line mode %s selected (%d instruments, %d derived lines each, %d steps, estimated %d bytes)",
		mode, len(r.jobs), maxLines, r.steps, indicator.EstimateBytes(len(r.jobs), maxLines, r.steps))

	start := time.Now()
	if err := r.eval.Prepare(ctx, r.jobs); err != nil {
		return nil, r.abort(-1, "", phaseSetup, err)
	}
	metrics.ObservePrecompute(time.Since(start))

	names := make([]string, len(r.assets))
	for i, inst := range r.assets {
		signal := line.New(instrument.LineSignal, r.steps)
		if err := inst.AddDerived(signal); err != nil {
			return nil, r.abort(-1, inst.Name(), phaseSetup, err)
		}
		r.signals = append(r.signals, signal)
		r.views = append(r.views, instrument.NewView(inst, r.bases))
		r.byName[inst.Name()] = i
		names[i] = inst.Name()
	}
	baseNames := make([]string, len(r.bases))
	for i, inst := range r.bases {
		baseNames[i] = inst.Name()
	}

	r.caster = broadcast.New(e.strategy, len(r.assets), e.cfg.Workers, metrics)
	r.ledger = portfolio.NewLedger(e.cfg.InitialCash, names, r.steps)
	r.records = make([]StepRecord, len(r.assets))
	r.result = &Result{
		RunID:       RunID(e.cfg, e.strategy.Name(), append(slices.Clone(assetSpecs), baseSpecs...), all),
		Strategy:    e.strategy.Name(),
		Mode:        mode,
		Calendar:    e.cfg.Calendar.String(),
		Assets:      names,
		Bases:       baseNames,
		Steps:       r.steps,
		InitialCash: e.cfg.InitialCash,
		Records:     make([]StepRecord, 0, r.steps*len(r.assets)),
		Equity:      make([]EquityPoint, 0, r.steps),
	}
	if r.steps > 0 {
		r.result.Start, r.result.End = clock[0], clock[r.steps-1]
	}
	return r, nil
}

func (r *run) step(ctx context.Context, t int) error {
	start := time.Now()
	for i, inst := range r.assets {
		r.records[i] = StepRecord{Step: t, Time: r.clock[t], Instrument: inst.Name()}
	}

	for _, job := range r.jobs {
		if err := job.Instrument.Advance(); err != nil {
			return r.abort(t, job.Instrument.Name(), phaseAdvance, err)
		}
	}
	for _, job := range r.jobs {
		if err := r.eval.Step(job); err != nil {
			return r.abort(t, job.Instrument.Name(), phaseDerived, err)
		}
	}

	outcomes, err := r.caster.Evaluate(ctx, r.views)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return r.abort(t, "", phaseSignal, err)
	}
	for i, out := range outcomes {
		v := math.NaN()
		if out.Valid {
			v = out.Signal
			r.records[i].Signal, r.records[i].SignalValid = out.Signal, true
		}
		if err := r.signals[i].Append(v); err != nil {
			return r.abort(t, out.Instrument, phaseSignal, err)
		}
		if out.Err != nil {
			r.records[i].Error = out.Err.Error()
			r.result.Failures = append(r.result.Failures, Failure{
				Step:       t,
				Time:       r.clock[t],
				Instrument: out.Instrument,
				Message:    out.Err.Error(),
			})
		}
	}

	if err := r.resolve(t); err != nil {
		return err
	}
	if err := r.submit(t, outcomes); err != nil {
		return err
	}
	if err := r.value(t); err != nil {
		return err
	}
	r.metrics.ObserveStep(time.Since(start))
	return nil
}

// resolve fills or rejects every order placed on the previous step at the
// configured reference price of this step, in submission order.
func (r *run) resolve(t int) error {
	pending := r.book.Pending()
	if len(pending) == 0 {
		return nil
	}
	for _, inst := range r.assets {
		ref, err := inst.Price(r.cfg.ExecutionPrice)
		if err != nil {
			return r.abort(t, inst.Name(), phaseResolve, err)
		}
		if err := r.ledger.Mark(inst.Name(), ref); err != nil {
			return r.abort(t, inst.Name(), phaseResolve, err)
		}
	}

	for _, o := range pending {
		i, ok := r.byName[o.Instrument]
		if !ok {
			return r.abort(t, o.Instrument, phaseResolve, exception.ErrUnknownInstrument)
		}
		rec := &r.records[i]
		rec.ResolvedOrderID = o.ID

		ref := r.ledger.MarkOf(o.Instrument)
		if !(ref > 0) || math.IsInf(ref, 0) {
			if err := r.reject(t, o, schema.RejectReasonNoPrice, rec); err != nil {
				return err
			}
			continue
		}

		price, commission := r.pricer.Quote(o.Side, o.Qty, ref)
		pos, _ := r.ledger.Position(o.Instrument)
		decision := r.risk.Evaluate(risk.Intent{
			OrderID:    o.ID,
			Instrument: o.Instrument,
			Side:       o.Side,
			Qty:        o.Qty,
			Price:      price,
			Commission: commission,
		}, risk.StateView{
			Position: pos.Qty,
			Mark:     ref,
			Equity:   r.ledger.Equity(),
			Exposure: r.ledger.Exposure(),
		})
		if !decision.Allowed() {
			if err := r.reject(t, o, decision.Reason, rec); err != nil {
				return err
			}
			continue
		}

		filled, err := r.book.Fill(o.ID, t, price, commission)
		if err != nil {
			return r.abort(t, o.Instrument, phaseResolve, err)
		}
		if _, err := r.ledger.ApplyFill(schema.Fill{
			OrderID:    filled.ID,
			Instrument: filled.Instrument,
			Step:       t,
			Side:       filled.Side,
			Qty:        filled.Qty,
			Price:      price,
			Commission: commission,
		}); err != nil {
			return r.abort(t, o.Instrument, phaseResolve, err)
		}
		r.metrics.IncOrder(schema.OrderStatusFilled, schema.RejectReasonNone)
		rec.ResolvedStatus = schema.OrderStatusFilled
		rec.FillPrice = price
		rec.Commission = commission
	}
	return nil
}

func (r *run) reject(t int, o order.Order, reason schema.RejectReason, rec *StepRecord) error {
	if _, err := r.book.Reject(o.ID, t, reason); err != nil {
		return r.abort(t, o.Instrument, phaseResolve, err)
	}
	r.metrics.IncOrder(schema.OrderStatusRejected, reason)
	rec.ResolvedStatus = schema.OrderStatusRejected
	rec.RejectReason = reason
	return nil
}

// submit turns valid signals into market orders for the next step. Targets
// are sized against equity marked at this step's close.
func (r *run) submit(t int, outcomes []broadcast.Outcome) error {
	if err := r.markToClose(t); err != nil {
		return err
	}
	equity := r.ledger.Equity()
	allowShort := r.cfg.Risk.AllowShort

	for i, out := range outcomes {
		if !out.Valid {
			continue
		}
		inst := r.assets[i]
		variance := math.NaN()
		if r.variance != "" {
			if l, ok := inst.Line(r.variance); ok {
				if v, err := l.Read(0); err == nil {
					variance = v
				}
			}
		}
		target, ok := r.cfg.Sizing.Target(out.Signal, equity, r.ledger.MarkOf(inst.Name()), variance, allowShort)
		if !ok {
			continue
		}
		pos, _ := r.ledger.Position(inst.Name())
		delta := target - pos.Qty
		if math.Abs(delta) < qtyEps {
			continue
		}
		o, err := r.book.Submit(inst.Name(), schema.SideOf(delta), math.Abs(delta), t)
		if err != nil {
			return r.abort(t, inst.Name(), phaseSubmit, err)
		}
		r.metrics.IncOrder(schema.OrderStatusPending, schema.RejectReasonNone)
		r.records[i].SubmittedOrderID = o.ID
		r.records[i].SubmittedQty = delta
	}
	return nil
}

func (r *run) markToClose(t int) error {
	for _, inst := range r.assets {
		c, err := inst.Price(schema.PriceRefClose)
		if err != nil {
			return r.abort(t, inst.Name(), phaseValue, err)
		}
		if err := r.ledger.Mark(inst.Name(), c); err != nil {
			return r.abort(t, inst.Name(), phaseValue, err)
		}
	}
	return nil
}

// value records the equity curve point and the per-asset state of step t.
func (r *run) value(t int) error {
	equity, err := r.ledger.RecordEquity()
	if err != nil {
		return r.abort(t, "", phaseValue, err)
	}
	r.result.Equity = append(r.result.Equity, EquityPoint{
		Step:     t,
		Time:     r.clock[t],
		Cash:     r.ledger.Cash(),
		Equity:   equity,
		Exposure: r.ledger.Exposure(),
	})

	for i, inst := range r.assets {
		rec := &r.records[i]
		mark := r.ledger.MarkOf(inst.Name())
		pos, _ := r.ledger.Position(inst.Name())
		rec.Close = mark
		rec.Position = pos.Qty
		rec.AvgPrice = pos.AvgPrice
		rec.Realized = pos.Realized
		rec.Unrealized = pos.Unrealized(mark)
	}
	r.result.Records = append(r.result.Records, r.records...)
	return nil
}

// finalize cancels orders that never reached a fill step and, when asked,
// liquidates what is still held at the final close.
func (r *run) finalize() error {
	last := r.steps - 1
	for _, o := range r.book.Pending() {
		if _, err := r.book.Cancel(o.ID, last, schema.RejectReasonEndOfData); err != nil {
			return r.abort(last, o.Instrument, phaseFinalize, err)
		}
		r.metrics.IncOrder(schema.OrderStatusCancelled, schema.RejectReasonEndOfData)
	}

	if r.cfg.CloseAtEnd && last >= 0 {
		if err := r.liquidate(last); err != nil {
			return err
		}
	}

	var ts time.Time
	if last >= 0 {
		ts = r.clock[last]
	}
	r.result.Final = r.ledger.Snapshot(last, ts)
	r.result.FinalEquity = r.result.Final.Equity
	r.result.Orders = r.book.Orders()
	r.result.Metrics = r.metrics.Snapshot()
	return nil
}

// liquidate books closing orders created on the last step and filled one
// step past it at the last close. Closing only reduces exposure so no risk
// check applies.
func (r *run) liquidate(last int) error {
	for _, inst := range r.assets {
		pos, _ := r.ledger.Position(inst.Name())
		if math.Abs(pos.Qty) < qtyEps {
			continue
		}
		side := schema.SideOf(-pos.Qty)
		qty := math.Abs(pos.Qty)
		o, err := r.book.Submit(inst.Name(), side, qty, last)
		if err != nil {
			return r.abort(last, inst.Name(), phaseFinalize, err)
		}
		price, commission := r.pricer.Quote(side, qty, r.ledger.MarkOf(inst.Name()))
		if _, err := r.book.Fill(o.ID, last+1, price, commission); err != nil {
			return r.abort(last, inst.Name(), phaseFinalize, err)
		}
		if _, err := r.ledger.ApplyFill(schema.Fill{
			OrderID:    o.ID,
			Instrument: inst.Name(),
			Step:       last + 1,
			Side:       side,
			Qty:        qty,
			Price:      price,
			Commission: commission,
		}); err != nil {
			return r.abort(last, inst.Name(), phaseFinalize, err)
		}
		r.metrics.IncOrder(schema.OrderStatusFilled, schema.RejectReasonNone)
	}
	return nil
}

func (r *run) abort(step int, name, phase string, err error) error {
	logs.Errorf("run aborted at step %d (%s %s), err: %+v", step, phase, name, err)
	return &RunError{Step: step, Instrument: name, Phase: phase, Err: err}
}
