package instrument

import (
	"math"
	"time"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/line"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// Raw line names every instrument carries.
const (
	LineOpen   = "open"
	LineHigh   = "high"
	LineLow    = "low"
	LineClose  = "close"
	LineVolume = "volume"
	// LineSignal is the derived line holding one strategy output per step.
	LineSignal = "signal"
)

var ohlcv = []string{LineOpen, LineHigh, LineLow, LineClose, LineVolume}

// Instrument owns the raw and derived lines of one series.
type Instrument struct {
	id    schema.InstrumentID
	name  string
	kind  schema.InstrumentKind
	times []time.Time
	step  int

	lines   map[string]*line.Line
	raw     []string
	derived []string
}

// Validate checks that a series is usable: non-empty, strictly increasing
// timestamps and finite prices.
func Validate(series schema.Series) error {
	if series.Name == "" {
		return errors.Wrap(exception.ErrMalformedSeries, "series name is empty")
	}
	if len(series.Bars) == 0 {
		return errors.Wrapf(exception.ErrMalformedSeries, "series %s is empty", series.Name)
	}
	for i, bar := range series.Bars {
		if bar.Time.IsZero() {
			return errors.Wrapf(exception.ErrMalformedSeries, "series %s bar %d has no timestamp", series.Name, i)
		}
		if i > 0 {
			prev := series.Bars[i-1].Time
			if bar.Time.Equal(prev) {
				return errors.Wrapf(exception.ErrMalformedSeries, "series %s has duplicate timestamp %s", series.Name, bar.Time.Format(time.RFC3339))
			}
			if bar.Time.Before(prev) {
				return errors.Wrapf(exception.ErrMalformedSeries, "series %s is not sorted at %s", series.Name, bar.Time.Format(time.RFC3339))
			}
		}
		if !finite(bar.Close) || !finite(bar.Open) {
			return errors.Wrapf(exception.ErrMalformedSeries, "series %s bar %d has a non-finite price", series.Name, i)
		}
	}
	return nil
}

// New builds an instrument from a validated series. Raw lines are loaded in
// full and revealed by Advance.
func New(id schema.InstrumentID, series schema.Series) (*Instrument, error) {
	if err := Validate(series); err != nil {
		return nil, err
	}
	kind := series.Kind
	if kind == schema.InstrumentKindUnknown {
		kind = schema.InstrumentKindAsset
	}

	n := len(series.Bars)
	inst := &Instrument{
		id:    id,
		name:  series.Name,
		kind:  kind,
		times: make([]time.Time, n),
		step:  -1,
		lines: make(map[string]*line.Line, len(ohlcv)+4),
	}

	columns := make(map[string][]float64, len(ohlcv))
	for _, name := range ohlcv {
		columns[name] = make([]float64, n)
	}
	fields := series.FieldNames()
	for _, name := range fields {
		columns[name] = make([]float64, n)
	}

	for i, bar := range series.Bars {
		inst.times[i] = bar.Time
		columns[LineOpen][i] = bar.Open
		columns[LineHigh][i] = bar.High
		columns[LineLow][i] = bar.Low
		columns[LineClose][i] = bar.Close
		columns[LineVolume][i] = bar.Volume
		for _, name := range fields {
			v, ok := bar.Fields[name]
			if !ok {
				v = math.NaN()
			}
			columns[name][i] = v
		}
	}

	for _, name := range append(append([]string{}, ohlcv...), fields...) {
		if _, ok := inst.lines[name]; ok {
			return nil, errors.Wrapf(exception.ErrMalformedSeries, "series %s field %s shadows a price line", series.Name, name)
		}
		l := line.New(name, n)
		if err := l.Load(columns[name]); err != nil {
			return nil, err
		}
		inst.lines[name] = l
		inst.raw = append(inst.raw, name)
	}

	return inst, nil
}

func (i *Instrument) ID() schema.InstrumentID     { return i.id }
func (i *Instrument) Name() string                { return i.name }
func (i *Instrument) Kind() schema.InstrumentKind { return i.kind }

// Len returns the number of bars.
func (i *Instrument) Len() int {
	return len(i.times)
}

// Step returns the current step index, -1 before the first Advance.
func (i *Instrument) Step() int {
	return i.step
}

// Time returns the timestamp of the current step.
func (i *Instrument) Time() time.Time {
	if i.step < 0 || i.step >= len(i.times) {
		return time.Time{}
	}
	return i.times[i.step]
}

// Times returns the full timestamp index.
func (i *Instrument) Times() []time.Time {
	return i.times
}

// Line returns a line owned by the instrument.
func (i *Instrument) Line(name string) (*line.Line, bool) {
	l, ok := i.lines[name]
	return l, ok
}

// RawNames returns the raw line names in load order.
func (i *Instrument) RawNames() []string {
	return i.raw
}

// DerivedNames returns the derived line names in declaration order.
func (i *Instrument) DerivedNames() []string {
	return i.derived
}

// AddDerived attaches a derived line. Lines can only be attached before the
// first step.
func (i *Instrument) AddDerived(l *line.Line) error {
	if l == nil {
		return exception.ErrNilInstance
	}
	if i.step >= 0 {
		return errors.Wrapf(exception.ErrOutOfOrderWrite, "instrument %s: attach %s after step %d", i.name, l.Name(), i.step)
	}
	if _, ok := i.lines[l.Name()]; ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "instrument %s already has line %s", i.name, l.Name())
	}
	i.lines[l.Name()] = l
	i.derived = append(i.derived, l.Name())
	return nil
}

// Advance moves every line of the instrument to the next step.
func (i *Instrument) Advance() error {
	for _, name := range i.raw {
		if err := i.lines[name].Advance(); err != nil {
			return errors.Wrapf(err, "instrument %s", i.name)
		}
	}
	for _, name := range i.derived {
		if err := i.lines[name].Advance(); err != nil {
			return errors.Wrapf(err, "instrument %s", i.name)
		}
	}
	i.step++
	return nil
}

// Price returns the raw price line value at the current step.
func (i *Instrument) Price(ref schema.PriceRef) (float64, error) {
	name := LineClose
	if ref == schema.PriceRefOpen {
		name = LineOpen
	}
	return i.lines[name].Read(0)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
