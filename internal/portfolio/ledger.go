package portfolio

import (
	"math"
	"slices"
	"time"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/line"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
	"github.com/shopspring/decimal"
)

// Ledger holds cash, one position per asset and the equity line of a run.
// Cash is kept in decimal so repeated fills do not drift.
type Ledger struct {
	initial   decimal.Decimal
	cash      decimal.Decimal
	names     []string
	positions map[string]*Position
	marks     map[string]float64
	equity    *line.Line
}

// NewLedger opens a ledger with initialCash and a flat position per asset.
func NewLedger(initialCash float64, assets []string, length int) *Ledger {
	l := &Ledger{
		initial:   decimal.NewFromFloat(initialCash),
		cash:      decimal.NewFromFloat(initialCash),
		names:     slices.Clone(assets),
		positions: make(map[string]*Position, len(assets)),
		marks:     make(map[string]float64, len(assets)),
		equity:    line.New("equity", length),
	}
	for _, name := range assets {
		l.positions[name] = &Position{Instrument: name}
	}
	return l
}

// ApplyFill books a fill: cash moves by -side*qty*price - commission and the
// position is updated. It returns the realized P&L.
func (l *Ledger) ApplyFill(fill schema.Fill) (float64, error) {
	pos, ok := l.positions[fill.Instrument]
	if !ok {
		return 0, errors.Wrapf(exception.ErrUnknownInstrument, "fill for %s", fill.Instrument)
	}
	notional := decimal.NewFromFloat(fill.Signed()).Mul(decimal.NewFromFloat(fill.Price))
	l.cash = l.cash.Sub(notional).Sub(decimal.NewFromFloat(fill.Commission))
	return pos.Apply(fill), nil
}

// Mark sets the price used to value an asset.
func (l *Ledger) Mark(name string, price float64) error {
	if _, ok := l.positions[name]; !ok {
		return errors.Wrapf(exception.ErrUnknownInstrument, "mark for %s", name)
	}
	l.marks[name] = price
	return nil
}

// Cash returns the cash balance.
func (l *Ledger) Cash() float64 {
	return l.cash.InexactFloat64()
}

// CashDecimal returns the exact cash balance.
func (l *Ledger) CashDecimal() decimal.Decimal {
	return l.cash
}

// InitialCash returns the starting balance.
func (l *Ledger) InitialCash() float64 {
	return l.initial.InexactFloat64()
}

// Equity is cash plus every position valued at its mark.
func (l *Ledger) Equity() float64 {
	total := l.cash
	for _, name := range l.names {
		pos := l.positions[name]
		if pos.Qty == 0 {
			continue
		}
		total = total.Add(decimal.NewFromFloat(pos.Qty).Mul(decimal.NewFromFloat(l.marks[name])))
	}
	return total.InexactFloat64()
}

// Exposure is the gross market value of all positions.
func (l *Ledger) Exposure() float64 {
	sum := 0.0
	for _, name := range l.names {
		sum += math.Abs(l.positions[name].Qty * l.marks[name])
	}
	return sum
}

// Position returns a copy of an asset position.
func (l *Ledger) Position(name string) (Position, bool) {
	pos, ok := l.positions[name]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// MarkOf returns the last mark of an asset.
func (l *Ledger) MarkOf(name string) float64 {
	return l.marks[name]
}

// RecordEquity appends the current equity to the equity line.
func (l *Ledger) RecordEquity() (float64, error) {
	equity := l.Equity()
	if err := l.equity.Advance(); err != nil {
		return 0, err
	}
	if err := l.equity.Append(equity); err != nil {
		return 0, err
	}
	return equity, nil
}

// EquityLine exposes the equity history read-only.
func (l *Ledger) EquityLine() line.Reader {
	return line.ReadOnly(l.equity)
}

// Snapshot copies the ledger state for collaborators.
func (l *Ledger) Snapshot(step int, ts time.Time) Snapshot {
	snap := Snapshot{
		Step:     step,
		Time:     ts,
		Cash:     l.cash,
		Equity:   l.Equity(),
		Exposure: l.Exposure(),
	}
	for _, name := range l.names {
		pos := l.positions[name]
		mark := l.marks[name]
		snap.Realized += pos.Realized
		snap.Commission += pos.Commission
		snap.Positions = append(snap.Positions, PositionEntry{
			Instrument: name,
			Qty:        pos.Qty,
			AvgPrice:   pos.AvgPrice,
			Mark:       mark,
			Realized:   pos.Realized,
			Unrealized: pos.Unrealized(mark),
			Commission: pos.Commission,
		})
	}
	return snap
}
