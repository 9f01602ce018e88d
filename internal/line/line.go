package line

import (
	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// Reader is the read-only view of a Line. Indicators and strategies only ever
// receive Readers.
type Reader interface {
	Name() string
	// Cursor is the highest visible index, -1 before the first step.
	Cursor() int
	// Len is the number of values written so far.
	Len() int
	// Read returns the value offset steps before the cursor.
	Read(offset int) (float64, error)
	// At returns the value at an absolute index not beyond the cursor.
	At(index int) (float64, error)
	// Values returns a copy of the visible prefix.
	Values() []float64
}

var _ Reader = (*Line)(nil)

// Line is an append-only float64 sequence with a cursor marking the present.
// A line is either loaded in bulk and revealed step by step with Advance, or
// grown with Append one value per step. Written values never change.
type Line struct {
	name   string
	values []float64
	cursor int
	loaded bool
}

// New creates an empty line. capacity is only a hint.
func New(name string, capacity int) *Line {
	if capacity < 0 {
		capacity = 0
	}
	return &Line{
		name:   name,
		values: make([]float64, 0, capacity),
		cursor: -1,
	}
}

// Name returns the line name.
func (l *Line) Name() string {
	return l.name
}

// Cursor returns the highest visible index.
func (l *Line) Cursor() int {
	return l.cursor
}

// Len returns the number of written values, visible or not.
func (l *Line) Len() int {
	return len(l.values)
}

// Loaded reports whether the line was bulk loaded.
func (l *Line) Loaded() bool {
	return l.loaded
}

// Load pre-populates an empty line with a full sequence. Values stay hidden
// until the cursor reaches them.
func (l *Line) Load(values []float64) error {
	if l.loaded || len(l.values) != 0 {
		return errors.Wrapf(exception.ErrOutOfOrderWrite, "load %s: line already holds %d values", l.name, len(l.values))
	}
	l.values = append(l.values, values...)
	l.loaded = true
	return nil
}

// Append writes the value for index Len().
func (l *Line) Append(v float64) error {
	return l.WriteAt(len(l.values), v)
}

// WriteAt writes the value for index. index must equal Len() and must not be
// beyond the cursor.
func (l *Line) WriteAt(index int, v float64) error {
	if l.loaded {
		return errors.Wrapf(exception.ErrOutOfOrderWrite, "write %s[%d]: line is loaded", l.name, index)
	}
	if index != len(l.values) {
		return errors.Wrapf(exception.ErrOutOfOrderWrite, "write %s[%d]: next index is %d", l.name, index, len(l.values))
	}
	if index > l.cursor {
		return errors.Wrapf(exception.ErrLookaheadViolation, "write %s[%d]: cursor is %d", l.name, index, l.cursor)
	}
	l.values = append(l.values, v)
	return nil
}

// Advance moves the cursor one step forward. A loaded line cannot move past
// its last value and an appended line cannot move past an unwritten step.
func (l *Line) Advance() error {
	next := l.cursor + 1
	if l.loaded {
		if next >= len(l.values) {
			return errors.Wrapf(exception.ErrSeriesExhausted, "advance %s to %d: length is %d", l.name, next, len(l.values))
		}
	} else if next > len(l.values) {
		return errors.Wrapf(exception.ErrOutOfOrderWrite, "advance %s to %d: index %d never written", l.name, next, l.cursor)
	}
	l.cursor = next
	return nil
}

// Read returns the value at Cursor()-offset. Offset 0 is the present.
func (l *Line) Read(offset int) (float64, error) {
	if offset < 0 {
		return 0, exception.ErrLookaheadViolation
	}
	return l.At(l.cursor - offset)
}

// At returns the value at an absolute index.
func (l *Line) At(index int) (float64, error) {
	if index < 0 {
		return 0, exception.ErrInsufficientHistory
	}
	if index > l.cursor || index >= len(l.values) {
		return 0, exception.ErrLookaheadViolation
	}
	return l.values[index], nil
}

// Visible returns how many values can be read.
func (l *Line) Visible() int {
	return min(l.cursor+1, len(l.values))
}

// Values returns a copy of the visible prefix.
func (l *Line) Values() []float64 {
	out := make([]float64, l.Visible())
	copy(out, l.values)
	return out
}

// History exposes the full backing array of a loaded line, hidden values
// included. Only whole-history precomputation before the first step may use
// it; it is not part of Reader.
func (l *Line) History() []float64 {
	return l.values
}

type readOnly struct {
	l *Line
}

// ReadOnly wraps l so the holder cannot reach the mutating methods.
func ReadOnly(l *Line) Reader {
	return readOnly{l: l}
}

func (r readOnly) Name() string                     { return r.l.Name() }
func (r readOnly) Cursor() int                      { return r.l.Cursor() }
func (r readOnly) Len() int                         { return r.l.Len() }
func (r readOnly) Read(offset int) (float64, error) { return r.l.Read(offset) }
func (r readOnly) At(index int) (float64, error)    { return r.l.At(index) }
func (r readOnly) Values() []float64                { return r.l.Values() }
