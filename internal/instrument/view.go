package instrument

import (
	"time"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/line"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// View is the read-only face of an instrument handed to strategies. Base
// instruments are reachable through Base and are never writable.
type View struct {
	inst  *Instrument
	bases map[string]*Instrument
	order []string
}

// NewView wraps inst. bases may be nil.
func NewView(inst *Instrument, bases []*Instrument) View {
	v := View{inst: inst}
	if len(bases) != 0 {
		v.bases = make(map[string]*Instrument, len(bases))
		for _, b := range bases {
			v.bases[b.Name()] = b
			v.order = append(v.order, b.Name())
		}
	}
	return v
}

func (v View) Name() string { return v.inst.Name() }
func (v View) Step() int    { return v.inst.Step() }

func (v View) Time() time.Time { return v.inst.Time() }

// Line returns a read-only line by name.
func (v View) Line(name string) (line.Reader, bool) {
	l, ok := v.inst.Line(name)
	if !ok {
		return nil, false
	}
	return line.ReadOnly(l), true
}

// Read returns the value of line name at offset steps before the present.
func (v View) Read(name string, offset int) (float64, error) {
	l, ok := v.inst.Line(name)
	if !ok {
		return 0, errors.Wrapf(exception.ErrUnknownLine, "%s.%s", v.inst.Name(), name)
	}
	return l.Read(offset)
}

// Close is a shortcut for Read(LineClose, offset).
func (v View) Close(offset int) (float64, error) {
	return v.Read(LineClose, offset)
}

// Base returns the view of a base instrument.
func (v View) Base(name string) (View, bool) {
	b, ok := v.bases[name]
	if !ok {
		return View{}, false
	}
	return View{inst: b}, true
}

// Bases returns the base instrument names in registration order.
func (v View) Bases() []string {
	return v.order
}
