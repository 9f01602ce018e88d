package schema

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// InstrumentKind separates tradable assets from read-only base series.
type InstrumentKind uint16

const (
	InstrumentKindUnknown InstrumentKind = iota
	InstrumentKindAsset
	InstrumentKindBase
)

func (k InstrumentKind) String() string {
	switch k {
	case InstrumentKindAsset:
		return "asset"
	case InstrumentKindBase:
		return "base"
	default:
		return "unknown"
	}
}

// PriceRef selects which bar price an order fills against.
type PriceRef uint16

const (
	PriceRefUnknown PriceRef = iota
	PriceRefOpen
	PriceRefClose
)

func (p PriceRef) String() string {
	switch p {
	case PriceRefOpen:
		return "open"
	case PriceRefClose:
		return "close"
	default:
		return "unknown"
	}
}

// ParsePriceRef converts a config value into a PriceRef.
func ParsePriceRef(s string) (PriceRef, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open":
		return PriceRefOpen, nil
	case "close":
		return PriceRefClose, nil
	default:
		return PriceRefUnknown, fmt.Errorf("unknown execution price: %s", s)
	}
}

// Bar is one input record of a price series.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Fields map[string]float64
}

// Series is a named, time-ordered sequence of bars.
type Series struct {
	Name string
	Kind InstrumentKind
	Bars []Bar
}

// Len returns the number of bars.
func (s Series) Len() int {
	return len(s.Bars)
}

// FieldNames returns the optional field names present on the first bar, sorted.
func (s Series) FieldNames() []string {
	if len(s.Bars) == 0 || len(s.Bars[0].Fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Bars[0].Fields))
	for name := range s.Bars[0].Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
