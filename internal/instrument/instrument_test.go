package instrument

import (
	"math"
	"testing"
	"time"

	"github.com/nashquant/backtesthub/internal/line"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func series(name string, kind schema.InstrumentKind, closes ...float64) schema.Series {
	s := schema.Series{Name: name, Kind: kind}
	for i, c := range closes {
		s.Bars = append(s.Bars, schema.Bar{Time: day(i), Open: c - 1, High: c + 1, Low: c - 2, Close: c, Volume: 10})
	}
	return s
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		desc   string
		series schema.Series
		ok     bool
	}{
		{"valid", series("A", schema.InstrumentKindAsset, 1, 2, 3), true},
		{"empty", schema.Series{Name: "A"}, false},
		{"no name", series("", schema.InstrumentKindAsset, 1), false},
		{
			"duplicate",
			schema.Series{Name: "A", Bars: []schema.Bar{{Time: day(0), Close: 1}, {Time: day(0), Close: 2}}},
			false,
		},
		{
			"unsorted",
			schema.Series{Name: "A", Bars: []schema.Bar{{Time: day(1), Close: 1}, {Time: day(0), Close: 2}}},
			false,
		},
		{
			"nan close",
			schema.Series{Name: "A", Bars: []schema.Bar{{Time: day(0), Close: math.NaN()}}},
			false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := Validate(tc.series)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, exception.ErrMalformedSeries)
		})
	}
}

func TestInstrumentAdvance(t *testing.T) {
	s := series("A", schema.InstrumentKindAsset, 10, 11, 12)
	s.Bars[0].Fields = map[string]float64{"carry": 0.1}
	s.Bars[1].Fields = map[string]float64{"carry": 0.2}

	inst, err := New(1, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"open", "high", "low", "close", "volume", "carry"}, inst.RawNames())

	sig := line.New(LineSignal, 3)
	require.NoError(t, inst.AddDerived(sig))
	assert.Error(t, inst.AddDerived(line.New(LineSignal, 0)))

	require.NoError(t, inst.Advance())
	require.NoError(t, sig.Append(1))
	require.NoError(t, inst.Advance())
	require.NoError(t, sig.Append(-1))
	require.NoError(t, inst.Advance())

	assert.Equal(t, 2, inst.Step())
	assert.Equal(t, day(2), inst.Time())

	carry, ok := inst.Line("carry")
	require.True(t, ok)
	v, err := carry.Read(0)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))

	open, err := inst.Price(schema.PriceRefOpen)
	require.NoError(t, err)
	assert.Equal(t, 11.0, open)

	err = inst.Advance()
	assert.Error(t, err)

	err = inst.AddDerived(line.New("late", 0))
	assert.ErrorIs(t, err, exception.ErrOutOfOrderWrite)
}

func TestViewIsReadOnly(t *testing.T) {
	asset, err := New(1, series("A", schema.InstrumentKindAsset, 10, 11))
	require.NoError(t, err)
	base, err := New(2, series("CDI", schema.InstrumentKindBase, 1, 2))
	require.NoError(t, err)

	require.NoError(t, asset.Advance())
	require.NoError(t, base.Advance())

	view := NewView(asset, []*Instrument{base})
	assert.Equal(t, "A", view.Name())
	assert.Equal(t, []string{"CDI"}, view.Bases())

	c, err := view.Close(0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, c)

	_, err = view.Read("missing", 0)
	assert.ErrorIs(t, err, exception.ErrUnknownLine)

	bv, ok := view.Base("CDI")
	require.True(t, ok)
	bc, err := bv.Close(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, bc)
	assert.Empty(t, bv.Bases())

	r, ok := bv.Line(LineClose)
	require.True(t, ok)
	_, isLine := r.(*line.Line)
	assert.False(t, isLine)

	_, ok = view.Base("IBOV")
	assert.False(t, ok)
}
