package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/instrument"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInstrument(t *testing.T, id schema.InstrumentID, name string, kind schema.InstrumentKind, specs []indicator.Spec, closes ...float64) (*instrument.Instrument, indicator.Job) {
	t.Helper()
	s := schema.Series{Name: name, Kind: kind}
	start := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		s.Bars = append(s.Bars, schema.Bar{Time: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c})
	}
	inst, err := instrument.New(id, s)
	require.NoError(t, err)
	plan, err := indicator.DefaultRegistry().Plan(specs, inst.RawNames())
	require.NoError(t, err)
	job := indicator.Job{Instrument: inst, Indicators: plan}
	require.NoError(t, (&indicator.IncrementalEvaluator{}).Prepare(context.Background(), []indicator.Job{job}))
	return inst, job
}

func signals(t *testing.T, s Strategy, closes ...float64) []float64 {
	t.Helper()
	inst, job := newInstrument(t, 1, "A", schema.InstrumentKindAsset, s.Indicators(), closes...)
	eval := &indicator.IncrementalEvaluator{}
	out := make([]float64, 0, len(closes))
	for range closes {
		require.NoError(t, inst.Advance())
		require.NoError(t, eval.Step(job))
		v, err := s.Evaluate(instrument.NewView(inst, nil))
		if err != nil {
			require.ErrorIs(t, err, exception.ErrInsufficientHistory)
			v = math.NaN()
		}
		out = append(out, v)
	}
	return out
}

func TestBuild(t *testing.T) {
	testCases := []struct {
		cfg  Config
		name string
		err  error
	}{
		{Config{Name: "buy_and_hold"}, "buy_and_hold", nil},
		{Config{Name: "SMA_CROSS", Params: []float64{5, 20}}, "sma_cross", nil},
		{Config{Name: "ema_cross", Params: []float64{3, 8}}, "ema_cross", nil},
		{Config{Name: "donchian", Params: []float64{20}}, "donchian", nil},
		{Config{Name: "relative_momentum", Params: []float64{10}, Base: "IBOV"}, "relative_momentum", nil},
		{Config{Name: "relative_momentum", Params: []float64{10}}, "", exception.ErrInvalidParams},
		{Config{Name: "sma_cross", Params: []float64{20, 5}}, "", exception.ErrInvalidParams},
		{Config{Name: "sma_cross", Params: []float64{5}}, "", exception.ErrInvalidParams},
		{Config{Name: "donchian", Params: []float64{0.5}}, "", exception.ErrInvalidParams},
		{Config{Name: "kama_cross"}, "", exception.ErrUnknownStrategy},
	}

	for _, tc := range testCases {
		t.Run(tc.cfg.Name, func(t *testing.T) {
			s, err := Build(tc.cfg)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.name, s.Name())
		})
	}

	assert.Contains(t, Names(), "reverse_sma_cross")
}

func TestSMACrossSignals(t *testing.T) {
	got := signals(t, SMACross(2, 3), 1, 2, 3, 2, 1, 1, 2, 3)
	want := []float64{math.NaN(), math.NaN(), 1, 1, -1, -1, 1, 1}
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "step %d", i)
			continue
		}
		assert.Equal(t, want[i], got[i], "step %d", i)
	}

	rev := signals(t, ReverseSMACross(2, 3), 1, 2, 3, 2, 1, 1, 2, 3)
	assert.Equal(t, -1.0, rev[2])
	assert.Equal(t, 1.0, rev[4])
}

func TestConstantStrategies(t *testing.T) {
	assert.Equal(t, []float64{1, 1}, signals(t, BuyAndHold(), 5, 6))
	assert.Equal(t, []float64{-1, -1}, signals(t, SellAndHold(), 5, 6))
}

func TestRelativeMomentumReadsBase(t *testing.T) {
	s := NewRelativeMomentum("IBOV", 1)
	asset, assetJob := newInstrument(t, 1, "A", schema.InstrumentKindAsset, s.Indicators(), 10, 11, 11)
	base, baseJob := newInstrument(t, 2, "IBOV", schema.InstrumentKindBase, s.BaseIndicators(), 100, 105, 110)
	eval := &indicator.IncrementalEvaluator{}

	var got []float64
	for range 3 {
		require.NoError(t, base.Advance())
		require.NoError(t, eval.Step(baseJob))
		require.NoError(t, asset.Advance())
		require.NoError(t, eval.Step(assetJob))

		v, err := s.Evaluate(instrument.NewView(asset, []*instrument.Instrument{base}))
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, 1.0, got[1])
	assert.Equal(t, -1.0, got[2])

	_, err := s.Evaluate(instrument.NewView(asset, nil))
	assert.ErrorIs(t, err, exception.ErrUnknownInstrument)
}
