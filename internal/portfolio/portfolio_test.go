package portfolio

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(side schema.OrderSide, qty, price float64) schema.Fill {
	return schema.Fill{Instrument: "A", Side: side, Qty: qty, Price: price}
}

func TestPositionApply(t *testing.T) {
	testCases := []struct {
		desc     string
		fills    []schema.Fill
		qty      float64
		avg      float64
		realized float64
	}{
		{
			"weighted average on increase",
			[]schema.Fill{fill(schema.OrderSideBuy, 10, 100), fill(schema.OrderSideBuy, 10, 110)},
			20, 105, 0,
		},
		{
			"partial reduction keeps average",
			[]schema.Fill{fill(schema.OrderSideBuy, 10, 100), fill(schema.OrderSideSell, 4, 120)},
			6, 100, 80,
		},
		{
			"full close",
			[]schema.Fill{fill(schema.OrderSideBuy, 10, 100), fill(schema.OrderSideSell, 10, 90)},
			0, 0, -100,
		},
		{
			"reversal reopens at fill",
			[]schema.Fill{fill(schema.OrderSideBuy, 10, 100), fill(schema.OrderSideSell, 15, 110)},
			-5, 110, 100,
		},
		{
			"short cover",
			[]schema.Fill{fill(schema.OrderSideSell, 10, 100), fill(schema.OrderSideBuy, 10, 90)},
			0, 0, 100,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			var p Position
			for _, f := range tc.fills {
				p.Apply(f)
			}
			assert.InDelta(t, tc.qty, p.Qty, 1e-12)
			assert.InDelta(t, tc.avg, p.AvgPrice, 1e-12)
			assert.InDelta(t, tc.realized, p.Realized, 1e-12)
		})
	}
}

func TestPositionUnrealized(t *testing.T) {
	p := Position{Qty: -5, AvgPrice: 110}
	assert.Equal(t, 50.0, p.Unrealized(100))
	assert.Equal(t, 0.0, Position{}.Unrealized(100))
}

func TestLedger(t *testing.T) {
	l := NewLedger(10000, []string{"A", "B"}, 4)

	_, err := l.ApplyFill(schema.Fill{Instrument: "A", Side: schema.OrderSideBuy, Qty: 1, Price: 101})
	require.NoError(t, err)
	require.NoError(t, l.Mark("A", 103))
	assert.True(t, l.CashDecimal().Equal(decimal.NewFromInt(9899)))
	assert.Equal(t, 10002.0, l.Equity())
	assert.Equal(t, 103.0, l.Exposure())

	realized, err := l.ApplyFill(schema.Fill{Instrument: "A", Side: schema.OrderSideSell, Qty: 1, Price: 102, Commission: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1.0, realized)
	assert.Equal(t, 10000.5, l.Cash())
	assert.Equal(t, 10000.5, l.Equity())

	_, err = l.ApplyFill(schema.Fill{Instrument: "Z", Side: schema.OrderSideBuy, Qty: 1, Price: 1})
	assert.ErrorIs(t, err, exception.ErrUnknownInstrument)
	assert.ErrorIs(t, l.Mark("Z", 1), exception.ErrUnknownInstrument)

	eq, err := l.RecordEquity()
	require.NoError(t, err)
	assert.Equal(t, 10000.5, eq)
	v, err := l.EquityLine().Read(0)
	require.NoError(t, err)
	assert.Equal(t, 10000.5, v)

	pos, ok := l.Position("A")
	require.True(t, ok)
	assert.Equal(t, 0.5, pos.Commission)
	assert.Equal(t, 10000.0, l.InitialCash())
}

func TestCashStaysExact(t *testing.T) {
	l := NewLedger(1000, []string{"A"}, 0)
	for range 1000 {
		_, err := l.ApplyFill(schema.Fill{Instrument: "A", Side: schema.OrderSideBuy, Qty: 1, Price: 0.1})
		require.NoError(t, err)
	}
	assert.True(t, l.CashDecimal().Equal(decimal.NewFromInt(900)), l.CashDecimal().String())
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := NewLedger(1000, []string{"A", "B"}, 0)
	_, err := l.ApplyFill(schema.Fill{Instrument: "B", Side: schema.OrderSideBuy, Qty: 2, Price: 50, Commission: 1})
	require.NoError(t, err)
	require.NoError(t, l.Mark("B", 55))

	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	snap := l.Snapshot(3, ts)
	assert.Equal(t, 1009.0, snap.Equity)
	require.Len(t, snap.Positions, 2)
	assert.Equal(t, 10.0, snap.Positions[1].Unrealized)

	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")
	require.NoError(t, WriteSnapshot(path, snap))
	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.NoError(t, CompareSnapshots(snap, loaded, 0))
	assert.True(t, ts.Equal(loaded.Time))

	loaded.Positions[1].Qty = 3
	assert.Error(t, CompareSnapshots(snap, loaded, 1e-9))
	loaded.Cash = decimal.NewFromInt(1)
	assert.Error(t, CompareSnapshots(snap, loaded, 1e-9))
}
