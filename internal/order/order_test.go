package order

import (
	"testing"

	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookLifecycle(t *testing.T) {
	b := NewBook()

	buy, err := b.Submit("A", schema.OrderSideBuy, 10, 3)
	require.NoError(t, err)
	sell, err := b.Submit("B", schema.OrderSideSell, 5, 3)
	require.NoError(t, err)
	drop, err := b.Submit("C", schema.OrderSideBuy, 1, 3)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), buy.ID)
	assert.Equal(t, schema.OrderStatusPending, buy.Status)
	assert.Len(t, b.Pending(), 3)

	_, err = b.Fill(buy.ID, 3, 100, 0)
	assert.ErrorIs(t, err, exception.ErrOrderInvalidTransition, "same-step fill")

	filled, err := b.Fill(buy.ID, 4, 101, 1.5)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusFilled, filled.Status)
	assert.Equal(t, 4, filled.ClosedStep)
	assert.Equal(t, 101.0, filled.FillPrice)

	rejected, err := b.Reject(sell.ID, 4, schema.RejectReasonInsufficientCapital)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusRejected, rejected.Status)

	cancelled, err := b.Cancel(drop.ID, 4, schema.RejectReasonNone)
	require.NoError(t, err)
	assert.Equal(t, schema.RejectReasonWithdrawn, cancelled.Reason)

	assert.Empty(t, b.Pending())

	_, err = b.Fill(sell.ID, 5, 100, 0)
	assert.ErrorIs(t, err, exception.ErrOrderInvalidTransition)
	_, err = b.Cancel(buy.ID, 5, schema.RejectReasonNone)
	assert.ErrorIs(t, err, exception.ErrOrderInvalidTransition)
	_, err = b.Reject(99, 5, schema.RejectReasonMaxQty)
	assert.ErrorIs(t, err, exception.ErrOrderUnknown)

	orders := b.Orders()
	require.Len(t, orders, 3)
	assert.Equal(t, []schema.OrderStatus{schema.OrderStatusFilled, schema.OrderStatusRejected, schema.OrderStatusCancelled},
		[]schema.OrderStatus{orders[0].Status, orders[1].Status, orders[2].Status})

	got, ok := b.Get(2)
	require.True(t, ok)
	assert.Equal(t, "B", got.Instrument)
}

func TestBookSubmitValidation(t *testing.T) {
	b := NewBook()
	_, err := b.Submit("A", schema.OrderSideBuy, 0, 0)
	assert.ErrorIs(t, err, exception.ErrOrderInvalidQty)
	_, err = b.Submit("A", schema.OrderSideUnknown, 1, 0)
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)

	o, err := b.Submit("A", schema.OrderSideBuy, 1, 0)
	require.NoError(t, err)
	_, err = b.Fill(o.ID, 1, 0, 0)
	assert.ErrorIs(t, err, exception.ErrOrderInvalidPrice)
}

func TestCommissionModels(t *testing.T) {
	testCases := []struct {
		desc     string
		model    string
		rate     float64
		minimum  float64
		qty      float64
		price    float64
		expected float64
	}{
		{"fixed", "fixed", 5, 0, 10, 100, 5},
		{"fixed zero qty", "fixed", 5, 0, 0, 100, 0},
		{"per share", "per_share", 0.01, 0, 300, 50, 3},
		{"per share minimum", "per_share", 0.01, 1, 10, 50, 1},
		{"percentage", "percentage", 0.001, 0, 10, 200, 2},
		{"percentage default", "", 0.001, 0, -10, 200, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			m, err := NewCommissionModel(tc.model, tc.rate, tc.minimum)
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, m.Commission(tc.qty, tc.price), 1e-12)
		})
	}

	_, err := NewCommissionModel("tiered", 1, 0)
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)
	_, err = NewCommissionModel("fixed", -1, 0)
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)
}

func TestPricerSlippage(t *testing.T) {
	p := Pricer{SlippageBps: 10, Commission: PercentageCommission{Rate: 0.001}}

	price, comm := p.Quote(schema.OrderSideBuy, 10, 100)
	assert.InDelta(t, 100.1, price, 1e-9)
	assert.InDelta(t, 1.001, comm, 1e-9)

	price, _ = p.Quote(schema.OrderSideSell, 10, 100)
	assert.InDelta(t, 99.9, price, 1e-9)

	free := Pricer{}
	price, comm = free.Quote(schema.OrderSideBuy, 1, 101)
	assert.Equal(t, 101.0, price)
	assert.Equal(t, 0.0, comm)
}
