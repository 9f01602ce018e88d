package order

import (
	"slices"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// Order is the simulator's view of one market order.
type Order struct {
	ID          uint64              `json:"id"`
	Instrument  string              `json:"instrument"`
	Side        schema.OrderSide    `json:"side"`
	Type        schema.OrderType    `json:"type"`
	Qty         float64             `json:"qty"`
	CreatedStep int                 `json:"createdStep"`
	Status      schema.OrderStatus  `json:"status"`
	Reason      schema.RejectReason `json:"reason,omitempty"`
	// ClosedStep is the step at which the order left Pending, -1 while open.
	ClosedStep int     `json:"closedStep"`
	FillPrice  float64 `json:"fillPrice,omitempty"`
	Commission float64 `json:"commission,omitempty"`
}

// Book holds every order of a run and enforces the lifecycle
// Pending -> Filled | Rejected | Cancelled.
type Book struct {
	orders  []*Order
	byID    map[uint64]*Order
	pending []uint64
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{byID: make(map[uint64]*Order)}
}

// Submit creates a pending market order. IDs increase from 1 in submission
// order.
func (b *Book) Submit(instrument string, side schema.OrderSide, qty float64, step int) (*Order, error) {
	if qty <= 0 || qty != qty {
		return nil, errors.Wrapf(exception.ErrOrderInvalidQty, "%s qty %v", instrument, qty)
	}
	if side != schema.OrderSideBuy && side != schema.OrderSideSell {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "%s side %d", instrument, side)
	}
	o := &Order{
		ID:          uint64(len(b.orders) + 1),
		Instrument:  instrument,
		Side:        side,
		Type:        schema.OrderTypeMarket,
		Qty:         qty,
		CreatedStep: step,
		Status:      schema.OrderStatusPending,
		ClosedStep:  -1,
	}
	if _, ok := b.byID[o.ID]; ok {
		return nil, exception.ErrOrderDuplicate
	}
	b.orders = append(b.orders, o)
	b.byID[o.ID] = o
	b.pending = append(b.pending, o.ID)
	return o, nil
}

// Get returns a copy of an order.
func (b *Book) Get(id uint64) (Order, bool) {
	o, ok := b.byID[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Pending returns copies of open orders in submission order.
func (b *Book) Pending() []Order {
	out := make([]Order, 0, len(b.pending))
	for _, id := range b.pending {
		out = append(out, *b.byID[id])
	}
	return out
}

// Fill closes an order at price. Orders can only fill on a later step than
// the one they were created on.
func (b *Book) Fill(id uint64, step int, price, commission float64) (Order, error) {
	o, err := b.open(id)
	if err != nil {
		return Order{}, err
	}
	if step <= o.CreatedStep {
		return *o, errors.Wrapf(exception.ErrOrderInvalidTransition, "order %d created at step %d cannot fill at step %d", id, o.CreatedStep, step)
	}
	if price <= 0 || price != price {
		return *o, errors.Wrapf(exception.ErrOrderInvalidPrice, "order %d price %v", id, price)
	}
	o.Status = schema.OrderStatusFilled
	o.ClosedStep = step
	o.FillPrice = price
	o.Commission = commission
	b.close(id)
	return *o, nil
}

// Reject closes an order without execution.
func (b *Book) Reject(id uint64, step int, reason schema.RejectReason) (Order, error) {
	return b.finish(id, step, schema.OrderStatusRejected, reason)
}

// Cancel withdraws an order before it fills.
func (b *Book) Cancel(id uint64, step int, reason schema.RejectReason) (Order, error) {
	if reason == schema.RejectReasonNone {
		reason = schema.RejectReasonWithdrawn
	}
	return b.finish(id, step, schema.OrderStatusCancelled, reason)
}

// Orders returns copies of every order in submission order.
func (b *Book) Orders() []Order {
	out := make([]Order, len(b.orders))
	for i, o := range b.orders {
		out[i] = *o
	}
	return out
}

func (b *Book) finish(id uint64, step int, status schema.OrderStatus, reason schema.RejectReason) (Order, error) {
	o, err := b.open(id)
	if err != nil {
		return Order{}, err
	}
	o.Status = status
	o.Reason = reason
	o.ClosedStep = step
	b.close(id)
	return *o, nil
}

func (b *Book) open(id uint64) (*Order, error) {
	o, ok := b.byID[id]
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderUnknown, "order %d", id)
	}
	if o.Status.Terminal() {
		return o, errors.Wrapf(exception.ErrOrderInvalidTransition, "order %d is %s", id, o.Status)
	}
	return o, nil
}

func (b *Book) close(id uint64) {
	if i := slices.Index(b.pending, id); i >= 0 {
		b.pending = slices.Delete(b.pending, i, i+1)
	}
}
