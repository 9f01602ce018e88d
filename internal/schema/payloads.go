package schema

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

// Sign returns +1 for buys, -1 for sells and 0 otherwise.
func (s OrderSide) Sign() float64 {
	switch s {
	case OrderSideBuy:
		return 1
	case OrderSideSell:
		return -1
	default:
		return 0
	}
}

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s OrderSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SideOf returns the side that moves a position by delta.
func SideOf(delta float64) OrderSide {
	switch {
	case delta > 0:
		return OrderSideBuy
	case delta < 0:
		return OrderSideSell
	default:
		return OrderSideUnknown
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
)

func (t OrderType) String() string {
	if t == OrderTypeMarket {
		return "market"
	}
	return "unknown"
}

func (t OrderType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// OrderStatus is the lifecycle state of a simulated order.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPending
	OrderStatusFilled
	OrderStatusRejected
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "pending"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusRejected:
		return "rejected"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return ""
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// RejectReason is a coarse reason code for rejected or cancelled orders.
type RejectReason uint16

const (
	RejectReasonNone RejectReason = iota
	RejectReasonInsufficientCapital
	RejectReasonMaxQty
	RejectReasonPositionLimit
	RejectReasonShortNotAllowed
	RejectReasonNoPrice
	RejectReasonEndOfData
	RejectReasonWithdrawn
)

func (r RejectReason) String() string {
	switch r {
	case RejectReasonInsufficientCapital:
		return "insufficient_capital"
	case RejectReasonMaxQty:
		return "max_qty"
	case RejectReasonPositionLimit:
		return "position_limit"
	case RejectReasonShortNotAllowed:
		return "short_not_allowed"
	case RejectReasonNoPrice:
		return "no_price"
	case RejectReasonEndOfData:
		return "end_of_data"
	case RejectReasonWithdrawn:
		return "withdrawn"
	default:
		return ""
	}
}

func (r RejectReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// RiskAction is the outcome of a risk decision.
type RiskAction uint16

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAllow
	RiskActionDeny
)

// RiskDecision is the result of a pre-fill capital check.
type RiskDecision struct {
	OrderID        uint64
	Instrument     string
	Action         RiskAction
	Reason         RejectReason
	ProposedQty    float64
	ProposedPrice  float64
	CurrentPos     float64
	NextPos        float64
	ExposureBefore float64
	ExposureAfter  float64
	EquityAfter    float64
}

// Allowed reports whether the decision lets the order through.
func (d RiskDecision) Allowed() bool {
	return d.Action == RiskActionAllow
}

// Fill describes one executed order.
type Fill struct {
	OrderID    uint64
	Instrument string
	Step       int
	Side       OrderSide
	Qty        float64
	Price      float64
	Commission float64
}

// Signed returns the fill quantity with the side applied.
func (f Fill) Signed() float64 {
	return f.Side.Sign() * f.Qty
}
