package risk

import (
	"math"

	"github.com/nashquant/backtesthub/internal/schema"
)

const eps = 1e-9

// Config defines the capital and size limits applied before every fill.
// Zero values disable a limit.
type Config struct {
	// LeverageLimit caps gross exposure as a multiple of equity.
	LeverageLimit float64 `json:"leverageLimit"`
	MaxOrderQty   float64 `json:"maxOrderQty"`
	MaxPosition   float64 `json:"maxPosition"`
	AllowShort    bool    `json:"allowShort"`
}

// Intent is an order about to fill.
type Intent struct {
	OrderID    uint64
	Instrument string
	Side       schema.OrderSide
	Qty        float64
	Price      float64
	Commission float64
}

// StateView is the portfolio as marked at the fill step.
type StateView struct {
	Position float64
	Mark     float64
	Equity   float64
	Exposure float64
}

// Engine evaluates risk decisions.
type Engine struct {
	cfg Config
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the active limits.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate applies the checks in order and returns the first denial.
func (e *Engine) Evaluate(intent Intent, state StateView) schema.RiskDecision {
	nextPos := applySide(state.Position, intent.Side, intent.Qty)
	decision := schema.RiskDecision{
		OrderID:        intent.OrderID,
		Instrument:     intent.Instrument,
		Action:         schema.RiskActionAllow,
		Reason:         schema.RejectReasonNone,
		ProposedQty:    intent.Qty,
		ProposedPrice:  intent.Price,
		CurrentPos:     state.Position,
		NextPos:        nextPos,
		ExposureBefore: state.Exposure,
	}

	if e.cfg.MaxOrderQty > 0 && intent.Qty > e.cfg.MaxOrderQty+eps {
		return deny(decision, schema.RejectReasonMaxQty)
	}

	if !e.cfg.AllowShort && nextPos < -eps {
		return deny(decision, schema.RejectReasonShortNotAllowed)
	}

	if e.cfg.MaxPosition > 0 && math.Abs(nextPos) > e.cfg.MaxPosition+eps {
		return deny(decision, schema.RejectReasonPositionLimit)
	}

	exposureAfter := state.Exposure - math.Abs(state.Position*state.Mark) + math.Abs(nextPos*state.Mark)
	equityAfter := state.Equity - intent.Commission - intent.Side.Sign()*intent.Qty*(intent.Price-state.Mark)
	decision.ExposureAfter = exposureAfter
	decision.EquityAfter = equityAfter

	if increases(state.Exposure, exposureAfter) {
		if equityAfter <= 0 {
			return deny(decision, schema.RejectReasonInsufficientCapital)
		}
		if e.cfg.LeverageLimit > 0 {
			limit := e.cfg.LeverageLimit * equityAfter
			if exposureAfter > limit+eps*max(1, limit) {
				return deny(decision, schema.RejectReasonInsufficientCapital)
			}
		}
	}

	return decision
}

func deny(decision schema.RiskDecision, reason schema.RejectReason) schema.RiskDecision {
	decision.Action = schema.RiskActionDeny
	decision.Reason = reason
	return decision
}

func increases(before, after float64) bool {
	return after > before+eps*max(1, before)
}

func applySide(pos float64, side schema.OrderSide, qty float64) float64 {
	switch side {
	case schema.OrderSideBuy:
		return pos + qty
	case schema.OrderSideSell:
		return pos - qty
	default:
		return pos
	}
}
