package engine

import (
	"fmt"
	"time"

	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/obs"
	"github.com/nashquant/backtesthub/internal/order"
	"github.com/nashquant/backtesthub/internal/portfolio"
	"github.com/nashquant/backtesthub/internal/schema"
)

// StepRecord is what happened to one asset during one step.
type StepRecord struct {
	Step        int       `json:"step"`
	Time        time.Time `json:"time"`
	Instrument  string    `json:"instrument"`
	Close       float64   `json:"close"`
	Signal      float64   `json:"signal"`
	SignalValid bool      `json:"signalValid"`
	Error       string    `json:"error,omitempty"`

	ResolvedOrderID uint64              `json:"resolvedOrderId,omitempty"`
	ResolvedStatus  schema.OrderStatus  `json:"resolvedStatus,omitempty"`
	RejectReason    schema.RejectReason `json:"rejectReason,omitempty"`
	FillPrice       float64             `json:"fillPrice,omitempty"`
	Commission      float64             `json:"commission,omitempty"`

	SubmittedOrderID uint64 `json:"submittedOrderId,omitempty"`
	// SubmittedQty is signed: positive buys, negative sells.
	SubmittedQty float64 `json:"submittedQty,omitempty"`

	Position   float64 `json:"position"`
	AvgPrice   float64 `json:"avgPrice"`
	Realized   float64 `json:"realized"`
	Unrealized float64 `json:"unrealized"`
}

// EquityPoint is the portfolio value at the end of a step.
type EquityPoint struct {
	Step     int       `json:"step"`
	Time     time.Time `json:"time"`
	Cash     float64   `json:"cash"`
	Equity   float64   `json:"equity"`
	Exposure float64   `json:"exposure"`
}

// Failure is an isolated strategy error.
type Failure struct {
	Step       int       `json:"step"`
	Time       time.Time `json:"time"`
	Instrument string    `json:"instrument"`
	Message    string    `json:"message"`
}

// Result is the full outcome of a run.
type Result struct {
	RunID       string         `json:"runId"`
	Strategy    string         `json:"strategy"`
	Mode        indicator.Mode `json:"mode"`
	Calendar    string         `json:"calendar"`
	Assets      []string       `json:"assets"`
	Bases       []string       `json:"bases,omitempty"`
	Steps       int            `json:"steps"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	InitialCash float64        `json:"initialCash"`
	FinalEquity float64        `json:"finalEquity"`

	// Records are step-major with assets in input order.
	Records  []StepRecord       `json:"records"`
	Equity   []EquityPoint      `json:"equity"`
	Orders   []order.Order      `json:"orders"`
	Failures []Failure          `json:"failures,omitempty"`
	Final    portfolio.Snapshot `json:"final"`
	Metrics  obs.Snapshot       `json:"metrics"`
}

// RecordsFor returns the records of one asset in step order.
func (r *Result) RecordsFor(name string) []StepRecord {
	out := make([]StepRecord, 0, r.Steps)
	for _, rec := range r.Records {
		if rec.Instrument == name {
			out = append(out, rec)
		}
	}
	return out
}

// Return is the total return over initial cash.
func (r *Result) Return() float64 {
	if r.InitialCash == 0 {
		return 0
	}
	return r.FinalEquity/r.InitialCash - 1
}

// RunError aborts a run. It carries the step and instrument where the
// simulation stopped.
type RunError struct {
	Step       int
	Instrument string
	Phase      string
	Err        error
}

func (e *RunError) Error() string {
	if e.Instrument == "" {
		return fmt.Sprintf("run aborted at step %d (%s), err: %v", e.Step, e.Phase, e.Err)
	}
	return fmt.Sprintf("run aborted at step %d (%s, %s), err: %v", e.Step, e.Phase, e.Instrument, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
