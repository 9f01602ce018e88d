package store

import (
	"context"
	"strings"
	"time"

	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"github.com/nashquant/backtesthub/internal/engine"
)

const defaultBatchSize = 500

// RunRow is one backtest run.
type RunRow struct {
	RunID       string `gorm:"primaryKey;size:36"`
	Strategy    string `gorm:"size:128"`
	Mode        string `gorm:"size:16"`
	Calendar    string `gorm:"size:32"`
	Assets      string
	Bases       string
	Steps       int
	Start       time.Time
	End         time.Time
	InitialCash float64
	FinalEquity float64
	Orders      int
	Failures    int
	CreatedAt   time.Time
}

func (RunRow) TableName() string { return "backtest_runs" }

// EquityRow is one point of the equity curve.
type EquityRow struct {
	RunID    string `gorm:"primaryKey;size:36"`
	Step     int    `gorm:"primaryKey"`
	Time     time.Time
	Cash     float64
	Equity   float64
	Exposure float64
}

func (EquityRow) TableName() string { return "backtest_equity" }

// OrderRow is one order with its final state.
type OrderRow struct {
	RunID       string `gorm:"primaryKey;size:36"`
	OrderID     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Instrument  string `gorm:"size:64;index"`
	Side        string `gorm:"size:8"`
	Qty         float64
	CreatedStep int
	Status      string `gorm:"size:16"`
	Reason      string `gorm:"size:32"`
	ClosedStep  int
	FillPrice   float64
	Commission  float64
}

func (OrderRow) TableName() string { return "backtest_orders" }

// RecordRow is the state of one asset at one step.
type RecordRow struct {
	RunID       string `gorm:"primaryKey;size:36"`
	Step        int    `gorm:"primaryKey"`
	Instrument  string `gorm:"primaryKey;size:64"`
	Time        time.Time
	Close       float64
	Signal      float64
	SignalValid bool
	Error       string

	ResolvedOrderID  uint64
	ResolvedStatus   string `gorm:"size:16"`
	RejectReason     string `gorm:"size:32"`
	FillPrice        float64
	Commission       float64
	SubmittedOrderID uint64
	SubmittedQty     float64

	Position   float64
	AvgPrice   float64
	Realized   float64
	Unrealized float64
}

func (RecordRow) TableName() string { return "backtest_records" }

// Store persists run results.
type Store struct {
	db        *gorm.DB
	batchSize int
}

// NewStore wraps an open handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, batchSize: defaultBatchSize}
}

// Migrate creates or updates the result tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&RunRow{}, &EquityRow{}, &OrderRow{}, &RecordRow{}); err != nil {
		return yerrors.Wrap(err, "migrate result tables")
	}
	return nil
}

// SaveResult replaces everything stored under the run id in one
// transaction. Run ids are deterministic so reruns overwrite.
func (s *Store) SaveResult(ctx context.Context, res *engine.Result) error {
	run, equity, orders, records := Rows(res)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&RecordRow{}, &OrderRow{}, &EquityRow{}, &RunRow{}} {
			if err := tx.Where("run_id = ?", run.RunID).Delete(model).Error; err != nil {
				return yerrors.Wrap(err, "clear previous rows")
			}
		}
		if err := tx.Create(&run).Error; err != nil {
			return yerrors.Wrap(err, "insert run")
		}
		if len(equity) > 0 {
			if err := tx.CreateInBatches(equity, s.batchSize).Error; err != nil {
				return yerrors.Wrap(err, "insert equity")
			}
		}
		if len(orders) > 0 {
			if err := tx.CreateInBatches(orders, s.batchSize).Error; err != nil {
				return yerrors.Wrap(err, "insert orders")
			}
		}
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, s.batchSize).Error; err != nil {
				return yerrors.Wrap(err, "insert records")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logs.Infof("stored run %s: %d equity points, %d orders, %d records", run.RunID, len(equity), len(orders), len(records))
	return nil
}

// Rows converts a result into table rows.
func Rows(res *engine.Result) (RunRow, []EquityRow, []OrderRow, []RecordRow) {
	run := RunRow{
		RunID:       res.RunID,
		Strategy:    res.Strategy,
		Mode:        res.Mode.String(),
		Calendar:    res.Calendar,
		Assets:      strings.Join(res.Assets, ","),
		Bases:       strings.Join(res.Bases, ","),
		Steps:       res.Steps,
		Start:       res.Start,
		End:         res.End,
		InitialCash: res.InitialCash,
		FinalEquity: res.FinalEquity,
		Orders:      len(res.Orders),
		Failures:    len(res.Failures),
	}

	equity := make([]EquityRow, len(res.Equity))
	for i, p := range res.Equity {
		equity[i] = EquityRow{RunID: res.RunID, Step: p.Step, Time: p.Time, Cash: p.Cash, Equity: p.Equity, Exposure: p.Exposure}
	}

	orders := make([]OrderRow, len(res.Orders))
	for i, o := range res.Orders {
		orders[i] = OrderRow{
			RunID:       res.RunID,
			OrderID:     o.ID,
			Instrument:  o.Instrument,
			Side:        o.Side.String(),
			Qty:         o.Qty,
			CreatedStep: o.CreatedStep,
			Status:      o.Status.String(),
			Reason:      o.Reason.String(),
			ClosedStep:  o.ClosedStep,
			FillPrice:   o.FillPrice,
			Commission:  o.Commission,
		}
	}

	records := make([]RecordRow, len(res.Records))
	for i, r := range res.Records {
		records[i] = RecordRow{
			RunID:       res.RunID,
			Step:        r.Step,
			Instrument:  r.Instrument,
			Time:        r.Time,
			Close:       r.Close,
			Signal:      r.Signal,
			SignalValid: r.SignalValid,
			Error:       r.Error,

			ResolvedOrderID:  r.ResolvedOrderID,
			ResolvedStatus:   r.ResolvedStatus.String(),
			RejectReason:     r.RejectReason.String(),
			FillPrice:        r.FillPrice,
			Commission:       r.Commission,
			SubmittedOrderID: r.SubmittedOrderID,
			SubmittedQty:     r.SubmittedQty,

			Position:   r.Position,
			AvgPrice:   r.AvgPrice,
			Realized:   r.Realized,
			Unrealized: r.Unrealized,
		}
	}
	return run, equity, orders, records
}
