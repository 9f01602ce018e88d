package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	yerrors "github.com/yanun0323/errors"

	"github.com/nashquant/backtesthub/internal/engine"
	"github.com/nashquant/backtesthub/internal/order"
	"github.com/nashquant/backtesthub/internal/portfolio"
)

const (
	FileResult   = "result.json"
	FileEquity   = "equity.csv"
	FileRecords  = "records.csv"
	FileOrders   = "orders.csv"
	FileSnapshot = "snapshot.json"
)

// Options select the files written by WriteDir.
type Options struct {
	JSON     bool
	CSV      bool
	Snapshot bool
}

// WriteJSON encodes the whole result.
func WriteJSON(w io.Writer, res *engine.Result) error {
	enc := sonic.ConfigStd.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// WriteEquityCSV writes one row per step.
func WriteEquityCSV(w io.Writer, points []engine.EquityPoint) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"step", "time", "cash", "equity", "exposure"})
	for _, p := range points {
		_ = cw.Write([]string{
			strconv.Itoa(p.Step), formatT(p.Time),
			formatF(p.Cash), formatF(p.Equity), formatF(p.Exposure),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteRecordsCSV writes one row per step and asset.
func WriteRecordsCSV(w io.Writer, records []engine.StepRecord) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"step", "time", "instrument", "close", "signal", "signal_valid",
		"resolved_order", "resolved_status", "reject_reason", "fill_price", "commission",
		"submitted_order", "submitted_qty",
		"position", "avg_price", "realized", "unrealized", "error",
	})
	for _, r := range records {
		status, reason := "", ""
		if r.ResolvedOrderID != 0 {
			status, reason = r.ResolvedStatus.String(), r.RejectReason.String()
		}
		_ = cw.Write([]string{
			strconv.Itoa(r.Step), formatT(r.Time), r.Instrument, formatF(r.Close),
			formatF(r.Signal), strconv.FormatBool(r.SignalValid),
			formatID(r.ResolvedOrderID), status, reason, formatF(r.FillPrice), formatF(r.Commission),
			formatID(r.SubmittedOrderID), formatF(r.SubmittedQty),
			formatF(r.Position), formatF(r.AvgPrice), formatF(r.Realized), formatF(r.Unrealized), r.Error,
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteOrdersCSV writes every order with its final state.
func WriteOrdersCSV(w io.Writer, orders []order.Order) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"id", "instrument", "side", "type", "qty", "created_step",
		"status", "reason", "closed_step", "fill_price", "commission",
	})
	for _, o := range orders {
		_ = cw.Write([]string{
			formatID(o.ID), o.Instrument, o.Side.String(), o.Type.String(), formatF(o.Qty),
			strconv.Itoa(o.CreatedStep), o.Status.String(), o.Reason.String(),
			strconv.Itoa(o.ClosedStep), formatF(o.FillPrice), formatF(o.Commission),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteDir writes the selected reports into dir, creating it if needed, and
// returns the written paths.
func WriteDir(dir string, res *engine.Result, opts Options) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, yerrors.Wrap(err, "create report dir").With("dir", dir)
	}

	var written []string
	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return yerrors.Wrap(err, "create report").With("path", path)
		}
		if err := fn(f); err != nil {
			_ = f.Close()
			return yerrors.Wrap(err, "write report").With("path", path)
		}
		if err := f.Close(); err != nil {
			return yerrors.Wrap(err, "close report").With("path", path)
		}
		written = append(written, path)
		return nil
	}

	if opts.JSON {
		if err := write(FileResult, func(w io.Writer) error { return WriteJSON(w, res) }); err != nil {
			return written, err
		}
	}
	if opts.CSV {
		if err := write(FileEquity, func(w io.Writer) error { return WriteEquityCSV(w, res.Equity) }); err != nil {
			return written, err
		}
		if err := write(FileRecords, func(w io.Writer) error { return WriteRecordsCSV(w, res.Records) }); err != nil {
			return written, err
		}
		if err := write(FileOrders, func(w io.Writer) error { return WriteOrdersCSV(w, res.Orders) }); err != nil {
			return written, err
		}
	}
	if opts.Snapshot {
		path := filepath.Join(dir, FileSnapshot)
		if err := portfolio.WriteSnapshot(path, res.Final); err != nil {
			return written, yerrors.Wrap(err, "write snapshot").With("path", path)
		}
		written = append(written, path)
	}
	return written, nil
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func formatT(t time.Time) string { return t.Format(time.RFC3339) }

func formatID(id uint64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}
