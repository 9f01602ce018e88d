package portfolio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// Snapshot captures the ledger at a point in time.
type Snapshot struct {
	Step       int             `json:"step"`
	Time       time.Time       `json:"time"`
	Cash       decimal.Decimal `json:"cash"`
	Equity     float64         `json:"equity"`
	Exposure   float64         `json:"exposure"`
	Realized   float64         `json:"realized"`
	Commission float64         `json:"commission"`
	Positions  []PositionEntry `json:"positions"`
}

// PositionEntry is a single asset position entry.
type PositionEntry struct {
	Instrument string  `json:"instrument"`
	Qty        float64 `json:"qty"`
	AvgPrice   float64 `json:"avgPrice"`
	Mark       float64 `json:"mark"`
	Realized   float64 `json:"realized"`
	Unrealized float64 `json:"unrealized"`
	Commission float64 `json:"commission"`
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks that two snapshots hold the same cash and
// positions, within tolerance for float fields.
func CompareSnapshots(expected, actual Snapshot, tolerance float64) error {
	if !expected.Cash.Equal(actual.Cash) {
		return fmt.Errorf("snapshot cash mismatch: expected=%s actual=%s", expected.Cash, actual.Cash)
	}
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[string]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.Instrument] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.Instrument]
		if !ok {
			return fmt.Errorf("snapshot missing instrument: %s", entry.Instrument)
		}
		if math.Abs(want.Qty-entry.Qty) > tolerance {
			return fmt.Errorf("snapshot qty mismatch: instrument=%s expected=%v actual=%v", entry.Instrument, want.Qty, entry.Qty)
		}
		if math.Abs(want.Realized-entry.Realized) > tolerance {
			return fmt.Errorf("snapshot realized mismatch: instrument=%s expected=%v actual=%v", entry.Instrument, want.Realized, entry.Realized)
		}
	}
	return nil
}
