package report

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nashquant/backtesthub/internal/engine"
	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/instrument"
	"github.com/nashquant/backtesthub/internal/portfolio"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult(t *testing.T) *engine.Result {
	t.Helper()
	closes := []float64{100, 101, 99, 102, 105}
	bars := make([]schema.Bar, len(closes))
	for i, c := range closes {
		o := closes[max(0, i-1)]
		bars[i] = schema.Bar{Time: time.Date(2022, 1, 3+i, 0, 0, 0, 0, time.UTC), Open: o, High: max(o, c), Low: min(o, c), Close: c}
	}
	signals := []float64{0, 1, 1, -1, 0}
	s := strategy.Func{Label: "scripted", Fn: func(v instrument.View) (float64, error) { return signals[v.Step()], nil }}

	e, err := engine.New(engine.DefaultConfig(), indicator.DefaultRegistry(), s)
	require.NoError(t, err)
	res, err := e.Run(t.Context(), []schema.Series{{Name: "A", Bars: bars}}, nil)
	require.NoError(t, err)
	return res
}

func readCSV(t *testing.T, data string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteEquityCSV(t *testing.T) {
	res := sampleResult(t)
	var buf bytes.Buffer
	require.NoError(t, WriteEquityCSV(&buf, res.Equity))

	rows := readCSV(t, buf.String())
	require.Len(t, rows, 6)
	assert.Equal(t, []string{"step", "time", "cash", "equity", "exposure"}, rows[0])
	assert.Equal(t, []string{"2", "2022-01-05T00:00:00Z", "9899", "9998", "99"}, rows[3])
}

func TestWriteRecordsCSV(t *testing.T) {
	res := sampleResult(t)
	var buf bytes.Buffer
	require.NoError(t, WriteRecordsCSV(&buf, res.Records))

	rows := readCSV(t, buf.String())
	require.Len(t, rows, 6)
	header := rows[0]
	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %s", name)
		return -1
	}
	assert.Equal(t, "1", rows[3][col("resolved_order")])
	assert.Equal(t, "filled", rows[3][col("resolved_status")])
	assert.Equal(t, "101", rows[3][col("fill_price")])
	assert.Equal(t, "", rows[1][col("resolved_status")])
	assert.Equal(t, "-1", rows[4][col("submitted_qty")])
}

func TestWriteOrdersCSV(t *testing.T) {
	res := sampleResult(t)
	var buf bytes.Buffer
	require.NoError(t, WriteOrdersCSV(&buf, res.Orders))

	rows := readCSV(t, buf.String())
	require.Len(t, rows, 3)
	assert.Equal(t, "buy", rows[1][2])
	assert.Equal(t, "sell", rows[2][2])
	assert.Equal(t, "4", rows[2][8])
}

func TestWriteDir(t *testing.T) {
	res := sampleResult(t)
	dir := filepath.Join(t.TempDir(), "out")

	paths, err := WriteDir(dir, res, Options{JSON: true, CSV: true, Snapshot: true})
	require.NoError(t, err)
	assert.Len(t, paths, 5)

	snap, err := portfolio.ReadSnapshot(filepath.Join(dir, FileSnapshot))
	require.NoError(t, err)
	require.NoError(t, portfolio.CompareSnapshots(res.Final, snap, 1e-12))
}

func TestWriteJSON(t *testing.T) {
	res := sampleResult(t)
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, res))

	var decoded map[string]any
	require.NoError(t, sonic.ConfigStd.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, res.RunID, decoded["runId"])
	assert.Equal(t, "vectorized", decoded["mode"])
	assert.InDelta(t, 10001.0, decoded["finalEquity"], 1e-9)
}
