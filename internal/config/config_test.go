package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nashquant/backtesthub/internal/calendar"
	"github.com/nashquant/backtesthub/internal/engine"
	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/order"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/pkg/exception"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
run:
  initial_cash: 50000
  execution_price: close
  slippage_bps: 2.5
  commission: {model: per_share, rate: 0.01, minimum: 1}
  leverage_limit: 2
  allow_short: true
  calendar_policy: forward_fill
  workers: 3
lines:
  mode: incremental
  vectorized_memory_ceiling_bytes: 1048576
sizing: {mode: weight, lot: 10}
strategy: {name: sma_cross, params: [5, 20]}
base_indicators:
  - {kind: sma, inputs: [close], params: [20]}
data:
  assets: ["data/**/*.csv"]
store: {enabled: true, dsn: "postgres://localhost/bt"}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	loaded, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	ec := loaded.Engine
	assert.Equal(t, 50000.0, ec.InitialCash)
	assert.Equal(t, schema.PriceRefClose, ec.ExecutionPrice)
	assert.Equal(t, 2.5, ec.SlippageBps)
	assert.Equal(t, order.PerShareCommission{Rate: 0.01, Minimum: 1}, ec.Commission)
	assert.Equal(t, 2.0, ec.Risk.LeverageLimit)
	assert.True(t, ec.Risk.AllowShort)
	assert.Equal(t, calendar.PolicyForwardFill, ec.Calendar)
	assert.Equal(t, 3, ec.Workers)
	assert.Equal(t, indicator.ModeIncremental, ec.Lines.Mode)
	assert.Equal(t, int64(1<<20), ec.Lines.MemoryCeilingBytes)
	assert.Equal(t, engine.SizingWeight, ec.Sizing.Mode)
	assert.Equal(t, 10.0, ec.Sizing.Lot)
	require.Len(t, ec.BaseIndicators, 1)
	assert.Equal(t, "sma(close,20)", ec.BaseIndicators[0].Name())

	assert.Equal(t, "sma_cross", loaded.Strategy.Name())
	assert.Equal(t, []string{"data/**/*.csv"}, loaded.Data.Assets)
	assert.Equal(t, "2006-01-02", loaded.Data.TimeLayout)
	assert.Equal(t, "out", loaded.Output.Dir)
	assert.True(t, loaded.Store.Enabled)
}

func TestLoadDefaults(t *testing.T) {
	loaded, err := Load(writeConfig(t, "strategy: {name: buy_and_hold}\ndata: {assets: [a.csv]}\n"))
	require.NoError(t, err)

	def := engine.DefaultConfig()
	assert.Equal(t, def.InitialCash, loaded.Engine.InitialCash)
	assert.Equal(t, def.ExecutionPrice, loaded.Engine.ExecutionPrice)
	assert.Equal(t, def.Risk, loaded.Engine.Risk)
	assert.Equal(t, def.Calendar, loaded.Engine.Calendar)
	assert.Equal(t, def.Sizing, loaded.Engine.Sizing)
	assert.Equal(t, indicator.ModeAuto, loaded.Engine.Lines.Mode)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BACKTEST_INITIAL_CASH", "777")
	t.Setenv("BACKTEST_LINE_MODE", "vectorized")
	t.Setenv("BACKTEST_ALLOW_SHORT", "false")
	t.Setenv("BACKTEST_OUTPUT_DIR", "/tmp/reports")

	loaded, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, 777.0, loaded.Engine.InitialCash)
	assert.Equal(t, indicator.ModeVectorized, loaded.Engine.Lines.Mode)
	assert.False(t, loaded.Engine.Risk.AllowShort)
	assert.Equal(t, "/tmp/reports", loaded.Output.Dir)
	// untouched keys keep the file value
	assert.Equal(t, 2.5, loaded.Engine.SlippageBps)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"execution price": "run: {execution_price: vwap}\nstrategy: {name: buy_and_hold}\ndata: {assets: [a]}",
		"calendar":        "run: {calendar_policy: weekly}\nstrategy: {name: buy_and_hold}\ndata: {assets: [a]}",
		"commission":      "run: {commission: {model: tiered}}\nstrategy: {name: buy_and_hold}\ndata: {assets: [a]}",
		"cash":            "run: {initial_cash: -5}\nstrategy: {name: buy_and_hold}\ndata: {assets: [a]}",
		"line mode":       "lines: {mode: lazy}\nstrategy: {name: buy_and_hold}\ndata: {assets: [a]}",
		"sizing":          "sizing: {mode: kelly}\nstrategy: {name: buy_and_hold}\ndata: {assets: [a]}",
		"no strategy":     "data: {assets: [a]}",
		"no data":         "strategy: {name: buy_and_hold}",
		"malformed":       "run: [1, 2",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, exception.ErrInvalidConfig)
		})
	}

	_, err := Load(writeConfig(t, "strategy: {name: martingale}\ndata: {assets: [a]}"))
	assert.ErrorIs(t, err, exception.ErrUnknownStrategy)

	_, err = Load(writeConfig(t, "strategy: {name: sma_cross, params: [20, 5]}\ndata: {assets: [a]}"))
	assert.ErrorIs(t, err, exception.ErrInvalidParams)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadJSON(t *testing.T) {
	loaded, err := Load(writeConfig(t, `{"strategy": {"name": "donchian", "params": [20]}, "data": {"assets": ["x.csv"]}}`))
	require.NoError(t, err)
	assert.Equal(t, "donchian", loaded.Strategy.Name())
}
