package config

import (
	"github.com/kelseyhightower/envconfig"

	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BACKTEST"

// Overrides are the keys that may be set from the environment. Unset
// variables leave the file value alone.
type Overrides struct {
	InitialCash    *float64 `envconfig:"INITIAL_CASH"`
	ExecutionPrice *string  `envconfig:"EXECUTION_PRICE"`
	SlippageBps    *float64 `envconfig:"SLIPPAGE_BPS"`
	LeverageLimit  *float64 `envconfig:"LEVERAGE_LIMIT"`
	AllowShort     *bool    `envconfig:"ALLOW_SHORT"`
	CalendarPolicy *string  `envconfig:"CALENDAR_POLICY"`
	Workers        *int     `envconfig:"WORKERS"`
	LineMode       *string  `envconfig:"LINE_MODE"`
	MemoryCeiling  *int64   `envconfig:"MEMORY_CEILING_BYTES"`
	OutputDir      *string  `envconfig:"OUTPUT_DIR"`
	StoreEnabled   *bool    `envconfig:"STORE_ENABLED"`
	StoreDSN       *string  `envconfig:"STORE_DSN"`
	StorePassword  *string  `envconfig:"STORE_PASSWORD"`
}

// ApplyEnv reads overrides from the environment.
func (c *FileConfig) ApplyEnv(prefix string) error {
	var o Overrides
	if err := envconfig.Process(prefix, &o); err != nil {
		return errors.Wrapf(exception.ErrInvalidConfig, "environment: %v", err)
	}
	c.Apply(o)
	return nil
}

// Apply copies every set override into the config.
func (c *FileConfig) Apply(o Overrides) {
	set(&c.Run.InitialCash, o.InitialCash)
	set(&c.Run.ExecutionPrice, o.ExecutionPrice)
	set(&c.Run.SlippageBps, o.SlippageBps)
	set(&c.Run.LeverageLimit, o.LeverageLimit)
	set(&c.Run.AllowShort, o.AllowShort)
	set(&c.Run.CalendarPolicy, o.CalendarPolicy)
	set(&c.Run.Workers, o.Workers)
	set(&c.Lines.Mode, o.LineMode)
	set(&c.Lines.MemoryCeilingBytes, o.MemoryCeiling)
	set(&c.Output.Dir, o.OutputDir)
	set(&c.Store.Enabled, o.StoreEnabled)
	set(&c.Store.DSN, o.StoreDSN)
	set(&c.Store.Password, o.StorePassword)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
