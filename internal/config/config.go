package config

import (
	"os"
	"strings"

	yerrors "github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"github.com/nashquant/backtesthub/internal/calendar"
	"github.com/nashquant/backtesthub/internal/engine"
	"github.com/nashquant/backtesthub/internal/errors"
	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/order"
	"github.com/nashquant/backtesthub/internal/risk"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/internal/strategy"
	"github.com/nashquant/backtesthub/pkg/exception"
)

// FileConfig mirrors the YAML config layout. JSON documents parse too.
type FileConfig struct {
	Run            RunConfig        `yaml:"run"`
	Lines          LinesConfig      `yaml:"lines"`
	Sizing         SizingConfig     `yaml:"sizing"`
	Strategy       strategy.Config  `yaml:"strategy"`
	BaseIndicators []indicator.Spec `yaml:"base_indicators"`
	Data           DataConfig       `yaml:"data"`
	Output         OutputConfig     `yaml:"output"`
	Store          StoreConfig      `yaml:"store"`
}

// RunConfig holds execution and capital settings.
type RunConfig struct {
	InitialCash    float64          `yaml:"initial_cash"`
	ExecutionPrice string           `yaml:"execution_price"`
	SlippageBps    float64          `yaml:"slippage_bps"`
	Commission     CommissionConfig `yaml:"commission"`
	LeverageLimit  float64          `yaml:"leverage_limit"`
	MaxOrderQty    float64          `yaml:"max_order_qty"`
	MaxPosition    float64          `yaml:"max_position"`
	AllowShort     bool             `yaml:"allow_short"`
	CloseAtEnd     bool             `yaml:"close_at_end"`
	CalendarPolicy string           `yaml:"calendar_policy"`
	Workers        int              `yaml:"workers"`
}

// CommissionConfig selects a commission model.
type CommissionConfig struct {
	Model   string  `yaml:"model"`
	Rate    float64 `yaml:"rate"`
	Minimum float64 `yaml:"minimum"`
}

// LinesConfig bounds vectorized precomputation.
type LinesConfig struct {
	Mode                     string `yaml:"mode"`
	MemoryCeilingBytes       int64  `yaml:"vectorized_memory_ceiling_bytes"`
	MaxVectorizedInstruments int    `yaml:"max_vectorized_instruments"`
	MaxVectorizedLength      int    `yaml:"max_vectorized_length"`
}

// SizingConfig describes how signals become positions.
type SizingConfig struct {
	Mode      string  `yaml:"mode"`
	Units     float64 `yaml:"units"`
	VolTarget float64 `yaml:"vol_target"`
	VolAlpha  float64 `yaml:"vol_alpha"`
	Lot       float64 `yaml:"lot"`
}

// DataConfig lists the input files. Patterns support ** globbing.
type DataConfig struct {
	Assets     []string `yaml:"assets"`
	Bases      []string `yaml:"bases"`
	TimeLayout string   `yaml:"time_layout"`
}

// OutputConfig controls the report files written after a run.
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	JSON     bool   `yaml:"json"`
	CSV      bool   `yaml:"csv"`
	Snapshot bool   `yaml:"snapshot"`
}

// StoreConfig is the optional postgres sink.
type StoreConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Engine   engine.Config
	Strategy strategy.Strategy
	Data     DataConfig
	Output   OutputConfig
	Store    StoreConfig
}

// Default returns the configuration used for keys a file leaves out.
func Default() FileConfig {
	def := engine.DefaultConfig()
	return FileConfig{
		Run: RunConfig{
			InitialCash:    def.InitialCash,
			ExecutionPrice: def.ExecutionPrice.String(),
			Commission:     CommissionConfig{Model: "percentage"},
			LeverageLimit:  def.Risk.LeverageLimit,
			CalendarPolicy: def.Calendar.String(),
		},
		Lines: LinesConfig{
			Mode:               indicator.ModeAuto.String(),
			MemoryCeilingBytes: def.Lines.MemoryCeilingBytes,
		},
		Sizing: SizingConfig{Mode: def.Sizing.Mode.String(), Units: def.Sizing.Units, VolTarget: 0.1, VolAlpha: 0.06},
		Data:   DataConfig{TimeLayout: "2006-01-02"},
		Output: OutputConfig{Dir: "out", JSON: true, CSV: true},
		Store:  StoreConfig{Host: "localhost", Port: 5432, Database: "backtest"},
	}
}

// Load reads a config file, applies BACKTEST_* environment overrides and
// resolves the result.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, yerrors.Wrap(err, "read config").With("path", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Loaded{}, err
	}
	if err := cfg.ApplyEnv(EnvPrefix); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Parse decodes a document on top of Default.
func Parse(data []byte) (FileConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, errors.Wrapf(exception.ErrInvalidConfig, "decode config: %v", err)
	}
	return cfg, nil
}

// Resolve validates every key and builds the engine configuration and the
// strategy.
func Resolve(cfg FileConfig) (Loaded, error) {
	ec := engine.DefaultConfig()
	var err error

	ec.InitialCash = cfg.Run.InitialCash
	if ec.ExecutionPrice, err = schema.ParsePriceRef(cfg.Run.ExecutionPrice); err != nil {
		return Loaded{}, keyErr("run.execution_price", err)
	}
	ec.SlippageBps = cfg.Run.SlippageBps
	if ec.Commission, err = order.NewCommissionModel(cfg.Run.Commission.Model, cfg.Run.Commission.Rate, cfg.Run.Commission.Minimum); err != nil {
		return Loaded{}, keyErr("run.commission", err)
	}
	ec.Risk = risk.Config{
		LeverageLimit: cfg.Run.LeverageLimit,
		MaxOrderQty:   cfg.Run.MaxOrderQty,
		MaxPosition:   cfg.Run.MaxPosition,
		AllowShort:    cfg.Run.AllowShort,
	}
	ec.CloseAtEnd = cfg.Run.CloseAtEnd
	if ec.Calendar, err = calendar.ParsePolicy(cfg.Run.CalendarPolicy); err != nil {
		return Loaded{}, keyErr("run.calendar_policy", err)
	}
	if cfg.Run.Workers < 0 {
		return Loaded{}, keyErr("run.workers", exception.ErrInvalidConfig)
	}
	ec.Workers = cfg.Run.Workers

	mode, err := indicator.ParseMode(cfg.Lines.Mode)
	if err != nil {
		return Loaded{}, keyErr("lines.mode", err)
	}
	ec.Lines = indicator.Policy{
		Mode:               mode,
		MemoryCeilingBytes: cfg.Lines.MemoryCeilingBytes,
		MaxInstruments:     cfg.Lines.MaxVectorizedInstruments,
		MaxLength:          cfg.Lines.MaxVectorizedLength,
		Workers:            cfg.Run.Workers,
	}

	sizingMode, err := engine.ParseSizingMode(cfg.Sizing.Mode)
	if err != nil {
		return Loaded{}, keyErr("sizing.mode", err)
	}
	ec.Sizing = engine.Sizing{
		Mode:      sizingMode,
		Units:     cfg.Sizing.Units,
		VolTarget: cfg.Sizing.VolTarget,
		VolAlpha:  cfg.Sizing.VolAlpha,
		Lot:       cfg.Sizing.Lot,
	}
	ec.BaseIndicators = cfg.BaseIndicators

	if err := ec.Validate(); err != nil {
		return Loaded{}, err
	}

	if strings.TrimSpace(cfg.Strategy.Name) == "" {
		return Loaded{}, keyErr("strategy.name", exception.ErrInvalidConfig)
	}
	s, err := strategy.Build(cfg.Strategy)
	if err != nil {
		return Loaded{}, keyErr("strategy", err)
	}

	if len(cfg.Data.Assets) == 0 {
		return Loaded{}, keyErr("data.assets", exception.ErrInvalidConfig)
	}
	if cfg.Store.Enabled && cfg.Store.DSN == "" && cfg.Store.Host == "" {
		return Loaded{}, keyErr("store", exception.ErrInvalidConfig)
	}

	return Loaded{
		Engine:   ec,
		Strategy: s,
		Data:     cfg.Data,
		Output:   cfg.Output,
		Store:    cfg.Store,
	}, nil
}

func keyErr(key string, err error) error {
	if !errors.Is(err, exception.ErrInvalidConfig) && !errors.Is(err, exception.ErrUnknownStrategy) &&
		!errors.Is(err, exception.ErrInvalidParams) {
		err = errors.Wrap(exception.ErrInvalidConfig, err.Error())
	}
	return errors.Wrapf(err, "config key %s", key)
}
