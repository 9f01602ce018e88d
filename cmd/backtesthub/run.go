package main

import (
	"time"

	"github.com/spf13/cobra"
	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/nashquant/backtesthub/internal/config"
	"github.com/nashquant/backtesthub/internal/engine"
	"github.com/nashquant/backtesthub/internal/feed"
	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/report"
	"github.com/nashquant/backtesthub/internal/schema"
	"github.com/nashquant/backtesthub/internal/store"
)

func runCmd(opts *options) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured backtest and write reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			stop, err := startProfiler(opts.pyroscope)
			if err != nil {
				return yerrors.Wrap(err, "start pyroscope")
			}
			defer stop()

			loaded, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if outDir != "" {
				loaded.Output.Dir = outDir
			}
			assets, bases, err := loadData(loaded.Data)
			if err != nil {
				return err
			}

			e, err := engine.New(loaded.Engine, indicator.DefaultRegistry(), loaded.Strategy)
			if err != nil {
				return err
			}
			ctx, cancel := shutdownContext(cmd.Context())
			defer cancel()

			start := time.Now()
			res, err := e.Run(ctx, assets, bases)
			if err != nil {
				return err
			}
			logs.Infof("run %s: %d steps in %s, final equity %.2f (%.2f%%)",
				res.RunID, res.Steps, time.Since(start).Round(time.Millisecond), res.FinalEquity, res.Return()*100)

			paths, err := report.WriteDir(loaded.Output.Dir, res, report.Options{
				JSON:     loaded.Output.JSON,
				CSV:      loaded.Output.CSV,
				Snapshot: loaded.Output.Snapshot,
			})
			if err != nil {
				return err
			}
			for _, p := range paths {
				logs.Infof("wrote %s", p)
			}

			if !loaded.Store.Enabled {
				return nil
			}
			return save(cmd, loaded.Store, res)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "report directory, overrides output.dir")
	return cmd
}

func save(cmd *cobra.Command, cfg config.StoreConfig, res *engine.Result) error {
	db, err := store.Open(store.Option{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		DSN:      cfg.DSN,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(db) }()

	s := store.NewStore(db)
	if err := s.Migrate(cmd.Context()); err != nil {
		return err
	}
	return s.SaveResult(cmd.Context(), res)
}

func loadData(cfg config.DataConfig) (assets, bases []schema.Series, err error) {
	opts := feed.Options{TimeLayout: cfg.TimeLayout}
	assets, err = feed.LoadGlob(cfg.Assets, schema.InstrumentKindAsset, opts)
	if err != nil {
		return nil, nil, yerrors.Wrap(err, "load assets")
	}
	if len(cfg.Bases) > 0 {
		bases, err = feed.LoadGlob(cfg.Bases, schema.InstrumentKindBase, opts)
		if err != nil {
			return nil, nil, yerrors.Wrap(err, "load bases")
		}
	}
	logs.Infof("loaded %d assets and %d bases", len(assets), len(bases))
	return assets, bases, nil
}
