package main

import (
	"context"
	"os"

	"github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

type options struct {
	configPath string
	envFile    string
	pyroscope  string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		logs.Errorf("backtesthub: %+v", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "backtesthub",
		Short:         "Run a strategy over historical price series",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile == "" {
				return nil
			}
			if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "backtest.yaml", "config file (yaml or json)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with BACKTEST_* overrides")
	root.PersistentFlags().StringVar(&opts.pyroscope, "pyroscope", "", "pyroscope server address, empty disables profiling")

	root.AddCommand(runCmd(opts))
	root.AddCommand(validateCmd(opts))
	root.AddCommand(indicatorsCmd())
	return root
}

// shutdownContext is cancelled on SIGINT/SIGTERM.
func shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received, aborting run")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func startProfiler(addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "backtesthub",
		ServerAddress:   addr,
		Logger:          emptyLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = profiler.Stop() }, nil
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
