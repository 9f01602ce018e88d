package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/nashquant/backtesthub/internal/calendar"
	"github.com/nashquant/backtesthub/internal/config"
	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/strategy"
)

func validateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and the input data without running",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			assets, bases, err := loadData(loaded.Data)
			if err != nil {
				return err
			}
			clock, _, err := calendar.Align(loaded.Engine.Calendar, slices.Concat(assets, bases))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: strategy %s, %d assets, %d bases\n", loaded.Strategy.Name(), len(assets), len(bases))
			if len(clock) > 0 {
				fmt.Fprintf(out, "calendar %s: %d steps from %s to %s\n", loaded.Engine.Calendar, len(clock),
					clock[0].Format("2006-01-02"), clock[len(clock)-1].Format("2006-01-02"))
			}
			return nil
		},
	}
}

func indicatorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indicators",
		Short: "List indicator kinds and built-in strategies",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "indicators:")
			for _, kind := range indicator.DefaultRegistry().Kinds() {
				fmt.Fprintf(out, "  %s\n", kind)
			}
			fmt.Fprintln(out, "strategies:")
			for _, name := range strategy.Names() {
				fmt.Fprintf(out, "  %s\n", name)
			}
		},
	}
}
