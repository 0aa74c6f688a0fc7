// Package main provides the entry point for the cardinality CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cardinality/cmd/cardinality/commands"
	"github.com/Sumatoshi-tech/cardinality/pkg/version"
)

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	globals := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "cardinality",
		Short: "Cardinality - HyperLogLog distinct counting",
		Long: `Cardinality estimates the number of distinct elements in large streams
with a HyperLogLog sketch of fixed size.

Commands:
  count     Estimate distinct lines in files or stdin
  bench     Measure estimator accuracy against exact counts`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&globals.ConfigPath, "config", "", "config file (default: cardinality.yaml in ., ./config, /etc/cardinality)")
	rootCmd.PersistentFlags().BoolVarP(&globals.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&globals.Quiet, "quiet", "q", false, "suppress output")

	rootCmd.AddCommand(commands.NewCountCommand(globals))
	rootCmd.AddCommand(commands.NewBenchCommand(globals))
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "cardinality %s (commit: %s, built: %s, %s)\n",
				info.Version, info.Commit, info.Date, info.GoVersion)
		},
	}
}
