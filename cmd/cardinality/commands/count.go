package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cardinality/internal/observability"
	"github.com/Sumatoshi-tech/cardinality/internal/report"
	"github.com/Sumatoshi-tech/cardinality/pkg/config"
	"github.com/Sumatoshi-tech/cardinality/pkg/distinct"
)

const stdinArg = "-"

var errInputsPending = errors.New("inputs not opened yet")

type countFlags struct {
	format          string
	diagnosticsAddr string
	shards          int
	precision       uint8
	noColor         bool
}

// NewCountCommand creates the distinct line counting command.
func NewCountCommand(globals *GlobalOptions) *cobra.Command {
	flags := &countFlags{}

	cmd := &cobra.Command{
		Use:   "count [files...]",
		Short: "Estimate the number of distinct lines",
		Long: `Estimate the number of distinct newline-delimited records in the given
files, or in standard input when no file (or "-") is given.

A single input is spread over --shards sketches; several inputs get one
sketch each. The sketches are merged into the reported estimate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd, globals, flags, args)
		},
	}

	cmd.Flags().Uint8Var(&flags.precision, "precision", config.DefaultPrecision, "sketch precision in [4, 30]")
	cmd.Flags().IntVar(&flags.shards, "shards", 0, "shard sketches for a single input (0 uses count.shards)")
	cmd.Flags().StringVarP(&flags.format, "format", "f", string(report.FormatText), "output format: text, plain, json, yaml")
	cmd.Flags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	cmd.Flags().StringVar(&flags.diagnosticsAddr, "diagnostics-addr", "",
		"serve /healthz, /readyz and /metrics on this address while counting")

	return cmd
}

func runCount(cmd *cobra.Command, globals *GlobalOptions, flags *countFlags, args []string) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("precision") {
		cfg.Sketch.Precision = flags.precision
	}

	if cmd.Flags().Changed("shards") && flags.shards != 0 {
		cfg.Count.Shards = flags.shards
	}

	if cmd.Flags().Changed("diagnostics-addr") {
		cfg.Observability.DiagnosticsAddr = flags.diagnosticsAddr
	}

	err = config.Validate(cfg)
	if err != nil {
		return err
	}

	opts, err := reportOptions(flags.format, flags.noColor)
	if err != nil {
		return err
	}

	providers, err := globals.initObservability(cfg, observability.ModeCount, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	defer shutdownObservability(providers)

	var opened atomic.Bool

	if cfg.Observability.DiagnosticsAddr != "" {
		srv, srvErr := observability.StartDiagnostics(cmd.Context(), cfg.Observability.DiagnosticsAddr, providers.Registry,
			func(context.Context) error {
				if !opened.Load() {
					return errInputsPending
				}

				return nil
			})
		if srvErr != nil {
			return srvErr
		}

		defer func() {
			closeErr := srv.Close()
			if closeErr != nil {
				providers.Logger.Warn("diagnostics server close failed", "error", closeErr)
			}
		}()

		providers.Logger.InfoContext(cmd.Context(), "diagnostics server listening", "addr", srv.Addr())
	}

	metrics, err := observability.NewSketchMetrics(providers.Meter)
	if err != nil {
		return err
	}

	counter, err := distinct.New(
		distinct.Config{Precision: cfg.Sketch.Precision, Shards: cfg.Count.Shards},
		distinct.WithLogger(providers.Logger),
		distinct.WithTracer(providers.Tracer),
		distinct.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	readers, closeAll, err := openInputs(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	defer closeAll()

	opened.Store(true)

	var result distinct.Result

	if len(readers) == 1 {
		result, err = counter.CountLines(cmd.Context(), readers[0])
	} else {
		result, err = counter.CountReaders(cmd.Context(), readers...)
	}

	if err != nil {
		return err
	}

	return report.WriteCount(cmd.OutOrStdout(), result, opts)
}

// openInputs opens every named file, mapping no names or "-" to stdin.
// The returned function closes whatever was opened.
func openInputs(stdin io.Reader, names []string) ([]io.Reader, func(), error) {
	if len(names) == 0 {
		return []io.Reader{stdin}, func() {}, nil
	}

	readers := make([]io.Reader, 0, len(names))
	files := make([]*os.File, 0, len(names))

	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for _, name := range names {
		if name == stdinArg {
			readers = append(readers, stdin)

			continue
		}

		f, err := os.Open(name)
		if err != nil {
			closeAll()

			return nil, nil, fmt.Errorf("open input: %w", err)
		}

		files = append(files, f)
		readers = append(readers, f)
	}

	return readers, closeAll, nil
}
