package commands

import (
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cardinality/internal/bench"
	"github.com/Sumatoshi-tech/cardinality/internal/observability"
	"github.com/Sumatoshi-tech/cardinality/internal/report"
	"github.com/Sumatoshi-tech/cardinality/pkg/config"
)

const (
	progressWidth    = 40
	progressThrottle = 100 * time.Millisecond
)

type benchFlags struct {
	ranges    []int64
	format    string
	samples   int64
	seed      uint64
	precision uint8
	noColor   bool
	progress  bool
}

// NewBenchCommand creates the accuracy benchmark command.
func NewBenchCommand(globals *GlobalOptions) *cobra.Command {
	flags := &benchFlags{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure HyperLogLog accuracy against exact counts",
		Long: `Run one trial per value range. Each trial draws --samples integers
uniformly from [1, range], feeds them to a single sketch and to an exact set,
and reports the estimate, the exact distinct count and the relative error.
The sketch is cleared between trials.

Default ranges for N samples: 100, 1000, 10000, N/10, N, 10N, 100N, 1000N.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd, globals, flags)
		},
	}

	cmd.Flags().Uint8Var(&flags.precision, "precision", config.DefaultPrecision, "sketch precision in [4, 30]")
	cmd.Flags().Int64VarP(&flags.samples, "samples", "n", config.DefaultSamples, "values drawn per trial")
	cmd.Flags().Int64SliceVar(&flags.ranges, "ranges", nil, "value ranges to try (default derived from --samples)")
	cmd.Flags().Uint64Var(&flags.seed, "seed", 0, "generator seed (0 picks one from the clock)")
	cmd.Flags().StringVarP(&flags.format, "format", "f", string(report.FormatText), "output format: text, plain, json, yaml")
	cmd.Flags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	cmd.Flags().BoolVar(&flags.progress, "progress", false, "show a progress bar on stderr")

	return cmd
}

func runBench(cmd *cobra.Command, globals *GlobalOptions, flags *benchFlags) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("precision") {
		cfg.Sketch.Precision = flags.precision
	}

	if cmd.Flags().Changed("samples") {
		cfg.Bench.Samples = flags.samples
	}

	if cmd.Flags().Changed("ranges") {
		cfg.Bench.Ranges = flags.ranges
	}

	if cmd.Flags().Changed("seed") {
		cfg.Bench.Seed = flags.seed
	}

	err = config.Validate(cfg)
	if err != nil {
		return err
	}

	opts, err := reportOptions(flags.format, flags.noColor)
	if err != nil {
		return err
	}

	providers, err := globals.initObservability(cfg, observability.ModeBench, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	defer shutdownObservability(providers)

	metrics, err := observability.NewSketchMetrics(providers.Meter)
	if err != nil {
		return err
	}

	ranges := cfg.Bench.Ranges
	if len(ranges) == 0 {
		ranges = bench.DefaultRanges(cfg.Bench.Samples)
	}

	benchOpts := []bench.Option{
		bench.WithLogger(providers.Logger),
		bench.WithTracer(providers.Tracer),
		bench.WithMetrics(metrics),
	}

	var bar *progressbar.ProgressBar

	if flags.progress {
		bar = progressbar.NewOptions64(
			cfg.Bench.Samples*int64(len(ranges)),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("trials"),
			progressbar.OptionSetWidth(progressWidth),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(progressThrottle),
			progressbar.OptionClearOnFinish(),
		)

		benchOpts = append(benchOpts, bench.WithProgress(bar))
	}

	runner, err := bench.New(bench.Config{
		Ranges:    ranges,
		Samples:   cfg.Bench.Samples,
		Seed:      cfg.Bench.Seed,
		Precision: cfg.Sketch.Precision,
	}, benchOpts...)
	if err != nil {
		return err
	}

	providers.Logger.InfoContext(cmd.Context(), "benchmark started",
		"precision", cfg.Sketch.Precision, "samples", cfg.Bench.Samples, "seed", runner.Config().Seed)

	summary, err := runner.Run(cmd.Context())
	if err != nil {
		return err
	}

	if bar != nil {
		_ = bar.Finish()
	}

	return report.WriteBench(cmd.OutOrStdout(), summary, opts)
}
