// Package bench measures the accuracy of the HyperLogLog sketch against
// exact distinct counts.
//
// Each trial draws Samples values uniformly from [1, Range], feeds them to
// one reused sketch and to an exact set, and compares the two counts. The
// sketch is cleared between trials.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/cardinality/pkg/alg/hll"
	"github.com/Sumatoshi-tech/cardinality/pkg/alg/stats"
)

const (
	// DefaultPrecision matches the 4 KiB sketch of the reference driver.
	DefaultPrecision = 12

	// DefaultSamples is the number of values drawn per trial.
	DefaultSamples = 1_000_000

	// MaxRange is the largest accepted range; values are drawn as int32.
	MaxRange = math.MaxInt32

	// sigmaBound is the number of standard errors a trial may deviate.
	sigmaBound = 3

	// progressStep is the number of samples between progress updates.
	progressStep = 10_000

	tracerName = "cardinality/bench"
)

var (
	// ErrInvalidSamples is returned when the sample count is not positive.
	ErrInvalidSamples = errors.New("bench: samples must be positive")

	// ErrInvalidRange is returned for a range outside [1, MaxRange].
	ErrInvalidRange = errors.New("bench: range must be in [1, 2147483647]")
)

// rangeMultipliers scale the sample count into the default ranges
// N/10, N, 10N, 100N and 1000N, after the fixed 100, 1000 and 10000.
var (
	fixedRanges      = []int64{100, 1000, 10000}
	rangeMultipliers = []struct{ num, den int64 }{{1, 10}, {1, 1}, {10, 1}, {100, 1}, {1000, 1}}
)

// Config configures a benchmark run.
type Config struct {
	// Ranges are the upper bounds of the value distributions. Empty selects
	// [DefaultRanges] of Samples.
	Ranges []int64

	// Samples is the number of values drawn per trial.
	Samples int64

	// Seed seeds the generator. Zero picks a seed from the clock.
	Seed uint64

	// Precision is the sketch precision.
	Precision uint8
}

// Trial is the outcome of one range.
type Trial struct {
	Samples        int64          `json:"samples"        yaml:"samples"`
	Range          int64          `json:"range"          yaml:"range"`
	Exact          uint64         `json:"exact"          yaml:"exact"`
	Estimate       uint64         `json:"estimate"       yaml:"estimate"`
	RelativeError  float64        `json:"relative_error" yaml:"relative_error"`
	WithinBound    bool           `json:"within_bound"   yaml:"within_bound"`
	Correction     hll.Correction `json:"-"              yaml:"-"`
	CorrectionName string         `json:"correction"     yaml:"correction"`
	Duration       time.Duration  `json:"duration_ns"    yaml:"duration"`
}

// Summary is the outcome of a whole run.
type Summary struct {
	Trials           []Trial       `json:"trials"            yaml:"trials"`
	ErrorSpread      stats.Summary `json:"error_spread"      yaml:"error_spread"`
	Seed             uint64        `json:"seed"              yaml:"seed"`
	Samples          int64         `json:"samples"           yaml:"samples"`
	AverageError     float64       `json:"average_error"     yaml:"average_error"`
	TheoreticalError float64       `json:"theoretical_error" yaml:"theoretical_error"`
	Passed           int           `json:"passed"            yaml:"passed"`
	Precision        uint8         `json:"precision"         yaml:"precision"`
}

// Metrics receives per-trial telemetry.
type Metrics interface {
	RecordTrial(ctx context.Context, valueRange int64, relativeError float64, withinBound bool)
}

// Progress receives the number of samples processed since the last call.
type Progress interface {
	Add64(n int64) error
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the logger for per-trial messages.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithTracer sets the tracer used for run and trial spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithMetrics sets the per-trial telemetry sink.
func WithMetrics(metrics Metrics) Option {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// WithProgress sets the progress sink.
func WithProgress(progress Progress) Option {
	return func(r *Runner) {
		r.progress = progress
	}
}

// Runner executes accuracy trials.
type Runner struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  Metrics
	progress Progress
	cfg      Config
}

// DefaultRanges returns 100, 1000, 10000, N/10, N, 10N, 100N and 1000N for
// N samples. Ranges above MaxRange are dropped and non-positive ones
// (N/10 for tiny N) are skipped.
func DefaultRanges(samples int64) []int64 {
	ranges := make([]int64, 0, len(fixedRanges)+len(rangeMultipliers))
	ranges = append(ranges, fixedRanges...)

	for _, mul := range rangeMultipliers {
		if samples > MaxRange/mul.num {
			break
		}

		r := samples * mul.num / mul.den
		if r <= 0 {
			continue
		}

		ranges = append(ranges, r)
	}

	return ranges
}

// New validates cfg and creates a Runner.
func New(cfg Config, opts ...Option) (*Runner, error) {
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSamples, cfg.Samples)
	}

	_, err := hll.New(cfg.Precision)
	if err != nil {
		return nil, fmt.Errorf("bench: %w", err)
	}

	if len(cfg.Ranges) == 0 {
		cfg.Ranges = DefaultRanges(cfg.Samples)
	}

	for _, r := range cfg.Ranges {
		if r < 1 || r > MaxRange {
			return nil, fmt.Errorf("%w: %d", ErrInvalidRange, r)
		}
	}

	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano()) //nolint:gosec // clock is positive.
	}

	r := &Runner{
		logger:   slog.New(slog.DiscardHandler),
		tracer:   nooptrace.NewTracerProvider().Tracer(tracerName),
		metrics:  nopMetrics{},
		progress: nopProgress{},
		cfg:      cfg,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Config returns the effective configuration, with defaults resolved.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run executes one trial per range in order.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	ctx, span := r.tracer.Start(ctx, "bench.run", trace.WithAttributes(
		attribute.Int("precision", int(r.cfg.Precision)),
		attribute.Int64("samples", r.cfg.Samples),
		attribute.Int("ranges", len(r.cfg.Ranges)),
	))
	defer span.End()

	sketch, err := hll.New(r.cfg.Precision)
	if err != nil {
		return Summary{}, fmt.Errorf("bench: %w", err)
	}

	rng := rand.New(rand.NewPCG(r.cfg.Seed, r.cfg.Seed^math.MaxUint64))

	summary := Summary{
		Trials:           make([]Trial, 0, len(r.cfg.Ranges)),
		Seed:             r.cfg.Seed,
		Samples:          r.cfg.Samples,
		TheoreticalError: sketch.RelativeError(),
		Precision:        r.cfg.Precision,
	}

	errs := make([]float64, 0, len(r.cfg.Ranges))

	for _, valueRange := range r.cfg.Ranges {
		trial, trialErr := r.trial(ctx, sketch, rng, valueRange)
		if trialErr != nil {
			span.RecordError(trialErr)
			span.SetStatus(codes.Error, trialErr.Error())

			return Summary{}, trialErr
		}

		errs = append(errs, trial.RelativeError)
		if trial.WithinBound {
			summary.Passed++
		}

		summary.Trials = append(summary.Trials, trial)

		sketch.Clear()
	}

	summary.ErrorSpread = stats.Summarize(errs)
	summary.AverageError = summary.ErrorSpread.Mean

	span.SetAttributes(attribute.Float64("average_error", summary.AverageError))

	return summary, nil
}

// trial feeds Samples draws from [1, valueRange] into sketch and an exact set.
func (r *Runner) trial(ctx context.Context, sketch *hll.Sketch, rng *rand.Rand, valueRange int64) (Trial, error) {
	ctx, span := r.tracer.Start(ctx, "bench.trial", trace.WithAttributes(attribute.Int64("range", valueRange)))
	defer span.End()

	start := time.Now()
	exact := make(map[int32]struct{}, min(r.cfg.Samples, valueRange))

	for i := range r.cfg.Samples {
		if i%progressStep == 0 && i > 0 {
			err := r.step(ctx, progressStep)
			if err != nil {
				return Trial{}, err
			}
		}

		value := int32(rng.Int64N(valueRange) + 1) //nolint:gosec // valueRange <= MaxRange.
		exact[value] = struct{}{}
		hll.AddScalar(sketch, value)
	}

	err := r.step(ctx, r.cfg.Samples-(r.cfg.Samples-1)/progressStep*progressStep)
	if err != nil {
		return Trial{}, err
	}

	estimate, correction := sketch.Estimate()
	want := uint64(len(exact))
	relErr := RelativeError(want, estimate)
	within := relErr <= sigmaBound*sketch.RelativeError()

	trial := Trial{
		Samples:        r.cfg.Samples,
		Range:          valueRange,
		Exact:          want,
		Estimate:       estimate,
		RelativeError:  relErr,
		WithinBound:    within,
		Correction:     correction,
		CorrectionName: correction.String(),
		Duration:       time.Since(start),
	}

	span.SetAttributes(
		attribute.Int64("exact", int64(want)), //nolint:gosec // at most Samples.
		attribute.Float64("relative_error", relErr),
		attribute.Bool("within_bound", within),
	)

	r.metrics.RecordTrial(ctx, valueRange, relErr, within)
	r.logger.DebugContext(ctx, "trial finished",
		"range", valueRange, "exact", want, "estimate", estimate,
		"relative_error", relErr, "correction", correction.String())

	return trial, nil
}

// step reports progress and checks for cancellation.
func (r *Runner) step(ctx context.Context, n int64) error {
	err := ctx.Err()
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}

	err = r.progress.Add64(n)
	if err != nil {
		return fmt.Errorf("bench progress: %w", err)
	}

	return nil
}

// RelativeError returns |got-want|/want. It is zero when want is zero.
func RelativeError(want, got uint64) float64 {
	if want == 0 {
		return 0
	}

	diff := float64(got) - float64(want)

	return math.Abs(diff) / float64(want)
}

type nopMetrics struct{}

func (nopMetrics) RecordTrial(context.Context, int64, float64, bool) {}

type nopProgress struct{}

func (nopProgress) Add64(int64) error { return nil }
