package bench_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/cardinality/internal/bench"
	"github.com/Sumatoshi-tech/cardinality/pkg/alg/hll"
)

const testSeed = 20240601

func newRunner(t *testing.T, cfg bench.Config, opts ...bench.Option) *bench.Runner {
	t.Helper()

	r, err := bench.New(cfg, opts...)
	require.NoError(t, err)

	return r
}

func TestDefaultRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples int64
		want    []int64
	}{
		{
			name:    "reference",
			samples: 1_000_000,
			want:    []int64{100, 1000, 10000, 100_000, 1_000_000, 10_000_000, 100_000_000, 1_000_000_000},
		},
		{name: "tiny", samples: 5, want: []int64{100, 1000, 10000, 5, 50, 500, 5000}},
		{
			name:    "overflow_dropped",
			samples: 10_000_000,
			want:    []int64{100, 1000, 10000, 1_000_000, 10_000_000, 100_000_000, 1_000_000_000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, bench.DefaultRanges(tt.samples))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     bench.Config
		wantErr error
	}{
		{name: "zero_samples", cfg: bench.Config{Precision: 12}, wantErr: bench.ErrInvalidSamples},
		{name: "bad_precision", cfg: bench.Config{Precision: 2, Samples: 10}, wantErr: hll.ErrPrecisionOutOfRange},
		{name: "zero_range", cfg: bench.Config{Precision: 12, Samples: 10, Ranges: []int64{0}}, wantErr: bench.ErrInvalidRange},
		{
			name:    "range_too_large",
			cfg:     bench.Config{Precision: 12, Samples: 10, Ranges: []int64{bench.MaxRange + 1}},
			wantErr: bench.ErrInvalidRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := bench.New(tt.cfg)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew_ResolvesDefaults(t *testing.T) {
	t.Parallel()

	r := newRunner(t, bench.Config{Precision: 12, Samples: 1000})

	cfg := r.Config()
	assert.Equal(t, bench.DefaultRanges(1000), cfg.Ranges)
	assert.NotZero(t, cfg.Seed)

	// An explicitly empty list is the same as none and never leaves a run without ranges.
	empty := newRunner(t, bench.Config{Precision: 12, Samples: 1, Ranges: []int64{}})
	assert.Equal(t, []int64{100, 1000, 10000, 1, 10, 100, 1000}, empty.Config().Ranges)
}

func TestRun_Trials(t *testing.T) {
	t.Parallel()

	r := newRunner(t, bench.Config{Precision: 12, Samples: 20000, Ranges: []int64{100, 1000, 10000}, Seed: testSeed})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Trials, 3)
	assert.Equal(t, uint64(testSeed), summary.Seed)
	assert.Equal(t, uint8(12), summary.Precision)
	assert.InDelta(t, 0.01625, summary.TheoreticalError, 1e-12)

	var errSum float64

	for _, trial := range summary.Trials {
		assert.Equal(t, int64(20000), trial.Samples)
		assert.LessOrEqual(t, trial.Exact, uint64(trial.Range))
		assert.Less(t, trial.RelativeError, 0.1, "range %d", trial.Range)
		assert.Equal(t, trial.Correction.String(), trial.CorrectionName)

		errSum += trial.RelativeError
	}

	assert.InDelta(t, errSum/3, summary.AverageError, 1e-12)
	assert.Equal(t, 3, summary.ErrorSpread.Count)
	assert.GreaterOrEqual(t, summary.ErrorSpread.Max, summary.ErrorSpread.Median)

	// 20000 draws cover all of [1, 100] and [1, 1000].
	assert.Equal(t, uint64(100), summary.Trials[0].Exact)
	assert.Equal(t, uint64(1000), summary.Trials[1].Exact)
	assert.Equal(t, hll.CorrectionSmallRange, summary.Trials[0].Correction)
	assert.True(t, summary.Trials[0].WithinBound)
}

func TestRun_SeedIsReproducible(t *testing.T) {
	t.Parallel()

	cfg := bench.Config{Precision: 10, Samples: 5000, Ranges: []int64{50, 5000, 500000}, Seed: 99}

	first, err := newRunner(t, cfg).Run(context.Background())
	require.NoError(t, err)

	second, err := newRunner(t, cfg).Run(context.Background())
	require.NoError(t, err)

	for i := range first.Trials {
		assert.Equal(t, first.Trials[i].Exact, second.Trials[i].Exact)
		assert.Equal(t, first.Trials[i].Estimate, second.Trials[i].Estimate)
	}

	assert.InDelta(t, first.AverageError, second.AverageError, 0)
}

func TestRun_SketchClearedBetweenTrials(t *testing.T) {
	t.Parallel()

	// A wide range followed by a tiny one: without clearing, the second
	// estimate would carry the first trial's registers.
	r := newRunner(t, bench.Config{Precision: 12, Samples: 5000, Ranges: []int64{1_000_000, 10}, Seed: testSeed})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(10), summary.Trials[1].Exact)
	assert.Equal(t, uint64(10), summary.Trials[1].Estimate)
}

type countingProgress struct {
	mu    sync.Mutex
	total int64
}

func (p *countingProgress) Add64(n int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total += n

	return nil
}

type trialRecorder struct {
	ranges []int64
	passed []bool
}

func (tr *trialRecorder) RecordTrial(_ context.Context, valueRange int64, _ float64, withinBound bool) {
	tr.ranges = append(tr.ranges, valueRange)
	tr.passed = append(tr.passed, withinBound)
}

func TestRun_ReportsProgressAndMetrics(t *testing.T) {
	t.Parallel()

	progress := &countingProgress{}
	metrics := &trialRecorder{}

	r := newRunner(t,
		bench.Config{Precision: 12, Samples: 25001, Ranges: []int64{100, 200}, Seed: testSeed},
		bench.WithProgress(progress), bench.WithMetrics(metrics))

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2*25001), progress.total)
	assert.Equal(t, []int64{100, 200}, metrics.ranges)
	assert.Len(t, metrics.passed, len(summary.Trials))
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRunner(t, bench.Config{Precision: 12, Samples: 50000, Ranges: []int64{100}, Seed: testSeed})

	_, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRelativeError(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.0208, bench.RelativeError(10000, 9792), 1e-12)
	assert.InDelta(t, 0.5, bench.RelativeError(10, 15), 1e-12)
	assert.Zero(t, bench.RelativeError(0, 3))
	assert.Zero(t, bench.RelativeError(7, 7))
}
