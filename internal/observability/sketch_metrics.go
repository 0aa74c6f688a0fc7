package observability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRecordsTotal  = "cardinality.records.total"
	metricMergeDuration = "cardinality.merge.duration.seconds"
	metricMergedShards  = "cardinality.merge.shards.total"
	metricEstimate      = "cardinality.estimate"
	metricTrialsTotal   = "cardinality.bench.trials.total"
	metricTrialError    = "cardinality.bench.relative_error"

	attrRange   = "range"
	attrOutcome = "outcome"

	outcomePass = "pass"
	outcomeFail = "fail"
)

var (
	// mergeBucketBoundaries covers merges from a single small sketch up to
	// dozens of 2^20-register shards.
	mergeBucketBoundaries = []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1}

	// errorBucketBoundaries is centered on the 1-3% standard errors of
	// typical precisions.
	errorBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.02, 0.03, 0.05, 0.1, 0.25, 1}
)

// SketchMetrics holds the OTel instruments for counting runs and
// benchmark trials.
type SketchMetrics struct {
	recordsTotal  metric.Int64Counter
	mergeDuration metric.Float64Histogram
	mergedShards  metric.Int64Counter
	estimate      metric.Int64Gauge
	trialsTotal   metric.Int64Counter
	trialError    metric.Float64Histogram
}

// NewSketchMetrics creates the sketch instruments from the given meter.
// Every creation error is reported, joined.
func NewSketchMetrics(mt metric.Meter) (*SketchMetrics, error) {
	var (
		sm   SketchMetrics
		errs [6]error
	)

	sm.recordsTotal, errs[0] = mt.Int64Counter(metricRecordsTotal,
		metric.WithDescription("Records added to sketches, duplicates included"), metric.WithUnit("{record}"))
	sm.mergedShards, errs[1] = mt.Int64Counter(metricMergedShards,
		metric.WithDescription("Shard sketches merged"), metric.WithUnit("{shard}"))
	sm.trialsTotal, errs[2] = mt.Int64Counter(metricTrialsTotal,
		metric.WithDescription("Benchmark trials run"), metric.WithUnit("{trial}"))
	sm.mergeDuration, errs[3] = mt.Float64Histogram(metricMergeDuration,
		metric.WithDescription("Time spent merging shard sketches"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(mergeBucketBoundaries...))
	sm.trialError, errs[4] = mt.Float64Histogram(metricTrialError,
		metric.WithDescription("Relative error of benchmark trials"), metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(errorBucketBoundaries...))
	sm.estimate, errs[5] = mt.Int64Gauge(metricEstimate,
		metric.WithDescription("Most recent distinct count estimate"), metric.WithUnit("{element}"))

	err := errors.Join(errs[:]...)
	if err != nil {
		return nil, fmt.Errorf("sketch metrics: %w", err)
	}

	return &sm, nil
}

// RecordRecords adds n scanned records.
func (sm *SketchMetrics) RecordRecords(ctx context.Context, n int64) {
	sm.recordsTotal.Add(ctx, n)
}

// RecordMerge records a merge of shards sketches.
func (sm *SketchMetrics) RecordMerge(ctx context.Context, shards int, duration time.Duration) {
	sm.mergedShards.Add(ctx, int64(shards))
	sm.mergeDuration.Record(ctx, duration.Seconds())
}

// RecordEstimate sets the estimate gauge.
func (sm *SketchMetrics) RecordEstimate(ctx context.Context, estimate uint64) {
	sm.estimate.Record(ctx, int64(min(estimate, math.MaxInt64))) //nolint:gosec // clamped above.
}

// RecordTrial records one benchmark trial over the given value range.
func (sm *SketchMetrics) RecordTrial(ctx context.Context, valueRange int64, relativeError float64, withinBound bool) {
	outcome := outcomeFail
	if withinBound {
		outcome = outcomePass
	}

	sm.trialsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64(attrRange, valueRange),
		attribute.String(attrOutcome, outcome),
	))
	sm.trialError.Record(ctx, relativeError, metric.WithAttributes(attribute.Int64(attrRange, valueRange)))
}
