// Package distinct counts distinct newline-delimited records in streams.
//
// Records are spread over independent HyperLogLog shards, each owned by a
// single goroutine, and the shard sketches are merged once the input is
// exhausted. No sketch is ever shared between goroutines.
package distinct

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/cardinality/pkg/alg/hll"
)

const (
	// DefaultPrecision gives a 1.6% standard error with 4 KiB per shard.
	DefaultPrecision = 12

	// DefaultShards is the number of shard workers when none is configured.
	DefaultShards = 1

	// batchSize is the number of records handed to a shard at once.
	batchSize = 1024

	// maxRecordSize is the longest record the scanner accepts.
	maxRecordSize = 1 << 20

	initialBufferSize = 64 * 1024

	tracerName = "cardinality/distinct"
)

// ErrInvalidShards is returned when the shard count is not positive.
var ErrInvalidShards = errors.New("distinct: shards must be positive")

// Metrics receives counting telemetry. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// RecordRecords adds n scanned records.
	RecordRecords(ctx context.Context, n int64)

	// RecordMerge records the merge of shard sketches.
	RecordMerge(ctx context.Context, shards int, duration time.Duration)

	// RecordEstimate records a finished estimate.
	RecordEstimate(ctx context.Context, estimate uint64)
}

// Config configures a Counter.
type Config struct {
	// Precision is the HyperLogLog precision of every shard.
	Precision uint8

	// Shards is the number of independent shard workers.
	Shards int
}

// Option customizes a Counter.
type Option func(*Counter)

// WithLogger sets the logger for progress messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Counter) {
		c.logger = logger
	}
}

// WithTracer sets the tracer used for counting spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Counter) {
		c.tracer = tracer
	}
}

// WithMetrics sets the telemetry sink.
func WithMetrics(metrics Metrics) Option {
	return func(c *Counter) {
		c.metrics = metrics
	}
}

// Counter estimates the number of distinct records in one or more streams.
type Counter struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   Metrics
	shards    int
	precision uint8
}

// Result is the outcome of a counting run.
type Result struct {
	// Sketch is the merged sketch of all shards.
	Sketch *hll.Sketch `json:"-" yaml:"-"`

	// Estimate is the approximate number of distinct records.
	Estimate uint64 `json:"estimate" yaml:"estimate"`

	// Records is the total number of records scanned, duplicates included.
	Records int64 `json:"records" yaml:"records"`

	// RelativeError is the theoretical standard error of the estimate.
	RelativeError float64 `json:"relative_error" yaml:"relative_error"`

	// Shards is the number of shard sketches that were merged.
	Shards int `json:"shards" yaml:"shards"`

	// Precision is the HyperLogLog precision used.
	Precision uint8 `json:"precision" yaml:"precision"`
}

// New creates a Counter. The precision is validated by [hll.New].
func New(cfg Config, opts ...Option) (*Counter, error) {
	if cfg.Shards <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidShards, cfg.Shards)
	}

	_, err := hll.New(cfg.Precision)
	if err != nil {
		return nil, fmt.Errorf("distinct: %w", err)
	}

	c := &Counter{
		logger:    slog.New(slog.DiscardHandler),
		tracer:    nooptrace.NewTracerProvider().Tracer(tracerName),
		metrics:   nopMetrics{},
		shards:    cfg.Shards,
		precision: cfg.Precision,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// CountLines estimates the distinct lines of r, spreading batches of lines
// round-robin over the configured shards.
func (c *Counter) CountLines(ctx context.Context, r io.Reader) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "distinct.count_lines",
		trace.WithAttributes(attribute.Int("shards", c.shards), attribute.Int("precision", int(c.precision))))
	defer span.End()

	sketches, err := c.newSketches(c.shards)
	if err != nil {
		return Result{}, err
	}

	queues := make([]chan []string, c.shards)
	for i := range queues {
		queues[i] = make(chan []string, 1)
	}

	g, gctx := errgroup.WithContext(ctx)

	var records int64

	g.Go(func() error {
		defer closeAll(queues)

		n, scanErr := c.scan(gctx, r, queues)
		records = n

		return scanErr
	})

	for i, sk := range sketches {
		queue := queues[i]

		g.Go(func() error {
			return drain(gctx, queue, sk)
		})
	}

	err = g.Wait()
	if err != nil {
		span.RecordError(err)

		return Result{}, err
	}

	return c.finish(ctx, sketches, records)
}

// CountReaders estimates the distinct lines across all readers, using one
// shard per reader regardless of the configured shard count.
func (c *Counter) CountReaders(ctx context.Context, readers ...io.Reader) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "distinct.count_readers",
		trace.WithAttributes(attribute.Int("readers", len(readers))))
	defer span.End()

	if len(readers) == 0 {
		return Result{}, fmt.Errorf("%w: no readers", ErrInvalidShards)
	}

	sketches, err := c.newSketches(len(readers))
	if err != nil {
		return Result{}, err
	}

	counts := make([]int64, len(readers))

	g, gctx := errgroup.WithContext(ctx)

	for i, rd := range readers {
		g.Go(func() error {
			n, scanErr := c.scanInto(gctx, rd, sketches[i])
			counts[i] = n

			if scanErr != nil {
				return fmt.Errorf("reader %d: %w", i, scanErr)
			}

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		span.RecordError(err)

		return Result{}, err
	}

	var records int64
	for _, n := range counts {
		records += n
	}

	return c.finish(ctx, sketches, records)
}

func (c *Counter) newSketches(n int) ([]*hll.Sketch, error) {
	sketches := make([]*hll.Sketch, n)

	for i := range sketches {
		sk, err := hll.New(c.precision)
		if err != nil {
			return nil, fmt.Errorf("distinct: %w", err)
		}

		sketches[i] = sk
	}

	return sketches, nil
}

// scan reads r line by line and hands batches to the queues in turn.
func (c *Counter) scan(ctx context.Context, r io.Reader, queues []chan []string) (int64, error) {
	scanner := newScanner(r)

	var (
		records int64
		next    int
	)

	batch := make([]string, 0, batchSize)

	send := func() error {
		select {
		case queues[next] <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}

		c.metrics.RecordRecords(ctx, int64(len(batch)))
		next = (next + 1) % len(queues)
		batch = make([]string, 0, batchSize)

		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		if !scanner.Scan() {
			break
		}

		batch = append(batch, scanner.Text())
		records++

		if len(batch) == batchSize {
			err := send()
			if err != nil {
				return records, err
			}
		}
	}

	err := scanner.Err()
	if err != nil {
		return records, fmt.Errorf("scan input: %w", err)
	}

	if len(batch) > 0 {
		err = send()
		if err != nil {
			return records, err
		}
	}

	c.logger.DebugContext(ctx, "input scanned", "records", records)

	return records, nil
}

// finish merges the shard sketches into one result.
func (c *Counter) finish(ctx context.Context, sketches []*hll.Sketch, records int64) (Result, error) {
	start := time.Now()
	merged := sketches[0].Clone()

	for _, sk := range sketches[1:] {
		err := merged.Merge(sk)
		if err != nil {
			return Result{}, fmt.Errorf("merge shards: %w", err)
		}
	}

	c.metrics.RecordMerge(ctx, len(sketches), time.Since(start))

	estimate := merged.Count()
	c.metrics.RecordEstimate(ctx, estimate)

	c.logger.InfoContext(ctx, "distinct count finished",
		"estimate", estimate, "records", records, "shards", len(sketches))

	return Result{
		Sketch:        merged,
		Estimate:      estimate,
		Records:       records,
		RelativeError: merged.RelativeError(),
		Shards:        len(sketches),
		Precision:     c.precision,
	}, nil
}

// drain feeds every batch of a queue into the shard sketch.
func drain(ctx context.Context, queue <-chan []string, sk *hll.Sketch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-queue:
			if !ok {
				return nil
			}

			for _, record := range batch {
				sk.AddString(record)
			}
		}
	}
}

// scanInto adds every line of r to sk, reporting records per batch.
func (c *Counter) scanInto(ctx context.Context, r io.Reader, sk *hll.Sketch) (int64, error) {
	scanner := newScanner(r)

	var records, pending int64

	for scanner.Scan() {
		if records == 0 {
			if err := ctx.Err(); err != nil {
				return records, err
			}
		}

		sk.Add(scanner.Bytes())
		records++
		pending++

		if pending == batchSize {
			c.metrics.RecordRecords(ctx, pending)
			pending = 0

			if err := ctx.Err(); err != nil {
				return records, err
			}
		}
	}

	if pending > 0 {
		c.metrics.RecordRecords(ctx, pending)
	}

	err := scanner.Err()
	if err != nil {
		return records, fmt.Errorf("scan input: %w", err)
	}

	return records, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufferSize), maxRecordSize)

	return scanner
}

func closeAll(queues []chan []string) {
	for _, q := range queues {
		close(q)
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordRecords(context.Context, int64)           {}
func (nopMetrics) RecordMerge(context.Context, int, time.Duration) {}
func (nopMetrics) RecordEstimate(context.Context, uint64)          {}
