// Package report renders benchmark summaries and count results.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/cardinality/internal/bench"
	"github.com/Sumatoshi-tech/cardinality/pkg/distinct"
)

// Format selects the output encoding.
type Format string

// Supported formats.
const (
	FormatText  Format = "text"
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

const (
	yamlIndent  = 2
	percentage  = 100
	labelPassed = "pass"
	labelFailed = "FAIL"
)

// ErrUnknownFormat is returned for an unsupported format name.
var ErrUnknownFormat = errors.New("report: unknown format")

// Formats lists the accepted format names.
func Formats() []string {
	return []string{string(FormatText), string(FormatPlain), string(FormatJSON), string(FormatYAML)}
}

// ParseFormat resolves a case-insensitive format name.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))

	switch f {
	case FormatText, FormatPlain, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q (want one of %s)", ErrUnknownFormat, name, strings.Join(Formats(), ", "))
	}
}

// Options controls rendering.
type Options struct {
	Format Format
	// Color enables ANSI colors in the text format.
	Color bool
}

// WriteBench renders a benchmark summary.
func WriteBench(w io.Writer, summary bench.Summary, opts Options) error {
	switch opts.Format {
	case FormatText:
		return writeString(w, benchTable(summary, newPalette(opts.Color)))
	case FormatPlain:
		return writeString(w, benchPlain(summary))
	case FormatJSON:
		return writeJSON(w, summary)
	case FormatYAML:
		return writeYAML(w, summary)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
}

// WriteCount renders a distinct count result.
func WriteCount(w io.Writer, result distinct.Result, opts Options) error {
	switch opts.Format {
	case FormatText:
		return writeString(w, countTable(result, newPalette(opts.Color)))
	case FormatPlain:
		return writeString(w, fmt.Sprintf("%d\n", result.Estimate))
	case FormatJSON:
		return writeJSON(w, result)
	case FormatYAML:
		return writeYAML(w, result)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
}

type palette struct {
	pass   *color.Color
	fail   *color.Color
	header *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		pass:   color.New(color.FgGreen),
		fail:   color.New(color.FgRed, color.Bold),
		header: color.New(color.FgCyan, color.Bold),
	}

	for _, c := range []*color.Color{p.pass, p.fail, p.header} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return p
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Format.Header = text.FormatDefault

	return tbl
}

func benchTable(summary bench.Summary, p palette) string {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"Samples", "Range", "Exact", "Estimate", "Rel. error", "3σ", "Correction"})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	for _, trial := range summary.Trials {
		verdict := p.pass.Sprint(labelPassed)
		if !trial.WithinBound {
			verdict = p.fail.Sprint(labelFailed)
		}

		tbl.AppendRow(table.Row{
			humanize.Comma(trial.Samples),
			humanize.Comma(trial.Range),
			humanize.Comma(int64(trial.Exact)),    //nolint:gosec // bounded by samples.
			humanize.Comma(int64(trial.Estimate)), //nolint:gosec // bounded by 2^32.
			fmt.Sprintf("%.5f", trial.RelativeError),
			verdict,
			trial.CorrectionName,
		})
	}

	var sb strings.Builder

	sb.WriteString(p.header.Sprintf("HyperLogLog accuracy, precision %d (%s of registers), seed %d",
		summary.Precision, humanize.IBytes(uint64(1)<<summary.Precision), summary.Seed))
	sb.WriteString("\n")
	sb.WriteString(tbl.Render())
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Trials within 3σ: %d/%d\n", summary.Passed, len(summary.Trials))
	fmt.Fprintf(&sb, "Error spread: median %.5f, p95 %.5f, max %.5f, stddev %.5f\n",
		summary.ErrorSpread.Median, summary.ErrorSpread.P95, summary.ErrorSpread.Max, summary.ErrorSpread.StdDev)
	fmt.Fprintf(&sb, "Average error: %.5f\n", summary.AverageError)
	fmt.Fprintf(&sb, "Paper estimated error: %.5f\n", summary.TheoreticalError)

	return sb.String()
}

// benchPlain prints one line per trial followed by the error summary.
func benchPlain(summary bench.Summary) string {
	var sb strings.Builder

	for _, trial := range summary.Trials {
		fmt.Fprintf(&sb, "%d numbers in range [1 .. %d], %d uniq, %d result, %.5f relative error\n",
			trial.Samples, trial.Range, trial.Exact, trial.Estimate, trial.RelativeError)
	}

	fmt.Fprintf(&sb, "Average error: %.5f\n", summary.AverageError)
	fmt.Fprintf(&sb, "Paper estimated error: %.5f\n", summary.TheoreticalError)

	return sb.String()
}

func countTable(result distinct.Result, p palette) string {
	tbl := newTable()
	tbl.AppendHeader(table.Row{p.header.Sprint("Metric"), p.header.Sprint("Value")})
	tbl.AppendRows([]table.Row{
		{"Distinct (estimate)", humanize.Comma(int64(result.Estimate))}, //nolint:gosec // bounded by 2^32.
		{"Standard error", fmt.Sprintf("±%.2f%%", result.RelativeError*percentage)},
		{"Records", humanize.Comma(result.Records)},
		{"Shards", result.Shards},
		{"Precision", fmt.Sprintf("%d (%s per shard)", result.Precision, humanize.IBytes(uint64(1)<<result.Precision))},
	})

	return tbl.Render() + "\n"
}

func writeString(w io.Writer, s string) error {
	_, err := io.WriteString(w, s)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}

	return nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(yamlIndent)

	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("encode yaml report: %w", err)
	}

	err = enc.Close()
	if err != nil {
		return fmt.Errorf("encode yaml report: %w", err)
	}

	return nil
}
