// Package commands implements the cardinality CLI subcommands.
package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"

	"github.com/Sumatoshi-tech/cardinality/internal/observability"
	"github.com/Sumatoshi-tech/cardinality/internal/report"
	"github.com/Sumatoshi-tech/cardinality/pkg/config"
	"github.com/Sumatoshi-tech/cardinality/pkg/version"
)

const (
	envOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOTLPHeaders  = "OTEL_EXPORTER_OTLP_HEADERS"
)

// GlobalOptions holds the persistent root flags shared by all commands.
type GlobalOptions struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

// loadConfig reads the configuration file and environment.
func (g *GlobalOptions) loadConfig() (*config.Config, error) {
	return config.LoadConfig(g.ConfigPath)
}

// initObservability builds the telemetry providers for a command, logging
// to stderr.
func (g *GlobalOptions) initObservability(
	cfg *config.Config, mode observability.AppMode, stderr io.Writer,
) (observability.Providers, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return observability.Providers{}, err
	}

	switch {
	case g.Verbose:
		level = slog.LevelDebug
	case g.Quiet:
		level = slog.LevelError
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Get().Version
	obsCfg.Mode = mode
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Logging.Format == config.LogFormatJSON
	obsCfg.Environment = cfg.Observability.Environment
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Observability.OTLPInsecure
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Observability.OTLPHeaders)

	if obsCfg.OTLPEndpoint == "" {
		obsCfg.OTLPEndpoint = os.Getenv(envOTLPEndpoint)
	}

	if obsCfg.OTLPHeaders == nil {
		obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv(envOTLPHeaders))
	}

	return observability.InitWithWriter(obsCfg, stderr)
}

// shutdownObservability flushes telemetry, logging instead of failing.
func shutdownObservability(providers observability.Providers) {
	err := providers.Shutdown(context.Background())
	if err != nil {
		providers.Logger.Warn("observability shutdown failed", "error", err)
	}
}

// reportOptions resolves the output format and whether to colorize.
func reportOptions(format string, noColor bool) (report.Options, error) {
	f, err := report.ParseFormat(format)
	if err != nil {
		return report.Options{}, err
	}

	return report.Options{Format: f, Color: !noColor && !color.NoColor}, nil
}
