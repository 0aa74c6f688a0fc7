// Package config loads and validates cardinality configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidPrecision = errors.New("sketch precision must be in [4, 30]")
	ErrInvalidSamples   = errors.New("bench samples must be positive")
	ErrInvalidRange     = errors.New("bench ranges must be positive")
	ErrInvalidShards    = errors.New("count shards must be positive")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// Default configuration values.
const (
	DefaultPrecision = 12
	DefaultSamples   = 1_000_000
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	minPrecision = 4
	maxPrecision = 30

	configName = "cardinality"
	envPrefix  = "CARDINALITY"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds all configuration for the cardinality commands.
type Config struct {
	Sketch        SketchConfig        `mapstructure:"sketch"`
	Bench         BenchConfig         `mapstructure:"bench"`
	Count         CountConfig         `mapstructure:"count"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// SketchConfig holds settings shared by every sketch.
type SketchConfig struct {
	Precision uint8 `mapstructure:"precision"`
}

// BenchConfig holds accuracy benchmark settings.
type BenchConfig struct {
	// Ranges overrides the default range list derived from Samples.
	Ranges  []int64 `mapstructure:"ranges"`
	Samples int64   `mapstructure:"samples"`
	// Seed seeds the value generator; zero picks a time-based seed.
	Seed uint64 `mapstructure:"seed"`
}

// CountConfig holds distinct line counting settings.
type CountConfig struct {
	Shards int `mapstructure:"shards"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig holds telemetry export settings.
type ObservabilityConfig struct {
	OTLPEndpoint    string `mapstructure:"otlp_endpoint"`
	OTLPHeaders     string `mapstructure:"otlp_headers"`
	Environment     string `mapstructure:"environment"`
	DiagnosticsAddr string `mapstructure:"diagnostics_addr"`
	OTLPInsecure    bool   `mapstructure:"otlp_insecure"`
}

// SlogLevel parses Level into an [slog.Level].
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(l.Level))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}

	return level, nil
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath searches for cardinality.yaml in the usual places and
// tolerates its absence; an explicit path must exist.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/cardinality")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := Validate(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("sketch.precision", DefaultPrecision)

	viperCfg.SetDefault("bench.samples", DefaultSamples)
	viperCfg.SetDefault("bench.seed", 0)
	viperCfg.SetDefault("bench.ranges", []int64{})

	viperCfg.SetDefault("count.shards", runtime.NumCPU())

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.environment", "")
	viperCfg.SetDefault("observability.diagnostics_addr", "")
}

// Validate checks the configuration, including values overridden by flags
// after loading.
func Validate(config *Config) error {
	if config.Sketch.Precision < minPrecision || config.Sketch.Precision > maxPrecision {
		return fmt.Errorf("%w: %d", ErrInvalidPrecision, config.Sketch.Precision)
	}

	if config.Bench.Samples <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSamples, config.Bench.Samples)
	}

	for _, r := range config.Bench.Ranges {
		if r <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidRange, r)
		}
	}

	if config.Count.Shards <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidShards, config.Count.Shards)
	}

	_, err := config.Logging.SlogLevel()
	if err != nil {
		return err
	}

	switch config.Logging.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, config.Logging.Format)
	}

	return nil
}
