// Package config loads cables runtime configuration.
//
// Configuration is assembled from, in increasing precedence:
//
//  1. Built-in defaults (Default)
//  2. A TOML or YAML file, chosen by extension
//  3. Environment variables prefixed with CABLES_
//
// Command-line flags are applied last by the caller.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/flagpoonage/cables"
	"github.com/flagpoonage/cables/internal/dispatch"
	"github.com/flagpoonage/cables/internal/name"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CABLES_"

// Config is the runtime configuration.
type Config struct {
	// Separator splits topic from event in event names.
	Separator string `toml:"separator" yaml:"separator" env:"SEPARATOR"`

	// Dispatch is "immediate" or "deferred".
	Dispatch string `toml:"dispatch" yaml:"dispatch" env:"DISPATCH"`

	// Workers is the deferred-mode worker count.
	Workers int `toml:"workers" yaml:"workers" env:"WORKERS"`

	// QueueSize is the deferred-mode queue capacity.
	QueueSize int `toml:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE"`

	// HandlerTimeout bounds each handler call. Zero disables the bound.
	HandlerTimeout Duration `toml:"handler_timeout" yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`

	// StrictNames rejects malformed event names on registration.
	StrictNames bool `toml:"strict_names" yaml:"strict_names" env:"STRICT_NAMES"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" yaml:"log_level" env:"LOG_LEVEL"`

	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format" yaml:"log_format" env:"LOG_FORMAT"`

	// OTelEndpoint is the OTLP/HTTP collector endpoint. Empty disables
	// trace export.
	OTelEndpoint string `toml:"otel_endpoint" yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`

	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `toml:"service_name" yaml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Separator:   name.DefaultSeparator,
		Dispatch:    cables.ModeImmediate.String(),
		Workers:     dispatch.DefaultWorkers,
		QueueSize:   dispatch.DefaultQueueSize,
		LogLevel:    "info",
		LogFormat:   "text",
		ServiceName: "cables",
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := cables.ParseMode(c.Dispatch); err != nil {
		return &ValidationError{Field: "dispatch", Err: err}
	}
	if c.Workers < 0 {
		return &ValidationError{Field: "workers", Err: fmt.Errorf("must not be negative, got %d", c.Workers)}
	}
	if c.QueueSize < 0 {
		return &ValidationError{Field: "queue_size", Err: fmt.Errorf("must not be negative, got %d", c.QueueSize)}
	}
	if c.HandlerTimeout < 0 {
		return &ValidationError{Field: "handler_timeout", Err: fmt.Errorf("must not be negative, got %s", c.HandlerTimeout)}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return &ValidationError{Field: "log_level", Err: err}
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return &ValidationError{Field: "log_format", Err: fmt.Errorf("unknown format %q", c.LogFormat)}
	}
	return nil
}

// Mode returns the parsed dispatch mode. Call Validate first.
func (c Config) Mode() cables.Mode {
	m, _ := cables.ParseMode(c.Dispatch)
	return m
}

// Options converts the configuration to bus options.
func (c Config) Options(logger *slog.Logger) []cables.Option {
	opts := []cables.Option{
		cables.WithSeparator(c.Separator),
		cables.WithMode(c.Mode()),
		cables.WithWorkers(c.Workers),
		cables.WithQueueSize(c.QueueSize),
		cables.WithHandlerTimeout(time.Duration(c.HandlerTimeout)),
		cables.WithLogger(logger),
	}
	if c.StrictNames {
		opts = append(opts, cables.WithStrictNames())
	}
	return opts
}

// Logger builds a logger writing to w in the configured format and level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}

// Duration is a time.Duration that decodes from strings such as "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}
