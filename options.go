package cables

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flagpoonage/cables/internal/dispatch"
	"github.com/flagpoonage/cables/internal/name"
)

// instrumentationName identifies this package to the tracer provider.
const instrumentationName = "github.com/flagpoonage/cables"

// Mode selects how Out invokes handlers.
type Mode int

const (
	// ModeImmediate invokes every handler before Out returns.
	ModeImmediate Mode = iota

	// ModeDeferred schedules invocations on a worker pool; Out returns
	// before any handler runs.
	ModeDeferred
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeImmediate:
		return "immediate"
	case ModeDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a mode name as produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "immediate", "sync":
		return ModeImmediate, nil
	case "deferred", "async":
		return ModeDeferred, nil
	default:
		return ModeImmediate, fmt.Errorf("unknown dispatch mode %q", s)
	}
}

// FailureHandler receives every handler failure. err is a *HandlerError or
// a *PanicError.
type FailureHandler func(ctx context.Context, err error)

// Option configures a Bus, Topic or Registry.
type Option func(*config)

// config contains configuration shared by all components.
type config struct {
	// separator splits topic from event. Only used by Bus.
	separator string

	mode           Mode
	workers        int
	queueSize      int
	handlerTimeout time.Duration

	// strict rejects malformed names in On.
	strict bool

	logger    *slog.Logger
	tracer    trace.Tracer
	onFailure FailureHandler
}

func defaultConfig() config {
	return config{
		separator: name.DefaultSeparator,
		mode:      ModeImmediate,
		workers:   dispatch.DefaultWorkers,
		queueSize: dispatch.DefaultQueueSize,
	}
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(instrumentationName)
	}
	if cfg.onFailure == nil {
		cfg.onFailure = logFailure(cfg.logger)
	}
	return cfg
}

// WithSeparator sets the string that splits topic from event.
// An empty separator selects the default ".".
func WithSeparator(sep string) Option {
	return func(c *config) {
		c.separator = name.Separator(sep)
	}
}

// WithMode sets the dispatch mode.
func WithMode(m Mode) Option {
	return func(c *config) {
		c.mode = m
	}
}

// WithWorkers sets the number of deferred-mode workers.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueSize sets the deferred-mode queue capacity. Invocations that find
// the queue full run on their own goroutine.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithHandlerTimeout bounds the context passed to each callback.
// Zero means no timeout.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.handlerTimeout = d
		}
	}
}

// WithStrictNames makes On reject empty names and names that contain the
// separator more than once.
func WithStrictNames() Option {
	return func(c *config) {
		c.strict = true
	}
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer sets the tracer used for Out spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *config) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithFailureHandler sets the function called for every handler failure.
func WithFailureHandler(h FailureHandler) Option {
	return func(c *config) {
		if h != nil {
			c.onFailure = h
		}
	}
}

func logFailure(logger *slog.Logger) FailureHandler {
	return func(ctx context.Context, err error) {
		switch e := err.(type) {
		case *PanicError:
			logger.WarnContext(ctx, "handler panicked",
				"topic", e.Topic,
				"event", e.Event,
				"handler", e.HandlerID,
				"panic", e.Value,
				"stack", e.Stack,
			)
		case *HandlerError:
			logger.WarnContext(ctx, "handler failed",
				"topic", e.Topic,
				"event", e.Event,
				"handler", e.HandlerID,
				"err", e.Err,
			)
		default:
			logger.WarnContext(ctx, "handler failed", "err", err)
		}
	}
}
