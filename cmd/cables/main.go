// Package main is the entry point for the cables command.
//
// cables wires a bus from configuration, optionally runs a Lua script
// against it, and feeds it events from flags, stdin and the filesystem.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flagpoonage/cables"
	"github.com/flagpoonage/cables/internal/config"
	"github.com/flagpoonage/cables/internal/fswatch"
	"github.com/flagpoonage/cables/internal/journal"
	"github.com/flagpoonage/cables/internal/script"
	"github.com/flagpoonage/cables/internal/telemetry"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// drainTimeout bounds the final flush on exit.
const drainTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// options holds parsed command-line flags.
type options struct {
	configPath  string
	scriptPath  string
	emits       emitList
	stdin       bool
	watch       stringList
	journal     string
	journalOut  string
	timeout     time.Duration
	showVersion bool

	// Overrides applied on top of the loaded configuration.
	mode         string
	separator    string
	logLevel     string
	logFormat    string
	otelEndpoint string
	set          map[string]bool
}

// emission is a parsed -emit argument or stdin line.
type emission struct {
	name    string
	payload any
}

// emitList collects repeated -emit name=payload flags.
type emitList []emission

func (l *emitList) String() string {
	names := make([]string, len(*l))
	for i, e := range *l {
		names[i] = e.name
	}
	return strings.Join(names, ",")
}

func (l *emitList) Set(v string) error {
	name, payload, _ := strings.Cut(v, "=")
	if name == "" {
		return errors.New("expected name=payload")
	}
	*l = append(*l, emission{name: name, payload: script.ParsePayload(payload)})
	return nil
}

// stringList collects a repeated string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("cables", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file (.toml, .yaml)")
	fs.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	fs.StringVar(&opts.scriptPath, "script", "", "Lua script to run against the bus")
	fs.StringVar(&opts.scriptPath, "s", "", "Lua script to run against the bus (shorthand)")
	fs.Var(&opts.emits, "emit", "Emit an event, name=payload (repeatable, payload may be JSON)")
	fs.BoolVar(&opts.stdin, "stdin", false, "Read \"name payload\" lines from stdin and emit them")
	fs.Var(&opts.watch, "watch", "Emit fs events for changes under a directory (repeatable)")
	fs.StringVar(&opts.journal, "journal", "", "Comma-separated topics to journal (empty entry is the default topic)")
	fs.StringVar(&opts.journalOut, "journal-out", "", "Journal file (default stdout)")
	fs.DurationVar(&opts.timeout, "timeout", 0, "Stop watching after this long (0 waits for a signal)")
	fs.StringVar(&opts.mode, "mode", "", "Dispatch mode (immediate, deferred)")
	fs.StringVar(&opts.separator, "sep", "", "Topic/event separator")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format (text, json)")
	fs.StringVar(&opts.otelEndpoint, "otel-endpoint", "", "OTLP/HTTP trace collector URL")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")
	fs.BoolVar(&opts.showVersion, "v", false, "Show version information (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "cables - topic/event bus runner\n\n")
		fmt.Fprintf(stderr, "Usage: cables [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  cables -script hooks.lua -emit 'ui.click={\"x\":1}'\n")
		fmt.Fprintf(stderr, "  cables -journal fs -watch ./src\n")
		fmt.Fprintf(stderr, "  printf 'job.done 1\\n' | cables -stdin -journal job\n")
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// apply overlays flags the user set on cfg.
func (o options) apply(cfg *config.Config) {
	if o.set["mode"] {
		cfg.Dispatch = o.mode
	}
	if o.set["sep"] {
		cfg.Separator = o.separator
	}
	if o.set["log-level"] {
		cfg.LogLevel = o.logLevel
	}
	if o.set["log-format"] {
		cfg.LogFormat = o.logFormat
	}
	if o.set["otel-endpoint"] {
		cfg.OTelEndpoint = o.otelEndpoint
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "cables %s\n", version)
		fmt.Fprintf(stdout, "Commit: %s\n", commit)
		fmt.Fprintf(stdout, "Built: %s\n", date)
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger := cfg.Logger(stderr)

	shutdown, err := telemetry.Setup(ctx, telemetry.Settings{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	r := &runner{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
		bus:    cables.New(cfg.Options(logger)...),
		stdout: stdout,
	}

	code := 0
	if err := r.start(ctx, stdin); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		code = 1
	}
	if err := r.stop(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		code = 1
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := shutdown(drainCtx); err != nil {
		logger.Warn("trace shutdown failed", "err", err)
	}
	return code
}

// runner owns the components wired around the bus for one invocation.
type runner struct {
	opts   options
	cfg    config.Config
	logger *slog.Logger
	bus    *cables.Bus
	stdout io.Writer

	journal    *journal.Journal
	journalOut io.Closer
	engine     *script.Engine
	watcher    *fswatch.Watcher
}

func (r *runner) start(ctx context.Context, stdin io.Reader) error {
	if r.opts.set["journal"] {
		if err := r.startJournal(); err != nil {
			return err
		}
	}

	if r.opts.scriptPath != "" {
		r.engine = script.New(r.bus, script.WithLogger(r.logger), script.WithOutput(r.stdout))
		if err := r.engine.DoFile(ctx, r.opts.scriptPath); err != nil {
			return fmt.Errorf("run script %s: %w", r.opts.scriptPath, err)
		}
	}

	for _, em := range r.opts.emits {
		if err := r.emit(ctx, em); err != nil {
			return err
		}
	}

	if r.opts.stdin {
		if err := r.readStdin(ctx, stdin); err != nil {
			return err
		}
	}

	if len(r.opts.watch) > 0 {
		return r.watch(ctx)
	}
	return nil
}

func (r *runner) startJournal() error {
	w := r.stdout
	if r.opts.journalOut != "" {
		f, err := os.OpenFile(r.opts.journalOut, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		r.journalOut = f
		w = f
	}

	r.journal = journal.New(w, journal.WithSource("cli"), journal.WithLogger(r.logger))
	for _, topic := range strings.Split(r.opts.journal, ",") {
		topic = strings.TrimSpace(topic)
		t := r.bus.Default()
		if topic != "" {
			t = r.bus.Topic(topic)
		}
		if _, err := r.journal.Attach(t); err != nil {
			return err
		}
	}
	return nil
}

// emit routes through the script engine when one is running so immediate
// mode Lua handlers run on the engine goroutine.
func (r *runner) emit(ctx context.Context, em emission) error {
	if r.engine != nil {
		return r.engine.Emit(ctx, em.name, em.payload)
	}
	r.bus.Out(ctx, em.name, em.payload)
	return nil
}

// readStdin emits one event per "name payload" line. Blank lines and lines
// starting with # are skipped.
func (r *runner) readStdin(ctx context.Context, stdin io.Reader) error {
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, payload, _ := strings.Cut(line, " ")
		if err := r.emit(ctx, emission{name: name, payload: script.ParsePayload(strings.TrimSpace(payload))}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func (r *runner) watch(ctx context.Context) error {
	w, err := fswatch.New(r.bus,
		fswatch.WithSeparator(r.cfg.Separator),
		fswatch.WithIgnoreHidden(true),
		fswatch.WithLogger(r.logger),
	)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	r.watcher = w

	for _, dir := range r.opts.watch {
		if err := w.WatchRecursive(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	r.logger.Info("watching", "paths", w.WatchedPaths())

	if r.opts.timeout > 0 {
		timer := time.NewTimer(r.opts.timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		return nil
	}
	<-ctx.Done()
	return nil
}

// stop shuts components down in dependency order: sources first, then
// handlers, then the bus.
func (r *runner) stop() error {
	var errs []error

	if r.watcher != nil {
		errs = append(errs, r.watcher.Close())
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	errs = append(errs, r.bus.Flush(ctx))

	if r.engine != nil {
		errs = append(errs, r.engine.Close())
	}
	if r.journal != nil {
		r.journal.Detach()
	}
	if r.journalOut != nil {
		errs = append(errs, r.journalOut.Close())
	}

	st := r.bus.Stats()
	r.logger.Debug("bus stats",
		"emitted", st.Emitted,
		"invoked", st.Invoked,
		"failed", st.Failed,
		"panicked", st.Panicked,
		"dropped", st.Dropped,
	)

	errs = append(errs, r.bus.Close(ctx))
	return errors.Join(errs...)
}
