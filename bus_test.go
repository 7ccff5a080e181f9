package cables

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestBus_Scenario(t *testing.T) {
	bus := New()
	rec := &recorder{}
	ctx := struct{ ID int }{7}

	id, err := bus.On("t1.click", rec.cb("fn"), ctx, "")
	if err != nil {
		t.Fatalf("On() failed: %v", err)
	}
	if id == "" {
		t.Fatal("On() returned an empty id")
	}

	bus.Out(context.Background(), "t1.click", 42)
	bus.Out(context.Background(), "t1.other", 42)

	want := []call{{Tag: "fn", Recv: ctx, Payload: 42}}
	if diff := cmp.Diff(want, rec.get()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestBus_Routing(t *testing.T) {
	tests := []struct {
		name  string
		on    string
		out   string
		fired bool
	}{
		{"default topic", "click", "click", true},
		{"named topic", "ui.click", "ui.click", true},
		{"named does not reach default", "click", "ui.click", false},
		{"default does not reach named", "ui.click", "click", false},
		{"other topic", "ui.click", "doc.click", false},
		{"other event", "ui.click", "ui.hover", false},
		{"split on first separator", "ui.button.down", "ui.button.down", true},
		{"leading separator is not default", ".click", "click", false},
		{"leading separator", ".click", ".click", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := New()
			rec := &recorder{}
			if _, err := bus.On(tt.on, rec.cb("h"), nil, ""); err != nil {
				t.Fatalf("On() failed: %v", err)
			}

			bus.Out(context.Background(), tt.out, nil)

			if got := len(rec.get()) == 1; got != tt.fired {
				t.Errorf("fired = %v, want %v", got, tt.fired)
			}
		})
	}
}

func TestBus_SplitOnFirstSeparator(t *testing.T) {
	bus := New()
	bus.On("ui.button.down", Func(func(any) {}), nil, "")

	topic, ok := bus.LookupTopic("ui")
	if !ok {
		t.Fatal("topic ui was not created")
	}
	if diff := cmp.Diff([]string{"button.down"}, topic.Events()); diff != "" {
		t.Errorf("Events() mismatch (-want +got):\n%s", diff)
	}
}

func TestBus_CustomSeparator(t *testing.T) {
	bus := New(WithSeparator("::"))
	rec := &recorder{}

	bus.On("ui::click", rec.cb("h"), nil, "")
	bus.Out(context.Background(), "ui.click", nil)
	bus.Out(context.Background(), "ui::click", nil)

	if n := len(rec.get()); n != 1 {
		t.Errorf("got %d calls, want 1", n)
	}
	if diff := cmp.Diff([]string{"ui"}, bus.Topics()); diff != "" {
		t.Errorf("Topics() mismatch (-want +got):\n%s", diff)
	}
}

func TestBus_EmptySeparatorUsesDefault(t *testing.T) {
	if sep := New(WithSeparator("")).Separator(); sep != "." {
		t.Errorf("Separator() = %q, want .", sep)
	}
}

func TestBus_MultipleHandlers(t *testing.T) {
	bus := New()
	rec := &recorder{}

	bus.On("ui.click", rec.cb("a"), nil, "")
	bus.On("ui.click", rec.cb("b"), nil, "")
	bus.Out(context.Background(), "ui.click", nil)

	if diff := cmp.Diff([]string{"a", "b"}, rec.tags()); diff != "" {
		t.Errorf("invocation mismatch (-want +got):\n%s", diff)
	}
}

func TestBus_Off(t *testing.T) {
	bus := New()
	rec := &recorder{}

	id, _ := bus.On("ui.click", rec.cb("h"), nil, "")
	if !bus.Off("ui.click", id) {
		t.Error("Off() reported no removal")
	}
	bus.Out(context.Background(), "ui.click", nil)

	if n := len(rec.get()); n != 0 {
		t.Errorf("removed handler was invoked %d times", n)
	}
}

func TestBus_UnknownNamesHaveNoEffect(t *testing.T) {
	bus := New()

	bus.Off("ghost.click", "id")
	bus.Off("click", "id")
	bus.Out(context.Background(), "ghost.click", 1)
	bus.Out(context.Background(), "click", 1)

	if topics := bus.Topics(); len(topics) != 0 {
		t.Errorf("Topics() = %v, want none", topics)
	}
	if events := bus.Default().Events(); len(events) != 0 {
		t.Errorf("default Events() = %v, want none", events)
	}
}

func TestBus_EmptyName(t *testing.T) {
	bus := New()

	id, err := bus.On("", Func(func(any) {}), nil, "")
	if err != nil || id != "" {
		t.Errorf("On(\"\") = (%q, %v), want (\"\", nil)", id, err)
	}
	if bus.Off("", "x") {
		t.Error("Off(\"\") reported removal")
	}
	bus.Out(context.Background(), "", nil)

	if s := bus.Stats(); s.Handlers != 0 || s.Emitted != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestBus_TrailingSeparator(t *testing.T) {
	bus := New()
	rec := &recorder{}

	id, err := bus.On("ui.", rec.cb("h"), nil, "")
	if err != nil {
		t.Fatalf("On(\"ui.\") error = %v", err)
	}
	if id != "handler_1" {
		t.Errorf("id = %q, want handler_1", id)
	}
	if diff := cmp.Diff([]string{""}, bus.Topic("ui").Events()); diff != "" {
		t.Errorf("Events() mismatch (-want +got):\n%s", diff)
	}

	bus.Out(context.Background(), "ui.", 1)
	bus.Out(context.Background(), "ui.click", 2)
	if diff := cmp.Diff([]call{{Tag: "h", Payload: 1}}, rec.get()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	if !bus.Off("ui.", id) {
		t.Error("Off(\"ui.\") = false, want true")
	}
	bus.Out(context.Background(), "ui.", 3)
	if n := len(rec.get()); n != 1 {
		t.Errorf("handler ran %d times after Off, want 1", n)
	}
}

func TestBus_StrictNames(t *testing.T) {
	bus := New(WithStrictNames())
	noop := Func(func(any) {})

	tests := []struct {
		name    string
		event   string
		wantErr error
	}{
		{"plain", "click", nil},
		{"scoped", "ui.click", nil},
		{"empty", "", ErrMalformedEventName},
		{"two separators", "ui.button.down", ErrMalformedEventName},
		{"trailing separator", "ui.", ErrMalformedEventName},
		{"leading separator", ".click", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bus.On(tt.event, noop, nil, "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("On(%q) error = %v, want %v", tt.event, err, tt.wantErr)
			}
		})
	}
}

func TestBus_InvalidCallback(t *testing.T) {
	bus := New()

	if _, err := bus.On("ui.click", nil, nil, ""); !errors.Is(err, ErrInvalidCallback) {
		t.Errorf("On() error = %v, want ErrInvalidCallback", err)
	}
	if topics := bus.Topics(); len(topics) != 0 {
		t.Errorf("Topics() = %v, want none", topics)
	}
}

func TestBus_TopicSubscribe(t *testing.T) {
	bus := New()
	rec := &recorder{}

	bus.Topic("ui").Subscribe(rec.cb("sub"), nil, "")
	bus.Out(context.Background(), "ui.click", 1)
	bus.Out(context.Background(), "click", 2)

	want := []call{{Tag: "sub", Payload: Emission{Topic: "ui", Event: "click", Payload: 1}}}
	if diff := cmp.Diff(want, rec.get()); diff != "" {
		t.Errorf("subscriber calls mismatch (-want +got):\n%s", diff)
	}
}

func TestBus_Deferred(t *testing.T) {
	bus := New(WithMode(ModeDeferred), WithWorkers(4))
	defer bus.Close(context.Background())

	if bus.Mode() != ModeDeferred {
		t.Fatalf("Mode() = %v, want deferred", bus.Mode())
	}

	release := make(chan struct{})
	var count atomic.Int32
	bus.On("ui.click", CallbackFunc(func(ctx context.Context, recv, payload any) error {
		<-release
		count.Add(1)
		return nil
	}), nil, "")

	for i := 0; i < 10; i++ {
		bus.Out(context.Background(), "ui.click", i)
	}

	// Out returned while every handler is still blocked.
	if n := count.Load(); n != 0 {
		t.Errorf("%d handlers ran before release", n)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if n := count.Load(); n != 10 {
		t.Errorf("count = %d, want 10", n)
	}
}

func TestBus_Deferred_CancelledEmitterStillDelivers(t *testing.T) {
	bus := New(WithMode(ModeDeferred))
	defer bus.Close(context.Background())

	var got atomic.Bool
	bus.On("click", CallbackFunc(func(ctx context.Context, recv, payload any) error {
		if ctx.Err() == nil {
			got.Store(true)
		}
		return nil
	}), nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Out(ctx, "click", nil)

	if err := bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if !got.Load() {
		t.Error("handler did not run with a live context")
	}
}

func TestBus_Deferred_IsolatesFailures(t *testing.T) {
	var failures atomic.Int32
	bus := New(
		WithMode(ModeDeferred),
		WithFailureHandler(func(ctx context.Context, err error) { failures.Add(1) }),
	)
	defer bus.Close(context.Background())

	var ok atomic.Bool
	bus.On("click", CallbackFunc(func(ctx context.Context, recv, payload any) error {
		panic("boom")
	}), nil, "")
	bus.On("click", CallbackFunc(func(ctx context.Context, recv, payload any) error {
		ok.Store(true)
		return nil
	}), nil, "")

	bus.Out(context.Background(), "click", nil)
	bus.Flush(context.Background())

	if !ok.Load() {
		t.Error("healthy handler did not run")
	}
	if n := failures.Load(); n != 1 {
		t.Errorf("failures = %d, want 1", n)
	}
}

func TestBus_Deferred_OffDoesNotRetract(t *testing.T) {
	bus := New(WithMode(ModeDeferred), WithWorkers(1))
	defer bus.Close(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	bus.On("ui.click", CallbackFunc(func(ctx context.Context, recv, payload any) error {
		close(started)
		<-release
		return nil
	}), nil, "blocker")

	rec := &recorder{}
	id, _ := bus.On("ui.click", rec.cb("late"), nil, "")

	bus.Out(context.Background(), "ui.click", 7)
	<-started

	// The only worker is busy, so the second invocation is still queued.
	if !bus.Off("ui.click", id) {
		t.Fatal("Off() = false, want true")
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if diff := cmp.Diff([]call{{Tag: "late", Payload: 7}}, rec.get()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	bus.Off("ui.click", "blocker")
	bus.Out(context.Background(), "ui.click", 8)
	if err := bus.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if n := len(rec.get()); n != 1 {
		t.Errorf("removed handler ran on a later Out: %d calls", n)
	}
}

func TestBus_Deferred_FlushFromHandlerWaitsForContext(t *testing.T) {
	bus := New(WithMode(ModeDeferred))
	defer bus.Close(context.Background())

	got := make(chan error, 1)
	bus.On("job.run", CallbackFunc(func(ctx context.Context, recv, payload any) error {
		fctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		got <- bus.Flush(fctx)
		return nil
	}), nil, "")

	bus.Out(context.Background(), "job.run", nil)

	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Flush() from handler = %v, want DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Flush() from handler did not return")
	}
}

type requestKey struct{}

func TestBus_FailureHandlerReceivesEmitterContext(t *testing.T) {
	for _, mode := range []Mode{ModeImmediate, ModeDeferred} {
		t.Run(mode.String(), func(t *testing.T) {
			var (
				mu  sync.Mutex
				got any
			)
			bus := New(WithMode(mode), WithFailureHandler(func(ctx context.Context, err error) {
				mu.Lock()
				defer mu.Unlock()
				got = ctx.Value(requestKey{})
			}))
			defer bus.Close(context.Background())

			bus.On("ui.click", CallbackFunc(func(ctx context.Context, recv, payload any) error {
				return errors.New("nope")
			}), nil, "")

			ctx := context.WithValue(context.Background(), requestKey{}, "req-1")
			bus.Out(ctx, "ui.click", nil)
			if err := bus.Flush(context.Background()); err != nil {
				t.Fatalf("Flush() failed: %v", err)
			}

			mu.Lock()
			defer mu.Unlock()
			if got != "req-1" {
				t.Errorf("failure context value = %v, want req-1", got)
			}
		})
	}
}

func TestBus_Close(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	bus := New(WithMode(ModeDeferred), WithLogger(logger))

	var count atomic.Int32
	bus.On("click", CallbackFunc(func(ctx context.Context, recv, payload any) error {
		count.Add(1)
		return nil
	}), nil, "")

	bus.Out(context.Background(), "click", nil)
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if n := count.Load(); n != 1 {
		t.Errorf("count = %d after Close, want 1", n)
	}

	bus.Out(context.Background(), "click", nil)
	if n := count.Load(); n != 1 {
		t.Errorf("handler ran after Close")
	}
	if s := bus.Stats(); s.Dropped != 1 || !s.Closed {
		t.Errorf("unexpected stats: %+v", s)
	}
	if !strings.Contains(buf.String(), "dropping emission on closed bus") {
		t.Errorf("expected drop warning, got %q", buf.String())
	}

	if err := bus.Close(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() = %v, want ErrClosed", err)
	}
}

func TestBus_DefaultFailureLogging(t *testing.T) {
	var buf bytes.Buffer
	bus := New(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	bus.On("ui.click", CallbackFunc(func(ctx context.Context, recv, payload any) error {
		return errors.New("nope")
	}), nil, "broken")
	bus.Out(context.Background(), "ui.click", nil)

	out := buf.String()
	for _, want := range []string{"level=WARN", "handler failed", "handler=broken", "topic=ui"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestBus_Stats(t *testing.T) {
	bus := New()
	noop := Func(func(any) {})
	bus.On("click", noop, nil, "")
	bus.On("ui.click", noop, nil, "")
	bus.On("ui.hover", noop, nil, "")
	bus.Topic("doc").Subscribe(noop, nil, "")

	bus.Out(context.Background(), "ui.click", nil)
	bus.Out(context.Background(), "ghost.click", nil)

	got := bus.Stats()
	got.AvgDuration = 0
	want := Stats{
		Mode:      ModeImmediate,
		Emitted:   2,
		Invoked:   1,
		Succeeded: 1,
		Topics:    2,
		Handlers:  4,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestBus_Tracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	defer provider.Shutdown(context.Background())

	bus := New(WithTracer(provider.Tracer("test")))
	bus.On("ui.click", Func(func(any) {}), nil, "")
	bus.Out(context.Background(), "ui.click", nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "cables.out" {
		t.Errorf("span name = %q, want cables.out", spans[0].Name)
	}

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"cables.topic":    "ui",
		"cables.event":    "click",
		"cables.mode":     "immediate",
		"cables.handlers": "1",
	}
	if diff := cmp.Diff(want, attrs); diff != "" {
		t.Errorf("span attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestBus_ConcurrentUse(t *testing.T) {
	bus := New(WithMode(ModeDeferred), WithWorkers(8))
	defer bus.Close(context.Background())

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := bus.On("load.tick", CallbackFunc(func(ctx context.Context, recv, payload any) error {
				count.Add(1)
				return nil
			}), nil, "")
			for j := 0; j < 50; j++ {
				bus.Out(context.Background(), "load.tick", j)
			}
			bus.Off("load.tick", id)
		}()
	}
	wg.Wait()

	if err := bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if count.Load() == 0 {
		t.Error("no handler ran")
	}
	if s := bus.Stats(); s.Pending != 0 {
		t.Errorf("Pending = %d after Flush, want 0", s.Pending)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeImmediate, false},
		{"immediate", ModeImmediate, false},
		{"Deferred", ModeDeferred, false},
		{"async", ModeDeferred, false},
		{"later", ModeImmediate, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
