package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResult_IsSuccess(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		expected bool
	}{
		{"success", Result{Success: true}, true},
		{"error", Result{Success: false, Error: errors.New("error")}, false},
		{"panic", Result{Success: false, Panicked: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.IsSuccess(); got != tt.expected {
				t.Errorf("IsSuccess() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestResult_IsError(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		expected bool
	}{
		{"success", Result{Success: true}, false},
		{"error", Result{Success: false, Error: errors.New("error")}, true},
		{"panic", Result{Success: false, Panicked: true, PanicValue: "panic"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.IsError(); got != tt.expected {
				t.Errorf("IsError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExecutor_Execute_Success(t *testing.T) {
	e := NewExecutor(0)

	var got any
	result := e.Execute(context.Background(), 42, HandlerFunc(func(ctx context.Context, payload any) error {
		got = payload
		return nil
	}))

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %+v", result)
	}
	if got != 42 {
		t.Errorf("handler payload = %v, want 42", got)
	}
}

func TestExecutor_Execute_Panic(t *testing.T) {
	e := NewExecutor(0)

	result := e.Execute(context.Background(), nil, HandlerFunc(func(ctx context.Context, payload any) error {
		panic("boom")
	}))

	if !result.IsPanic() {
		t.Fatalf("expected panic result, got %+v", result)
	}
	if result.PanicValue != "boom" {
		t.Errorf("PanicValue = %v, want boom", result.PanicValue)
	}
	if len(result.PanicStack) == 0 {
		t.Error("expected a stack trace")
	}
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	e := NewExecutor(10 * time.Millisecond)

	result := e.Execute(context.Background(), nil, HandlerFunc(func(ctx context.Context, payload any) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	if !errors.Is(result.Error, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", result.Error)
	}
}

func TestImmediate_Dispatch(t *testing.T) {
	d := NewImmediate()

	called := false
	result := d.Dispatch(context.Background(), "payload", HandlerFunc(func(ctx context.Context, payload any) error {
		called = true
		return nil
	}))

	if !called {
		t.Error("expected handler to be called before Dispatch returns")
	}
	if !result.IsSuccess() {
		t.Errorf("expected success, got %+v", result)
	}

	stats := d.Stats()
	if stats.Dispatched != 1 || stats.Succeeded != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestImmediate_DispatchAll_IsolatesFailures(t *testing.T) {
	d := NewImmediate()

	var order []int
	handlers := []Handler{
		HandlerFunc(func(ctx context.Context, payload any) error {
			order = append(order, 1)
			return errors.New("first failed")
		}),
		HandlerFunc(func(ctx context.Context, payload any) error {
			order = append(order, 2)
			panic("second panicked")
		}),
		HandlerFunc(func(ctx context.Context, payload any) error {
			order = append(order, 3)
			return nil
		}),
	}

	results := d.DispatchAll(context.Background(), nil, handlers)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("handlers ran as %v, want [1 2 3]", order)
	}
	if !results[0].IsError() {
		t.Error("expected first result to be an error")
	}
	if !results[1].IsPanic() {
		t.Error("expected second result to be a panic")
	}
	if !results[2].IsSuccess() {
		t.Error("expected third result to succeed")
	}

	stats := d.Stats()
	if stats.Failed != 1 || stats.Panicked != 1 || stats.Succeeded != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestImmediate_Reporter(t *testing.T) {
	var reported []Result
	d := NewImmediate(WithReporter(func(ctx context.Context, payload any, handler Handler, result Result) {
		reported = append(reported, result)
	}))

	d.Dispatch(context.Background(), nil, HandlerFunc(func(ctx context.Context, payload any) error {
		return errors.New("nope")
	}))

	if len(reported) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reported))
	}
	if !reported[0].IsError() {
		t.Errorf("expected reported error, got %+v", reported[0])
	}
}

type traceKey struct{}

func TestImmediate_ReporterReceivesContext(t *testing.T) {
	var got any
	d := NewImmediate(WithReporter(func(ctx context.Context, payload any, handler Handler, result Result) {
		got = ctx.Value(traceKey{})
	}))

	ctx := context.WithValue(context.Background(), traceKey{}, "abc")
	d.Dispatch(ctx, nil, HandlerFunc(func(ctx context.Context, payload any) error {
		return errors.New("nope")
	}))

	if got != "abc" {
		t.Errorf("reporter context value = %v, want abc", got)
	}
}

func TestImmediate_ReporterPanicIsContained(t *testing.T) {
	d := NewImmediate(WithReporter(func(ctx context.Context, payload any, handler Handler, result Result) {
		panic("reporter broke")
	}))

	result := d.Dispatch(context.Background(), nil, HandlerFunc(func(ctx context.Context, payload any) error {
		return nil
	}))

	if !result.IsSuccess() {
		t.Errorf("expected success, got %+v", result)
	}
}
