package cables

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type clickEvent struct {
	X      int
	Y      int
	Button string
}

func TestFunc(t *testing.T) {
	var got any
	cb := Func(func(payload any) { got = payload })

	if err := cb.Call(context.Background(), "ignored", 3); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != 3 {
		t.Errorf("payload = %v, want 3", got)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    clickEvent
		wantErr bool
	}{
		{"typed", clickEvent{X: 1, Y: 2, Button: "left"}, clickEvent{X: 1, Y: 2, Button: "left"}, false},
		{"map", map[string]any{"x": 1, "y": 2, "button": "left"}, clickEvent{X: 1, Y: 2, Button: "left"}, false},
		{"weak numbers", map[string]any{"x": 1.0, "y": "2"}, clickEvent{X: 1, Y: 2}, false},
		{"not decodable", "click", clickEvent{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got clickEvent
			cb := Decode(func(ctx context.Context, recv any, v clickEvent) error {
				got = v
				return nil
			})

			err := cb.Call(context.Background(), nil, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Call() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decoded mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_FailureReported(t *testing.T) {
	var failure error
	bus := New(WithFailureHandler(func(ctx context.Context, err error) { failure = err }))

	bus.On("ui.click", Decode(func(ctx context.Context, recv any, v clickEvent) error {
		return nil
	}), nil, "typed")
	bus.Out(context.Background(), "ui.click", []int{1, 2})

	var herr *HandlerError
	if !errors.As(failure, &herr) {
		t.Fatalf("failure = %v, want *HandlerError", failure)
	}
	if herr.HandlerID != "typed" {
		t.Errorf("HandlerID = %q, want typed", herr.HandlerID)
	}
}

func TestDecode_Nil(t *testing.T) {
	if cb := Decode[clickEvent](nil); cb != nil {
		t.Errorf("Decode(nil) = %v, want nil", cb)
	}
}

func TestHandlerError(t *testing.T) {
	inner := errors.New("inner")
	err := &HandlerError{Topic: "ui", Event: "click", HandlerID: "click_1", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("HandlerError does not unwrap to its cause")
	}
	if got, want := err.Error(), `handler click_1 on "ui"/"click": inner`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	dflt := &HandlerError{Event: "click", HandlerID: "click_1", Err: inner}
	if got, want := dflt.Error(), `handler click_1 on "click": inner`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
