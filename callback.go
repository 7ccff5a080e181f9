package cables

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Callback is invoked with every payload emitted to the event it is
// registered on. recv is the value bound when the handler was registered.
type Callback interface {
	Call(ctx context.Context, recv any, payload any) error
}

// CallbackFunc is a function adapter for Callback.
type CallbackFunc func(ctx context.Context, recv any, payload any) error

// Call implements Callback.
func (f CallbackFunc) Call(ctx context.Context, recv any, payload any) error {
	return f(ctx, recv, payload)
}

// Func adapts a single-argument function. A nil fn yields a nil Callback.
func Func(fn func(payload any)) Callback {
	if fn == nil {
		return nil
	}
	return CallbackFunc(func(_ context.Context, _ any, payload any) error {
		fn(payload)
		return nil
	})
}

// Decode adapts a typed function. Payloads that already are a T are passed
// through; anything else (typically a map) is decoded into a T. A payload
// that cannot be decoded is reported as a handler failure.
func Decode[T any](fn func(ctx context.Context, recv any, v T) error) Callback {
	if fn == nil {
		return nil
	}
	return CallbackFunc(func(ctx context.Context, recv any, payload any) error {
		if v, ok := payload.(T); ok {
			return fn(ctx, recv, v)
		}

		var v T
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &v,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		if err := dec.Decode(payload); err != nil {
			return fmt.Errorf("decode payload as %T: %w", v, err)
		}
		return fn(ctx, recv, v)
	})
}

// invocable reports whether cb can be called.
func invocable(cb Callback) bool {
	if cb == nil {
		return false
	}
	if f, ok := cb.(CallbackFunc); ok && f == nil {
		return false
	}
	return true
}
