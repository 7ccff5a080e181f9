// Package cables is a lightweight in-process publish/subscribe event bus.
//
// Callers register handlers against event names and other callers emit
// payloads against those names. Names are split into a topic and an event on
// the first occurrence of a configurable separator:
//
//	click          event "click" in the default topic
//	ui.click       event "click" in topic "ui"
//
// # Components
//
// The bus is built from three composable parts, each usable on its own:
//
//   - Registry: the handlers of one event, keyed by id, in insertion order.
//   - Topic: a namespace mapping event names to registries. A topic also has
//     its own subscriber list which sees every emission in the topic.
//   - Bus: maps topic names to topics, plus a default topic, and routes On,
//     Off and Out by parsing the event name.
//
// # Handler ids
//
// On returns the id the handler was stored under. A caller-supplied id is
// used as-is and replaces any handler with that id in place. Without an id
// one is synthesized as "<event>_<n>" where n counts up from 1 and is never
// reused, even after the handler is removed.
//
// # Dispatch modes
//
//   - ModeImmediate (default): Out invokes every handler before returning.
//   - ModeDeferred: Out schedules every invocation on a worker pool and
//     returns at once. Removing a handler after Out does not retract an
//     invocation that was already scheduled. Use Flush to wait for them.
//
// In both modes a handler that returns an error or panics does not prevent
// the other handlers from running. Failures go to the handler installed with
// WithFailureHandler, which logs them by default.
//
// # Usage
//
//	bus := cables.New(cables.WithMode(cables.ModeDeferred))
//	defer bus.Close(context.Background())
//
//	id, err := bus.On("ui.click", cables.CallbackFunc(func(ctx context.Context, recv, payload any) error {
//	    fmt.Println(recv, payload)
//	    return nil
//	}), "button-1", "")
//
//	bus.Out(ctx, "ui.click", 42)
//	bus.Off("ui.click", id)
//
// # Thread Safety
//
// Bus, Topic and Registry are safe for concurrent use. Each Registry has its
// own mutex; handlers are invoked outside of it so they may call On, Off and
// Out themselves.
package cables
