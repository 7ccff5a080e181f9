package cables

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// defaultIDPrefix prefixes synthesized ids in a registry with no name.
const defaultIDPrefix = "handler"

// Registry holds the handlers of a single event, keyed by id and kept in
// insertion order.
type Registry struct {
	name   string
	topic  string
	prefix string

	rt      *runtime
	ownsRT  bool
	counter uint64

	mu       sync.Mutex
	order    []string
	handlers map[string]*invocation
}

// NewRegistry creates a standalone registry. Handlers registered without an
// id get ids of the form "<name>_<n>".
func NewRegistry(eventName string, opts ...Option) *Registry {
	r := newRegistry("", eventName, eventName, newRuntime(newConfig(opts)))
	r.ownsRT = true
	return r
}

func newRegistry(topic, event, prefix string, rt *runtime) *Registry {
	if prefix == "" {
		prefix = defaultIDPrefix
	}
	return &Registry{
		name:     event,
		topic:    topic,
		prefix:   prefix,
		rt:       rt,
		handlers: make(map[string]*invocation),
	}
}

// Name returns the event name the registry was created for.
func (r *Registry) Name() string {
	return r.name
}

// On stores cb under id, bound to recv, and returns the id. An empty id is
// replaced by a synthesized one. Storing under an existing id replaces that
// handler without changing its position.
func (r *Registry) On(cb Callback, recv any, id string) (string, error) {
	if !invocable(cb) {
		return "", ErrInvalidCallback
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = r.nextID()
	}

	if _, exists := r.handlers[id]; !exists {
		r.order = append(r.order, id)
	}
	r.handlers[id] = &invocation{
		topic: r.topic,
		event: r.name,
		id:    id,
		cb:    cb,
		recv:  recv,
	}
	return id, nil
}

// nextID returns the next unused synthesized id. Must hold r.mu.
func (r *Registry) nextID() string {
	for {
		r.counter++
		id := fmt.Sprintf("%s_%d", r.prefix, r.counter)
		if _, taken := r.handlers[id]; !taken {
			return id
		}
	}
}

// Off removes the handler stored under id. Unknown and empty ids are
// ignored. It reports whether a handler was removed.
func (r *Registry) Off(id string) bool {
	if id == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[id]; !ok {
		return false
	}
	delete(r.handlers, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true
}

// Out invokes every handler with payload, in insertion order. In deferred
// mode the invocations are scheduled and Out returns at once.
func (r *Registry) Out(ctx context.Context, payload any) {
	ctx, span := r.rt.startOut(ctx, r.topic, r.name)
	defer span.End()

	r.out(ctx, payload)
}

// out delivers payload and returns the number of handlers it went to.
func (r *Registry) out(ctx context.Context, payload any) int {
	handlers := r.snapshot()
	r.rt.deliver(ctx, handlers, payload)
	return len(handlers)
}

// snapshot copies the current handlers so they can be invoked without
// holding r.mu.
func (r *Registry) snapshot() []*invocation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return nil
	}
	handlers := make([]*invocation, 0, len(r.order))
	for _, id := range r.order {
		handlers = append(handlers, r.handlers[id])
	}
	return handlers
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// IDs returns the handler ids in invocation order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// Has reports whether a handler is stored under id.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[id]
	return ok
}

// Flush waits until every invocation scheduled so far has finished.
// It returns at once in immediate mode.
// A deferred handler that calls Flush waits on its own invocation and
// blocks until ctx is done.
func (r *Registry) Flush(ctx context.Context) error {
	return r.rt.flush(ctx)
}

// Stats returns the activity of the dispatch runtime the registry uses.
func (r *Registry) Stats() Stats {
	s := r.rt.stats()
	s.Handlers = r.Len()
	return s
}

// Close drains scheduled invocations and stops the worker pool of a
// standalone registry. It is a no-op for a registry owned by a topic or bus.
// Calling Close from a deferred handler waits on that handler and blocks
// until ctx is done.
func (r *Registry) Close(ctx context.Context) error {
	if !r.ownsRT {
		return nil
	}
	return r.rt.close(ctx)
}
