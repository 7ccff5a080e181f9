package cables

import (
	"context"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// subscriberEvent labels topic subscribers in failure reports.
const subscriberEvent = "*"

// Emission is the payload topic subscribers receive: the event that was
// emitted and its payload.
type Emission struct {
	Topic   string
	Event   string
	Payload any
}

// Topic maps event names to registries. Registries are created on first
// registration.
type Topic struct {
	name      string
	isDefault bool

	rt     *runtime
	ownsRT bool

	mu     sync.RWMutex
	events map[string]*Registry

	// subs see every emission in the topic.
	subs *Registry
}

// NewTopic creates a standalone topic.
func NewTopic(topicName string, opts ...Option) *Topic {
	t := newTopic(topicName, false, newRuntime(newConfig(opts)))
	t.ownsRT = true
	return t
}

func newTopic(topicName string, isDefault bool, rt *runtime) *Topic {
	prefix := "sub"
	if topicName != "" {
		prefix = topicName + "_sub"
	}
	return &Topic{
		name:      topicName,
		isDefault: isDefault,
		rt:        rt,
		events:    make(map[string]*Registry),
		subs:      newRegistry(topicName, subscriberEvent, prefix, rt),
	}
}

// Name returns the topic name. The default topic of a bus is named "".
func (t *Topic) Name() string {
	return t.name
}

// IsDefault reports whether t is the default topic of a bus.
func (t *Topic) IsDefault() bool {
	return t.isDefault
}

// Event returns the registry for eventName, if one exists.
func (t *Topic) Event(eventName string) (*Registry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.events[eventName]
	return r, ok
}

// EventOrCreate returns the registry for eventName, creating it if needed.
// Concurrent callers receive the same registry.
func (t *Topic) EventOrCreate(eventName string) *Registry {
	if r, ok := t.Event(eventName); ok {
		return r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.events[eventName]; ok {
		return r
	}
	r := newRegistry(t.name, eventName, eventName, t.rt)
	t.events[eventName] = r
	return r
}

// Events returns the names of events that have a registry, sorted.
func (t *Topic) Events() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.events))
	for n := range t.events {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// On registers cb for eventName and returns the handler id.
// An empty event name is ignored.
func (t *Topic) On(eventName string, cb Callback, recv any, id string) (string, error) {
	if eventName == "" {
		return "", nil
	}
	return t.on(eventName, cb, recv, id)
}

// on registers without the empty-name check. The bus uses it for names
// with a trailing separator, which address the event "".
func (t *Topic) on(eventName string, cb Callback, recv any, id string) (string, error) {
	if !invocable(cb) {
		return "", ErrInvalidCallback
	}
	return t.EventOrCreate(eventName).On(cb, recv, id)
}

// Off removes handler id from eventName. Unknown events and ids are
// ignored; no registry is created.
func (t *Topic) Off(eventName, id string) bool {
	if eventName == "" {
		return false
	}
	return t.off(eventName, id)
}

func (t *Topic) off(eventName, id string) bool {
	r, ok := t.Event(eventName)
	if !ok {
		return false
	}
	return r.Off(id)
}

// Out emits payload to the handlers of eventName and to the topic
// subscribers. Emitting an event with no registry creates none.
func (t *Topic) Out(ctx context.Context, eventName string, payload any) {
	if eventName == "" {
		return
	}
	ctx, span := t.rt.startOut(ctx, t.name, eventName)
	defer span.End()

	n := t.out(ctx, eventName, payload)
	span.SetAttributes(attribute.Int("cables.handlers", n))
}

func (t *Topic) out(ctx context.Context, eventName string, payload any) int {
	n := 0
	if r, ok := t.Event(eventName); ok {
		n += r.out(ctx, payload)
	}
	if t.subs.Len() > 0 {
		n += t.subs.out(ctx, Emission{Topic: t.name, Event: eventName, Payload: payload})
	}
	return n
}

// Subscribe registers cb for every event emitted in the topic. cb receives
// an Emission as its payload. Ids are synthesized as "<topic>_sub_<n>".
func (t *Topic) Subscribe(cb Callback, recv any, id string) (string, error) {
	return t.subs.On(cb, recv, id)
}

// Unsubscribe removes a topic subscriber.
func (t *Topic) Unsubscribe(id string) bool {
	return t.subs.Off(id)
}

// Subscribers returns the number of topic subscribers.
func (t *Topic) Subscribers() int {
	return t.subs.Len()
}

// handlers counts every registered handler, subscribers included.
func (t *Topic) handlers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.subs.Len()
	for _, r := range t.events {
		n += r.Len()
	}
	return n
}

// Flush waits until every invocation scheduled so far has finished.
// A deferred handler that calls Flush waits on its own invocation and
// blocks until ctx is done.
func (t *Topic) Flush(ctx context.Context) error {
	return t.rt.flush(ctx)
}

// Stats returns the activity of the dispatch runtime the topic uses.
func (t *Topic) Stats() Stats {
	s := t.rt.stats()
	s.Handlers = t.handlers()
	return s
}

// Close drains scheduled invocations and stops the worker pool of a
// standalone topic. It is a no-op for a topic owned by a bus.
// Calling Close from a deferred handler waits on that handler and blocks
// until ctx is done.
func (t *Topic) Close(ctx context.Context) error {
	if !t.ownsRT {
		return nil
	}
	return t.rt.close(ctx)
}
