package cables

import (
	"context"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/flagpoonage/cables/internal/name"
)

// Bus routes event names to topics. Names without a separator address the
// default topic.
type Bus struct {
	sep string
	rt  *runtime

	mu     sync.RWMutex
	topics map[string]*Topic

	other *Topic
}

// New creates a bus. In deferred mode the worker pool starts at once; call
// Close to stop it.
func New(opts ...Option) *Bus {
	cfg := newConfig(opts)
	rt := newRuntime(cfg)
	return &Bus{
		sep:    cfg.separator,
		rt:     rt,
		topics: make(map[string]*Topic),
		other:  newTopic("", true, rt),
	}
}

// Separator returns the topic/event separator.
func (b *Bus) Separator() string {
	return b.sep
}

// Mode returns the dispatch mode.
func (b *Bus) Mode() Mode {
	return b.rt.cfg.mode
}

// Default returns the default topic.
func (b *Bus) Default() *Topic {
	return b.other
}

// Topic returns the named topic, creating it if needed.
func (b *Bus) Topic(topicName string) *Topic {
	if t, ok := b.LookupTopic(topicName); ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[topicName]; ok {
		return t
	}
	t := newTopic(topicName, false, b.rt)
	b.topics[topicName] = t
	return t
}

// LookupTopic returns the named topic, if it exists.
func (b *Bus) LookupTopic(topicName string) (*Topic, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[topicName]
	return t, ok
}

// Topics returns the names of all named topics, sorted.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.topics))
	for n := range b.topics {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// On registers cb for eventName and returns the handler id. The topic is
// created if needed. An empty name is ignored unless strict names are on.
// A trailing separator ("ui.") registers for the event "" of the topic;
// strict names reject it.
func (b *Bus) On(eventName string, cb Callback, recv any, id string) (string, error) {
	if b.rt.cfg.strict && !b.wellFormed(eventName) {
		return "", ErrMalformedEventName
	}
	if eventName == "" {
		return "", nil
	}
	if !invocable(cb) {
		return "", ErrInvalidCallback
	}

	ref := name.Parse(eventName, b.sep)
	if !ref.Scoped {
		return b.other.on(ref.Event, cb, recv, id)
	}
	return b.Topic(ref.Topic).on(ref.Event, cb, recv, id)
}

// wellFormed reports whether eventName is non-empty, contains the
// separator at most once and does not end with it.
func (b *Bus) wellFormed(eventName string) bool {
	if eventName == "" || name.Depth(eventName, b.sep) > 2 {
		return false
	}
	ref := name.Parse(eventName, b.sep)
	return !ref.Scoped || ref.Event != ""
}

// Off removes handler id from eventName. Unknown topics, events and ids are
// ignored; nothing is created.
func (b *Bus) Off(eventName, id string) bool {
	if eventName == "" {
		return false
	}
	t, event, ok := b.resolve(eventName)
	if !ok {
		return false
	}
	return t.off(event, id)
}

// Out emits payload to every handler of eventName. Unknown topics and
// events are ignored; nothing is created.
func (b *Bus) Out(ctx context.Context, eventName string, payload any) {
	if eventName == "" {
		return
	}

	ref := name.Parse(eventName, b.sep)
	ctx, span := b.rt.startOut(ctx, ref.Topic, ref.Event)
	defer span.End()

	t, event, ok := b.resolve(eventName)
	if !ok {
		span.SetAttributes(attribute.Int("cables.handlers", 0))
		return
	}
	n := t.out(ctx, event, payload)
	span.SetAttributes(attribute.Int("cables.handlers", n))
}

// resolve finds the existing topic for eventName.
func (b *Bus) resolve(eventName string) (*Topic, string, bool) {
	ref := name.Parse(eventName, b.sep)
	if !ref.Scoped {
		return b.other, ref.Event, true
	}
	t, ok := b.LookupTopic(ref.Topic)
	return t, ref.Event, ok
}

// Flush waits until every invocation scheduled so far has finished.
// It returns at once in immediate mode.
// A deferred handler that calls Flush waits on its own invocation and
// blocks until ctx is done.
func (b *Bus) Flush(ctx context.Context) error {
	return b.rt.flush(ctx)
}

// Stats returns a snapshot of bus activity.
func (b *Bus) Stats() Stats {
	s := b.rt.stats()

	b.mu.RLock()
	topics := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.RUnlock()

	s.Topics = len(topics)
	s.Handlers = b.other.handlers()
	for _, t := range topics {
		s.Handlers += t.handlers()
	}
	return s
}

// Close drains scheduled invocations and stops the worker pool. Emissions
// after Close are dropped. Closing twice returns ErrClosed.
// Calling Close from a deferred handler waits on that handler and blocks
// until ctx is done.
func (b *Bus) Close(ctx context.Context) error {
	return b.rt.close(ctx)
}
