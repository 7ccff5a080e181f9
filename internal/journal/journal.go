// Package journal records bus emissions as JSON lines.
//
// A Journal subscribes to whole topics and writes one line per emission:
//
//	{"id":"<uuid>","seq":1,"time":"...","source":"cli","topic":"fs","event":"create","payload":{...}}
//
// Payloads that cannot be encoded as JSON are written as their %v string
// together with a "payload_error" field.
package journal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/flagpoonage/cables"
)

// Option configures a Journal.
type Option func(*Journal)

// WithSource sets the value of the "source" field. Empty omits it.
func WithSource(source string) Option {
	return func(j *Journal) {
		j.source = source
	}
}

// WithClock sets the function used for the "time" field.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// WithIDs sets the function used for the "id" field.
func WithIDs(next func() string) Option {
	return func(j *Journal) {
		if next != nil {
			j.nextID = next
		}
	}
}

// WithLogger sets the logger for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

type attachment struct {
	topic *cables.Topic
	id    string
}

// Journal writes emissions to an io.Writer.
type Journal struct {
	source string
	now    func() time.Time
	nextID func() string
	logger *slog.Logger

	mu       sync.Mutex
	w        io.Writer
	attached []attachment

	seq atomic.Uint64
}

// New creates a journal writing to w.
func New(w io.Writer, opts ...Option) *Journal {
	j := &Journal{
		w:      w,
		now:    time.Now,
		nextID: uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Attach subscribes the journal to every emission in t.
func (j *Journal) Attach(t *cables.Topic) (string, error) {
	id, err := t.Subscribe(cables.CallbackFunc(j.handle), nil, "")
	if err != nil {
		return "", fmt.Errorf("attach journal to topic %q: %w", t.Name(), err)
	}

	j.mu.Lock()
	j.attached = append(j.attached, attachment{topic: t, id: id})
	j.mu.Unlock()
	return id, nil
}

// Detach removes every subscription made by Attach.
func (j *Journal) Detach() {
	j.mu.Lock()
	attached := j.attached
	j.attached = nil
	j.mu.Unlock()

	for _, a := range attached {
		a.topic.Unsubscribe(a.id)
	}
}

// Lines returns the number of lines written.
func (j *Journal) Lines() uint64 {
	return j.seq.Load()
}

func (j *Journal) handle(ctx context.Context, _ any, payload any) error {
	em, ok := payload.(cables.Emission)
	if !ok {
		return fmt.Errorf("journal: unexpected payload %T", payload)
	}
	return j.Record(ctx, em)
}

// Record writes one line for em.
func (j *Journal) Record(ctx context.Context, em cables.Emission) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.seq.Load() + 1
	line, err := j.encode(seq, em)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(j.w, line+"\n"); err != nil {
		j.logger.WarnContext(ctx, "journal write failed",
			"topic", em.Topic,
			"event", em.Event,
			"err", err,
		)
		return fmt.Errorf("write journal line: %w", err)
	}
	j.seq.Store(seq)
	return nil
}

func (j *Journal) encode(seq uint64, em cables.Emission) (string, error) {
	var (
		line string
		err  error
	)
	set := func(path string, value any) {
		if err == nil {
			line, err = sjson.Set(line, path, value)
		}
	}

	set("id", j.nextID())
	set("seq", seq)
	set("time", j.now().UTC().Format(time.RFC3339Nano))
	if j.source != "" {
		set("source", j.source)
	}
	set("topic", em.Topic)
	set("event", em.Event)
	if err != nil {
		return "", fmt.Errorf("encode journal line: %w", err)
	}

	withPayload, perr := sjson.Set(line, "payload", em.Payload)
	if perr == nil {
		return withPayload, nil
	}

	set("payload", fmt.Sprintf("%v", em.Payload))
	set("payload_error", perr.Error())
	if err != nil {
		return "", fmt.Errorf("encode journal payload: %w", err)
	}
	return line, nil
}
