// Package script hosts Lua scripts that register handlers on a cables bus.
//
// Scripts see a global table "cable":
//
//	cable.on(name, fn [, recv [, id]])      -> id
//	cable.off(name, id)                     -> bool
//	cable.out(name [, payload])
//	cable.subscribe(topic, fn [, recv [, id]]) -> id
//	cable.unsubscribe(topic, id)            -> bool
//	cable.topics()                          -> { name, ... }
//	cable.decode(json)                      -> value
//	cable.log(level, msg [, fields])
//
// Handlers are called as fn(recv, payload). Topic subscribers receive a
// table { topic = ..., event = ..., payload = ... }.
//
// gopher-lua's LState is not goroutine-safe. An Engine owns its state on a
// single goroutine; every script run and every Lua handler invocation is
// executed there.
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/flagpoonage/cables"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("script engine closed")

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by cable.log and for engine diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithOutput sets where print writes. Defaults to io.Discard.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) {
		if w != nil {
			e.out = w
		}
	}
}

// binding is a registration made by a script, kept for cleanup. Ids are
// only unique within one registry, so the name is part of the key.
type binding struct {
	name  string
	id    string
	topic bool
}

// loopKey marks contexts that originate on the engine goroutine.
type loopKey struct{}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Engine runs Lua scripts against a bus.
type Engine struct {
	id     string
	bus    *cables.Bus
	logger *slog.Logger
	out    io.Writer

	L      *lua.LState
	jobCtx context.Context

	jobs    chan job
	quit    chan struct{}
	stopped chan struct{}
	closing atomic.Bool

	mu       sync.Mutex
	bindings map[binding]struct{}
}

// New creates an engine bound to bus and starts its goroutine.
func New(bus *cables.Bus, opts ...Option) *Engine {
	e := &Engine{
		id:       uuid.NewString(),
		bus:      bus,
		logger:   slog.Default(),
		out:      io.Discard,
		jobCtx:   context.Background(),
		jobs:     make(chan job),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		bindings: make(map[binding]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("engine", e.id)

	e.L = newState(e.out)
	e.register(e.L)

	go e.loop()
	return e
}

// ID returns the engine's unique id.
func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) loop() {
	defer close(e.stopped)
	for {
		select {
		case j := <-e.jobs:
			j.done <- e.run(j)
		case <-e.quit:
			return
		}
	}
}

// run executes a job on the engine goroutine.
func (e *Engine) run(j job) (err error) {
	prev := e.jobCtx
	e.jobCtx = j.ctx
	e.L.SetContext(j.ctx)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		e.L.RemoveContext()
		e.jobCtx = prev
	}()
	return j.fn(j.ctx)
}

// submit runs fn on the engine goroutine and waits for it.
func (e *Engine) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{
		ctx:  context.WithValue(ctx, loopKey{}, e),
		fn:   fn,
		done: make(chan error, 1),
	}

	select {
	case e.jobs <- j:
	case <-e.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-j.done
}

// onLoop reports whether ctx belongs to a job running on this engine.
func (e *Engine) onLoop(ctx context.Context) bool {
	owner, _ := ctx.Value(loopKey{}).(*Engine)
	return owner == e
}

// DoString runs Lua source.
func (e *Engine) DoString(ctx context.Context, src string) error {
	return e.submit(ctx, func(context.Context) error {
		return e.L.DoString(src)
	})
}

// DoFile runs the Lua file at path.
func (e *Engine) DoFile(ctx context.Context, path string) error {
	return e.submit(ctx, func(context.Context) error {
		return e.L.DoFile(path)
	})
}

// Emit emits payload on the bus from the engine goroutine, so immediate
// mode Lua handlers run inline.
func (e *Engine) Emit(ctx context.Context, name string, payload any) error {
	return e.submit(ctx, func(ctx context.Context) error {
		e.bus.Out(ctx, name, payload)
		return nil
	})
}

// Flush waits for every deferred invocation scheduled so far, including
// those that call into Lua. Called from a deferred handler it blocks until
// ctx is done.
func (e *Engine) Flush(ctx context.Context) error {
	return e.bus.Flush(ctx)
}

// Bindings returns the number of handlers the scripts have registered.
func (e *Engine) Bindings() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bindings)
}

// Close removes every handler registered by scripts and releases the Lua
// state. Deferred invocations already scheduled fail with ErrClosed.
func (e *Engine) Close() error {
	if !e.closing.CompareAndSwap(false, true) {
		return nil
	}

	err := e.submit(context.Background(), func(context.Context) error {
		e.unbindAll()
		return nil
	})

	close(e.quit)
	<-e.stopped
	e.L.Close()
	return err
}

func (e *Engine) unbindAll() {
	e.mu.Lock()
	bindings := e.bindings
	e.bindings = make(map[binding]struct{})
	e.mu.Unlock()

	for b := range bindings {
		if b.topic {
			if t, ok := e.bus.LookupTopic(b.name); ok {
				t.Unsubscribe(b.id)
			}
		} else {
			e.bus.Off(b.name, b.id)
		}
	}
}

// callback wraps a Lua function as a bus callback.
func (e *Engine) callback(fn *lua.LFunction) cables.Callback {
	return cables.CallbackFunc(func(ctx context.Context, recv, payload any) error {
		if e.bus.Mode() == cables.ModeImmediate && e.onLoop(ctx) {
			return e.invoke(fn, recv, payload)
		}
		return e.submit(ctx, func(context.Context) error {
			return e.invoke(fn, recv, payload)
		})
	})
}

// invoke calls fn(recv, payload). Must run on the engine goroutine.
func (e *Engine) invoke(fn *lua.LFunction, recv, payload any) error {
	L := e.L
	return L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, toLValue(L, recv), toLValue(L, payload))
}
