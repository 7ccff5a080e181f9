package cables

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flagpoonage/cables/internal/dispatch"
)

// runtime is the dispatch machinery shared by every registry of a bus.
type runtime struct {
	cfg config

	immediate *dispatch.Immediate
	deferred  *dispatch.Deferred

	closed  atomic.Bool
	emitted atomic.Uint64
	dropped atomic.Uint64
}

func newRuntime(cfg config) *runtime {
	rt := &runtime{cfg: cfg}

	rt.immediate = dispatch.NewImmediate(
		dispatch.WithTimeout(cfg.handlerTimeout),
		dispatch.WithReporter(rt.report),
	)

	if cfg.mode == ModeDeferred {
		rt.deferred = dispatch.NewDeferred(
			dispatch.WithWorkers(cfg.workers),
			dispatch.WithQueueSize(cfg.queueSize),
			dispatch.WithTimeout(cfg.handlerTimeout),
			dispatch.WithReporter(rt.report),
		)
		// A fresh dispatcher is never running.
		_ = rt.deferred.Start()
	}

	return rt
}

// invocation is one registered handler, as seen by the dispatcher.
type invocation struct {
	topic string
	event string
	id    string
	cb    Callback
	recv  any
}

// Handle implements dispatch.Handler.
func (inv *invocation) Handle(ctx context.Context, payload any) error {
	return inv.cb.Call(ctx, inv.recv, payload)
}

// report turns failed results into HandlerError or PanicError.
func (rt *runtime) report(ctx context.Context, payload any, h dispatch.Handler, result dispatch.Result) {
	if result.IsSuccess() {
		return
	}
	inv, ok := h.(*invocation)
	if !ok {
		return
	}

	var err error
	if result.IsPanic() {
		err = &PanicError{
			Topic:     inv.topic,
			Event:     inv.event,
			HandlerID: inv.id,
			Value:     result.PanicValue,
			Stack:     string(result.PanicStack),
		}
	} else {
		err = &HandlerError{
			Topic:     inv.topic,
			Event:     inv.event,
			HandlerID: inv.id,
			Err:       result.Error,
		}
	}
	rt.cfg.onFailure(ctx, err)
}

// deliver runs or schedules every handler with payload, in order.
func (rt *runtime) deliver(ctx context.Context, handlers []*invocation, payload any) {
	if len(handlers) == 0 {
		return
	}

	if rt.closed.Load() {
		rt.dropped.Add(uint64(len(handlers)))
		rt.cfg.logger.WarnContext(ctx, "dropping emission on closed bus",
			"topic", handlers[0].topic,
			"event", handlers[0].event,
			"handlers", len(handlers),
		)
		return
	}

	if rt.deferred == nil {
		for _, inv := range handlers {
			rt.immediate.Dispatch(ctx, payload, inv)
		}
		return
	}

	// Scheduled invocations outlive the caller's context.
	detached := context.WithoutCancel(ctx)
	for _, inv := range handlers {
		if err := rt.deferred.Enqueue(detached, payload, inv); err != nil {
			rt.dropped.Add(1)
			rt.cfg.logger.WarnContext(ctx, "dropping deferred invocation",
				"topic", inv.topic,
				"event", inv.event,
				"handler", inv.id,
				"err", err,
			)
		}
	}
}

// startOut opens the span for one Out call.
func (rt *runtime) startOut(ctx context.Context, topic, event string) (context.Context, trace.Span) {
	rt.emitted.Add(1)
	return rt.cfg.tracer.Start(ctx, "cables.out",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("cables.topic", topic),
			attribute.String("cables.event", event),
			attribute.String("cables.mode", rt.cfg.mode.String()),
		),
	)
}

func (rt *runtime) flush(ctx context.Context) error {
	if rt.deferred == nil {
		return nil
	}
	return rt.deferred.Flush(ctx)
}

func (rt *runtime) close(ctx context.Context) error {
	if rt.closed.Swap(true) {
		return ErrClosed
	}
	if rt.deferred == nil {
		return nil
	}
	return rt.deferred.Stop(ctx)
}

func (rt *runtime) stats() Stats {
	s := Stats{
		Mode:    rt.cfg.mode,
		Emitted: rt.emitted.Load(),
		Dropped: rt.dropped.Load(),
		Closed:  rt.closed.Load(),
	}
	total := s.add(rt.immediate.Stats())
	if rt.deferred != nil {
		total += s.add(rt.deferred.Stats())
	}
	if s.Invoked > 0 {
		s.AvgDuration = total / time.Duration(s.Invoked)
	}
	return s
}
