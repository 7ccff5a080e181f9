package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Deferred executes handlers asynchronously on a worker pool.
//
// Enqueue never blocks and never drops: a task that finds the queue full
// runs on its own goroutine. There is no way to retract a task once it has
// been enqueued.
type Deferred struct {
	queueSize int
	workers   int
	executor  *Executor
	reporter  Reporter

	// mu guards queue against concurrent Enqueue and Stop.
	mu      sync.RWMutex
	queue   chan task
	running atomic.Bool
	wg      sync.WaitGroup

	pending pendingTracker

	// Stats
	enqueued    atomic.Uint64
	overflowed  atomic.Uint64
	processed   atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	totalTimeNs atomic.Int64
}

type task struct {
	ctx     context.Context
	payload any
	handler Handler
}

// NewDeferred creates an asynchronous dispatcher. Call Start before Enqueue.
func NewDeferred(opts ...Option) *Deferred {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Deferred{
		queueSize: cfg.queueSize,
		workers:   cfg.workers,
		executor:  NewExecutor(cfg.timeout),
		reporter:  cfg.reporter,
	}
}

// Start starts the worker pool.
func (d *Deferred) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return ErrAlreadyRunning
	}

	d.queue = make(chan task, d.queueSize)
	d.running.Store(true)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(d.queue)
	}

	return nil
}

// Stop refuses new tasks and waits for every scheduled task, including
// overflow goroutines, to finish or until ctx is done. Called from inside a
// task it waits for that task too, so it only returns when ctx is done.
func (d *Deferred) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.running.Store(false)
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return d.pending.wait(ctx)
}

// Enqueue schedules handler to run with payload.
// Returns ErrNotRunning if the dispatcher has not been started or was stopped.
func (d *Deferred) Enqueue(ctx context.Context, payload any, handler Handler) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.running.Load() {
		return ErrNotRunning
	}

	t := task{ctx: ctx, payload: payload, handler: handler}
	d.pending.add()
	d.enqueued.Add(1)

	select {
	case d.queue <- t:
	default:
		d.overflowed.Add(1)
		go d.run(t)
	}

	return nil
}

// Flush waits until every task scheduled so far has finished or ctx is done.
// Called from inside a task it waits for that task too, so it only returns
// when ctx is done.
func (d *Deferred) Flush(ctx context.Context) error {
	return d.pending.wait(ctx)
}

func (d *Deferred) worker(queue <-chan task) {
	defer d.wg.Done()
	for t := range queue {
		d.run(t)
	}
}

func (d *Deferred) run(t task) {
	defer d.pending.done()

	d.processed.Add(1)
	result := d.executor.Execute(t.ctx, t.payload, t.handler)

	d.totalTimeNs.Add(result.Duration.Nanoseconds())
	switch {
	case result.Panicked:
		d.panicked.Add(1)
	case result.Error != nil:
		d.failed.Add(1)
	default:
		d.succeeded.Add(1)
	}

	report(t.ctx, d.reporter, t.payload, t.handler, result)
}

// IsRunning returns true if the dispatcher accepts tasks.
func (d *Deferred) IsRunning() bool {
	return d.running.Load()
}

// QueueDepth returns the number of tasks waiting in the queue.
func (d *Deferred) QueueDepth() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running.Load() {
		return 0
	}
	return len(d.queue)
}

// Stats returns dispatcher statistics.
func (d *Deferred) Stats() Stats {
	processed := d.processed.Load()
	totalNs := d.totalTimeNs.Load()

	var avgNs int64
	if processed > 0 {
		avgNs = totalNs / int64(processed)
	}

	return Stats{
		Dispatched:    processed,
		Succeeded:     d.succeeded.Load(),
		Failed:        d.failed.Load(),
		Panicked:      d.panicked.Load(),
		Enqueued:      d.enqueued.Load(),
		Overflowed:    d.overflowed.Load(),
		Pending:       d.pending.count(),
		QueueDepth:    d.QueueDepth(),
		TotalDuration: time.Duration(totalNs),
		AvgDuration:   time.Duration(avgNs),
	}
}

// pendingTracker counts in-flight tasks and wakes waiters when it reaches
// zero. Unlike sync.WaitGroup it allows add to race with wait.
type pendingTracker struct {
	mu      sync.Mutex
	n       int
	waiters []chan struct{}
}

func (p *pendingTracker) add() {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
}

func (p *pendingTracker) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n--
	if p.n == 0 {
		for _, ch := range p.waiters {
			close(ch)
		}
		p.waiters = nil
	}
}

func (p *pendingTracker) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func (p *pendingTracker) wait(ctx context.Context) error {
	p.mu.Lock()
	if p.n == 0 {
		p.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
