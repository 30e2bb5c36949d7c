// Package qpool bounds how many query resolutions run concurrently.
// Without a cap, a listener facing a flood of cache-miss queries would
// spawn one planner goroutine per request and exhaust the process; qpool
// queues the overflow instead.
package qpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrPoolClosed indicates the pool has been shut down.
	ErrPoolClosed = errors.New("qpool: pool closed")

	// ErrTaskTimeout indicates a task found no room in the queue within
	// QueueTimeout.
	ErrTaskTimeout = errors.New("qpool: task timed out waiting in queue")

	// ErrQueueFull indicates the task queue is full.
	ErrQueueFull = errors.New("qpool: queue full")
)

// Task is one unit of work the pool runs: a planner run, a zone transfer,
// or any other query-bound operation worth bounding.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Config configures a Pool. Zero values fall back to the package
// defaults.
type Config struct {
	// Workers is the number of goroutines draining the queue (default:
	// runtime.NumCPU() * 4).
	Workers int

	// QueueSize bounds how many tasks may wait to be picked up (default:
	// Workers * 100).
	QueueSize int

	// QueueTimeout is how long Submit and SubmitAsync may wait for room in
	// a full queue before rejecting the task with ErrTaskTimeout; it does
	// not apply once a task is queued. Zero means Submit waits without a
	// limit and SubmitAsync rejects a full queue at once with ErrQueueFull.
	QueueTimeout time.Duration

	// PanicHandler, if set, is called with the recovered value when a
	// task panics instead of crashing the worker.
	PanicHandler func(interface{})
}

// Pool is a bounded worker pool gating concurrent query resolutions.
type Pool struct {
	workers      int
	queue        chan *taskWrapper
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	closed       atomic.Bool
	queueSize    int
	queueTimeout time.Duration

	panicHandler func(interface{})

	tasksSubmitted atomic.Uint64
	tasksCompleted atomic.Uint64
	tasksRejected  atomic.Uint64
	tasksFailed    atomic.Uint64
	tasksTimedOut  atomic.Uint64
	totalLatency   atomic.Uint64 // nanoseconds
}

type taskWrapper struct {
	task       Task
	ctx        context.Context
	resultCh   chan error
	submitTime time.Time
}

// New starts a pool and its worker goroutines.
func New(cfg Config) *Pool {
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU() * 4
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = cfg.Workers * 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers:      cfg.Workers,
		queue:        make(chan *taskWrapper, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		queueSize:    cfg.QueueSize,
		queueTimeout: cfg.QueueTimeout,
		panicHandler: cfg.PanicHandler,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case wrapper, ok := <-p.queue:
			if !ok {
				return
			}
			p.executeTask(wrapper)
		}
	}
}

func (p *Pool) executeTask(wrapper *taskWrapper) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			select {
			case wrapper.resultCh <- errors.New("qpool: task panicked"):
			default:
			}
			p.tasksFailed.Add(1)
		}
	}()

	start := time.Now()
	err := wrapper.task.Run(wrapper.ctx)
	p.totalLatency.Add(uint64(time.Since(start).Nanoseconds()))

	select {
	case wrapper.resultCh <- err:
	default:
	}

	if err != nil {
		p.tasksFailed.Add(1)
	} else {
		p.tasksCompleted.Add(1)
	}
}

// Submit queues task and blocks until it completes or ctx is canceled.
// While the queue is full it waits for room, for at most QueueTimeout
// when that is set.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.tasksSubmitted.Add(1)

	wrapper := &taskWrapper{task: task, ctx: ctx, resultCh: make(chan error, 1), submitTime: time.Now()}

	timeoutCtx := ctx
	if p.queueTimeout > 0 {
		var cancel context.CancelFunc
		timeoutCtx, cancel = context.WithTimeout(ctx, p.queueTimeout)
		defer cancel()
	}

	select {
	case p.queue <- wrapper:
		select {
		case err := <-wrapper.resultCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-timeoutCtx.Done():
		p.tasksTimedOut.Add(1)
		return ErrTaskTimeout
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues task without blocking, returning ErrQueueFull if the
// queue has no room.
func (p *Pool) TrySubmit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.tasksSubmitted.Add(1)

	wrapper := &taskWrapper{task: task, ctx: ctx, resultCh: make(chan error, 1), submitTime: time.Now()}

	select {
	case p.queue <- wrapper:
		select {
		case err := <-wrapper.resultCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		p.tasksRejected.Add(1)
		return ErrQueueFull
	}
}

// SubmitAsync queues task and returns without waiting for it to run.
func (p *Pool) SubmitAsync(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.tasksSubmitted.Add(1)

	wrapper := &taskWrapper{task: task, ctx: ctx, resultCh: make(chan error, 1), submitTime: time.Now()}

	if p.queueTimeout > 0 {
		timeoutCtx, cancel := context.WithTimeout(ctx, p.queueTimeout)
		defer cancel()
		select {
		case p.queue <- wrapper:
			return nil
		case <-timeoutCtx.Done():
			p.tasksTimedOut.Add(1)
			return ErrTaskTimeout
		case <-p.ctx.Done():
			return ErrPoolClosed
		}
	}

	select {
	case p.queue <- wrapper:
		return nil
	default:
		p.tasksRejected.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}
	close(p.queue)
	p.wg.Wait()
	p.cancel()
	return nil
}

// CloseTimeout is Close bounded by timeout; in-flight tasks keep running
// in the background if the deadline passes first.
func (p *Pool) CloseTimeout(timeout time.Duration) error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return errors.New("qpool: shutdown timeout exceeded")
	}
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers      int
	QueueSize    int
	QueueDepth   int
	Submitted    uint64
	Completed    uint64
	Rejected     uint64
	Failed       uint64
	TimedOut     uint64
	AvgLatencyNs uint64
	Utilization  float64 // percent of workers estimated busy
}

// GetStats returns a Stats snapshot.
func (p *Pool) GetStats() Stats {
	submitted := p.tasksSubmitted.Load()
	completed := p.tasksCompleted.Load()
	failed := p.tasksFailed.Load()
	rejected := p.tasksRejected.Load()
	timedOut := p.tasksTimedOut.Load()
	totalLatency := p.totalLatency.Load()

	var avgLatency uint64
	if completed > 0 {
		avgLatency = totalLatency / completed
	}

	inProgress := submitted - completed - failed - rejected - timedOut
	var utilization float64
	if p.workers > 0 {
		utilization = float64(inProgress) / float64(p.workers) * 100
		if utilization > 100 {
			utilization = 100
		}
	}

	return Stats{
		Workers:      p.workers,
		QueueSize:    p.queueSize,
		QueueDepth:   len(p.queue),
		Submitted:    submitted,
		Completed:    completed,
		Rejected:     rejected,
		Failed:       failed,
		TimedOut:     timedOut,
		AvgLatencyNs: avgLatency,
		Utilization:  utilization,
	}
}

// QueueDepth returns the current number of queued tasks.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// IsHealthy reports whether the pool looks like it's making progress:
// queue not nearly full, not stuck with zero completions under load, and
// not failing more tasks than it completes.
func (p *Pool) IsHealthy() bool {
	if p.closed.Load() {
		return false
	}
	stats := p.GetStats()

	if float64(stats.QueueDepth)/float64(stats.QueueSize) > 0.95 {
		return false
	}
	if stats.Submitted > 100 && stats.Completed == 0 {
		return false
	}
	if stats.Failed > stats.Completed && stats.Completed > 0 {
		return false
	}
	return true
}
