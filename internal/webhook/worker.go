package webhook

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Job is one unit of review work.
type Job func(ctx context.Context)

// ErrQueueFull is returned by Submit when the queue is at capacity.
var ErrQueueFull = errors.New("worker pool queue is full")

// ErrStopped is returned by Submit after Stop has begun.
var ErrStopped = errors.New("worker pool is stopped")

// WorkerPool runs review jobs on a fixed set of goroutines. Jobs queued at
// shutdown are drained before Stop returns.
type WorkerPool struct {
	queue   chan Job
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:   make(chan Job, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *WorkerPool) Start() {
	slog.Info("starting worker pool", "workers", p.workers, "queue_size", cap(p.queue))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the queue, drains remaining jobs, and cancels the pool
// context that running jobs observe. Submit calls racing with Stop, such as
// a debounce timer firing mid-shutdown, get ErrStopped instead of panicking
// on the closed queue.
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool")
	p.mu.Lock()
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
	slog.Info("worker pool stopped")
}

// Submit queues a job without blocking.
func (p *WorkerPool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for job := range p.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic in review worker",
						"worker_id", id, "panic", r, "stack", string(debug.Stack()))
				}
			}()
			job(p.ctx)
		}()
	}
}
