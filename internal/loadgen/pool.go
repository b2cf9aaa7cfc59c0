package loadgen

import (
	"context"
	"sync"

	errs "github.com/drblury/apilog/internal/runtime/errors"
)

// Job is one unit of simulated traffic. ctx is the pool's context.
type Job func(ctx context.Context)

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
type Pool struct {
	ctx  context.Context
	jobs chan Job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines draining a queue of queueSize jobs. Jobs
// run with ctx; cancelling it does not stop the workers, Close does.
func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		ctx:  ctx,
		jobs: make(chan Job, queueSize),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		job(p.ctx)
	}
}

// Submit blocks until the job is queued or ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errs.ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues the job without waiting and returns ErrQueueFull when
// every slot is taken.
func (p *Pool) TrySubmit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errs.ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return errs.ErrQueueFull
	}
}

// Close stops accepting jobs, lets the workers finish the queue and waits
// for them. It is safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
