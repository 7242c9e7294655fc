package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ericomondi/e-api/pkg/logger"
)

var ErrPoolStopped = errors.New("worker pool stopped")

type WorkerHandler = func(workerIndex int, job interface{})

// Pool runs a fixed number of goroutines over a buffered job channel.
// Signal handling is left to the caller; Stop drains nothing and returns
// once every worker has exited.
type Pool struct {
	jobs           chan interface{}
	numberOfWorker int
	do             WorkerHandler
	quit           chan struct{}
	stopOnce       sync.Once
	waiter         sync.WaitGroup
}

func NewPool(bufferSize, numberOfWorkers int) *Pool {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Pool{
		jobs:           make(chan interface{}, bufferSize),
		numberOfWorker: numberOfWorkers,
		quit:           make(chan struct{}),
	}
}

func (p *Pool) Size() int {
	return p.numberOfWorker
}

// Pending returns the number of queued jobs not yet picked up.
func (p *Pool) Pending() int64 {
	return int64(len(p.jobs))
}

func (p *Pool) SetWorker(worker WorkerHandler) {
	p.do = worker
}

// Enqueue blocks until a worker slot in the buffer is free, ctx is done or
// the pool is stopped.
func (p *Pool) Enqueue(ctx context.Context, job interface{}) error {
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

// Start launches the workers and returns immediately.
func (p *Pool) Start() error {
	if p.do == nil {
		return errors.New("worker handler is not set")
	}
	p.waiter.Add(p.numberOfWorker)
	for i := 0; i < p.numberOfWorker; i++ {
		go func(index int) {
			defer p.waiter.Done()
			for {
				select {
				case job := <-p.jobs:
					p.do(index, job)
				case <-p.quit:
					return
				}
			}
		}(i)
	}
	return nil
}

// Stop signals every worker to exit and waits for in-flight jobs.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		logger.Info("worker pool is shutting down", "workers", p.numberOfWorker, "pending", len(p.jobs))
		close(p.quit)
	})
	p.waiter.Wait()
}
