// Package threadpool implements a bounded worker pool, grounded on the
// original ThreadPool type (thread_pool.c++, thread_pool/enqueue.c++,
// thread_pool/worker_.c++): a fixed number of workers pull tasks off a
// shared queue until told to stop. The original uses a std::queue
// guarded by a mutex/condvar; Go's buffered channel gives the same FIFO
// task queue with less code.
package threadpool

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStopped is returned by Enqueue once the pool has been shut down.
var ErrStopped = errors.New("threadpool: enqueue on stopped pool")

// Pool is a bounded worker pool over a task queue.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// New starts a Pool with the given number of workers, each named
// "neonsignal->(N)" truncated to the platform thread-name limit, matching
// the original's std::format("neonsignal->({})", i).
func New(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{tasks: make(chan func(), workers*64)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(index int) {
	defer p.wg.Done()
	setThreadName(fmt.Sprintf("neonsignal->(%d)", index))
	for task := range p.tasks {
		task()
	}
}

// Enqueue submits a task for execution by some worker. It returns
// ErrStopped if Stop has already been called. mu is held for the
// duration of the send so a concurrent Stop cannot close the channel
// out from under it.
func (p *Pool) Enqueue(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	p.tasks <- task
	return nil
}

// Stop signals all workers to drain remaining tasks and exit, then
// blocks until they have joined. It is safe to call once; a second call
// is a no-op.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
