// Package queue serializes bridge invocations: at most one subprocess is
// active at a time, and inbound requests run in arrival order. A dedicated
// worker pulls tasks one at a time from an unbounded FIFO; the depth is
// unbounded because there is a single user whose typing naturally limits
// load.
package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("queue: closed")

// Queue runs submitted tasks strictly one at a time in FIFO order. A failure
// inside task N never prevents task N+1 from running.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	busy   bool
	closed bool
	done   chan struct{}
}

// New creates a Queue and starts its worker.
func New() *Queue {
	q := &Queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// Submit enqueues task without waiting and returns a channel that closes
// once it has run. The queue position is taken before Submit returns, so
// callers that Submit in sequence get FIFO execution in that sequence.
func (q *Queue) Submit(task func()) (<-chan struct{}, error) {
	finished := make(chan struct{})

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.tasks = append(q.tasks, func() {
		defer close(finished)
		task()
	})
	q.cond.Signal()
	q.mu.Unlock()

	return finished, nil
}

// Do enqueues task and blocks the caller until it has finished running.
func (q *Queue) Do(task func()) error {
	finished, err := q.Submit(task)
	if err != nil {
		return err
	}
	<-finished
	return nil
}

// Run submits a result-returning task and waits for its outcome.
func Run[T any](q *Queue, task func() (T, error)) (T, error) {
	var (
		val T
		err error
	)
	if derr := q.Do(func() { val, err = task() }); derr != nil {
		return val, derr
	}
	return val, err
}

// Busy reports whether a task is currently running.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}

// Len returns the number of tasks waiting (not counting a running one).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting tasks, lets already-queued ones finish, and waits
// for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) loop() {
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 && q.closed {
			q.mu.Unlock()
			close(q.done)
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.busy = true
		q.mu.Unlock()

		task()

		q.mu.Lock()
		q.busy = false
		q.mu.Unlock()
	}
}
