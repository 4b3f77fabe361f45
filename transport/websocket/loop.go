package websocket

import (
	"context"
	"sync"
)

// Loop runs posted tasks one at a time on a single goroutine. Socket
// callbacks and timers post onto it, so the state they touch needs no
// further locking.
//
// Post never blocks. Once the task buffer is full, further tasks queue in
// an unbounded overflow list, so a task may post onto its own loop.
type Loop struct {
	tasks   chan func()
	wake    chan struct{}
	stopped chan struct{}

	mu       sync.Mutex
	overflow []func()
}

// NewLoop creates a loop with the given task buffer.
func NewLoop(buffer int) *Loop {
	return &Loop{
		tasks:   make(chan func(), buffer),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Run executes tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.tasks:
			task()
		case <-l.wake:
			l.drain()
		}
	}
}

// drain runs the buffered tasks and then the overflow. While the overflow
// is non-empty nothing new enters the buffer, so post order is kept.
func (l *Loop) drain() {
	for drained := false; !drained; {
		select {
		case task := <-l.tasks:
			task()
		default:
			drained = true
		}
	}

	l.mu.Lock()
	tasks := l.overflow
	l.overflow = nil
	l.mu.Unlock()

	for _, task := range tasks {
		task()
	}
}

// Post queues f. It reports false when the loop has stopped.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}

	l.mu.Lock()
	if len(l.overflow) == 0 {
		select {
		case l.tasks <- f:
			l.mu.Unlock()
			return true
		default:
		}
	}
	l.overflow = append(l.overflow, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush waits until every task posted before the call has run.
// It must not be called from a task.
func (l *Loop) Flush() {
	done := make(chan struct{})
	if !l.Post(func() { close(done) }) {
		return
	}
	select {
	case <-done:
	case <-l.stopped:
	}
}
