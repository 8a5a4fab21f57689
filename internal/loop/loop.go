package loop

import (
	"context"
	"sync"
	"sync/atomic"
)

// Dispatcher schedules callbacks. Sessions post every sink write through
// one, so a sink only ever sees a single writer.
type Dispatcher interface {
	Post(fn func())
	// OnLoop reports whether the caller is running a dispatched callback.
	// Teardown uses it to decide whether it may wait for an in-flight
	// delivery or is being called from inside one.
	OnLoop() bool
}

// Inline runs callbacks immediately on the posting goroutine. Every caller
// counts as being on the loop, so teardown never waits.
type Inline struct{}

func (Inline) Post(fn func()) { fn() }

func (Inline) OnLoop() bool { return true }

// Loop runs posted callbacks one at a time, in order, on a single goroutine.
// Post never blocks, so callbacks may post further work.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}

	// goroutine running Run, 0 before it starts
	owner atomic.Uint64
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. Callbacks posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes callbacks until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) {
	l.owner.Store(goid())
	defer close(l.done)
	for {
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			fn()
		}

		l.mu.Lock()
		closed, pending := l.closed, len(l.queue)
		l.mu.Unlock()
		if pending > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			l.Close()
		case <-l.wake:
		}
	}
}

// OnLoop reports whether the caller is the goroutine executing callbacks.
func (l *Loop) OnLoop() bool {
	owner := l.owner.Load()
	return owner != 0 && owner == goid()
}

// Close stops accepting work. Callbacks already queued still run if Run is active.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}
