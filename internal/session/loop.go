package session

import (
	"context"
	"sync"
)

// loop serializes every state mutation of a session onto one goroutine.
// post never blocks, so transport and peer callbacks can always hand work over.
type loop struct {
	mu    sync.Mutex
	queue []func()

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newLoop() *loop {
	return &loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// post enqueues fn. It reports false once the loop has stopped.
func (l *loop) post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	case <-l.done:
		return false
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the loop and waits for it. It must not be used from the loop itself.
func (l *loop) call(fn func()) bool {
	ran := make(chan struct{})
	if !l.post(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// stop makes run return after the current item. Queued work is dropped.
func (l *loop) stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

func (l *loop) stopped() bool {
	select {
	case <-l.quit:
		return true
	default:
		return false
	}
}

func (l *loop) next() func() {
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

// run executes queued work until stop is called or ctx ends. onCancel runs
// on the loop when ctx ends first.
func (l *loop) run(ctx context.Context, onCancel func()) {
	defer close(l.done)
	for {
		for fn := l.next(); fn != nil; fn = l.next() {
			fn()
			if l.stopped() {
				return
			}
		}
		select {
		case <-l.wake:
		case <-l.quit:
			return
		case <-ctx.Done():
			onCancel()
			return
		}
	}
}
