package changefeed

import "sync"

// wakeup is a coalescing signal: any number of Notify calls between two
// waits collapse into one wakeup.
//
// The channel is buffered with size 1, so Notify never blocks and is safe to
// call from store commit hooks.
type wakeup struct {
	mu     sync.Mutex
	closed bool
	signal chan struct{}
}

func newWakeup() *wakeup {
	return &wakeup{signal: make(chan struct{}, 1)}
}

// Notify requests a wakeup. No-op after Close.
func (w *wakeup) Notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Wait returns the channel to select on. It is closed by Close.
func (w *wakeup) Wait() <-chan struct{} {
	return w.signal
}

// Close wakes every waiter for good.
func (w *wakeup) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.signal)
}
