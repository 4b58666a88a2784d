package queue

import "sync"

// fifo is a thread-safe FIFO of operation ids.
//
// Producers are Submit callers on any goroutine; the processor is the only
// consumer.
type fifo struct {
	mu     sync.Mutex
	ids    []string
	closed bool
}

func newFIFO() *fifo {
	return &fifo{ids: make([]string, 0, 64)}
}

// Enqueue appends id. Returns false once the queue is closed.
func (f *fifo) Enqueue(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	f.ids = append(f.ids, id)
	return true
}

// TryDequeue removes the front id without blocking.
func (f *fifo) TryDequeue() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.ids) == 0 {
		return "", false
	}
	id := f.ids[0]
	// Reset when drained so the backing array does not grow without bound.
	if len(f.ids) == 1 {
		f.ids = f.ids[:0]
	} else {
		f.ids = f.ids[1:]
	}
	return id, true
}

func (f *fifo) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

// Close rejects further Enqueue calls. Already queued ids stay dequeueable.
func (f *fifo) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fifo) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
