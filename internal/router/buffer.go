package router

import "sync"

// GrowableBuffer is a thread-safe FIFO that doubles its capacity when
// full, so producers never block and never drop.
type GrowableBuffer[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	totalIn     int64
	totalOut    int64
	resizeCount int
}

// NewGrowableBuffer creates a buffer with the given initial capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &GrowableBuffer[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends an item, growing the buffer if it is full. Returns
// false once the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	if b.count == b.capacity {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalIn++

	b.cond.Signal()
	return true
}

// Receive removes and returns the oldest item, blocking until one is
// available or the buffer is closed. Returns false when closed and
// drained.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.takeLocked(), true
}

// TryReceive removes and returns the oldest item without blocking.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.takeLocked(), true
}

// Close marks the buffer closed. Receivers drain remaining items and
// then observe the close.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of buffered items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Stats returns buffer counters.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:       b.count,
		Capacity:    b.capacity,
		TotalIn:     b.totalIn,
		TotalOut:    b.totalOut,
		ResizeCount: b.resizeCount,
	}
}

// BufferStats contains buffer counters.
type BufferStats struct {
	Count       int
	Capacity    int
	TotalIn     int64
	TotalOut    int64
	ResizeCount int
}

// takeLocked pops the head item. Caller holds the lock and has checked
// count > 0.
func (b *GrowableBuffer[T]) takeLocked() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // release reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalOut++
	return item
}

// grow doubles the capacity, unwrapping the ring. Caller holds the lock.
func (b *GrowableBuffer[T]) grow() {
	newBuf := make([]T, b.capacity*2)
	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}
	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = len(newBuf)
	b.resizeCount++
}
