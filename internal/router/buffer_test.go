package router

import (
	"sync"
	"testing"
)

func TestGrowableBuffer_FIFO(t *testing.T) {
	b := NewGrowableBuffer[int](4)

	for i := 1; i <= 3; i++ {
		if !b.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	for want := 1; want <= 3; want++ {
		got, ok := b.Receive()
		if !ok {
			t.Fatal("Receive returned closed")
		}
		if got != want {
			t.Errorf("Receive = %d, want %d", got, want)
		}
	}
}

func TestGrowableBuffer_GrowsWhenFull(t *testing.T) {
	b := NewGrowableBuffer[int](2)

	for i := 0; i < 10; i++ {
		if !b.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	if got := b.Len(); got != 10 {
		t.Errorf("Len = %d, want 10", got)
	}
	if got := b.Cap(); got < 10 {
		t.Errorf("Cap = %d, want >= 10", got)
	}
	if got := b.Stats().ResizeCount; got == 0 {
		t.Error("ResizeCount = 0, want growth")
	}

	// Order survives the resizes.
	for want := 0; want < 10; want++ {
		got, ok := b.TryReceive()
		if !ok || got != want {
			t.Fatalf("TryReceive = %d, %v, want %d, true", got, ok, want)
		}
	}
}

func TestGrowableBuffer_GrowPreservesWrappedOrder(t *testing.T) {
	b := NewGrowableBuffer[int](4)

	// Advance head so the ring wraps before growing.
	for i := 0; i < 3; i++ {
		b.Send(i)
	}
	b.TryReceive()
	b.TryReceive()
	for i := 3; i < 8; i++ {
		b.Send(i)
	}

	for want := 2; want < 8; want++ {
		got, ok := b.TryReceive()
		if !ok || got != want {
			t.Fatalf("TryReceive = %d, %v, want %d, true", got, ok, want)
		}
	}
	if _, ok := b.TryReceive(); ok {
		t.Error("TryReceive on empty buffer returned ok")
	}
}

func TestGrowableBuffer_TryReceiveEmpty(t *testing.T) {
	b := NewGrowableBuffer[string](4)
	if v, ok := b.TryReceive(); ok {
		t.Errorf("TryReceive on empty = %q, true, want false", v)
	}
}

func TestGrowableBuffer_CloseDrains(t *testing.T) {
	b := NewGrowableBuffer[int](4)
	b.Send(1)
	b.Send(2)
	b.Close()

	if b.Send(3) {
		t.Error("Send after Close returned true")
	}

	// Remaining items are still receivable after close.
	for want := 1; want <= 2; want++ {
		got, ok := b.Receive()
		if !ok || got != want {
			t.Fatalf("Receive = %d, %v, want %d, true", got, ok, want)
		}
	}
	if _, ok := b.Receive(); ok {
		t.Error("Receive on closed empty buffer returned ok")
	}
}

func TestGrowableBuffer_CloseUnblocksReceiver(t *testing.T) {
	b := NewGrowableBuffer[int](4)

	done := make(chan bool)
	go func() {
		_, ok := b.Receive()
		done <- ok
	}()

	b.Close()
	if ok := <-done; ok {
		t.Error("blocked Receive returned ok after Close")
	}
}

func TestGrowableBuffer_ConcurrentSendReceive(t *testing.T) {
	b := NewGrowableBuffer[int](8)
	const n = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			b.Send(i)
		}
		b.Close()
	}()

	var received int
	for {
		_, ok := b.Receive()
		if !ok {
			break
		}
		received++
	}
	wg.Wait()

	if received != n {
		t.Errorf("received %d items, want %d", received, n)
	}
	stats := b.Stats()
	if stats.TotalIn != n || stats.TotalOut != n {
		t.Errorf("TotalIn/TotalOut = %d/%d, want %d/%d", stats.TotalIn, stats.TotalOut, n, n)
	}
}
