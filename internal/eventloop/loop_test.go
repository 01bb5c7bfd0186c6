package eventloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	l := New(0)
	defer func() { _ = l.Shutdown(time.Second) }()

	if cap(l.pending) != 256 {
		t.Errorf("expected default capacity 256, got %d", cap(l.pending))
	}
}

func TestDo(t *testing.T) {
	l := New(8)
	defer func() { _ = l.Shutdown(time.Second) }()

	var ran bool
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	if !ran {
		t.Error("expected task to run before Do returns")
	}
}

func TestPost_FIFO(t *testing.T) {
	l := New(64)
	defer func() { _ = l.Shutdown(time.Second) }()

	var order []int
	for i := 0; i < 50; i++ {
		i := i
		if err := l.Post(func() { order = append(order, i) }); err != nil {
			t.Fatalf("Post() failed: %v", err)
		}
	}

	// Do runs after everything posted before it
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do() failed: %v", err)
	}

	if len(order) != 50 {
		t.Fatalf("expected 50 tasks, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestPost_Full(t *testing.T) {
	l := New(1)
	defer func() { _ = l.Shutdown(time.Second) }()

	block := make(chan struct{})
	started := make(chan struct{})
	_ = l.Post(func() {
		close(started)
		<-block
	})
	<-started

	if err := l.Post(func() {}); err != nil {
		t.Fatalf("expected room for one pending task, got %v", err)
	}
	if err := l.Post(func() {}); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	close(block)

	if stats := l.Stats(); stats.Dropped != 1 {
		t.Errorf("expected 1 dropped task, got %d", stats.Dropped)
	}
}

func TestPanicRecovered(t *testing.T) {
	l := New(4)
	defer func() { _ = l.Shutdown(time.Second) }()

	if err := l.Do(context.Background(), func() { panic("boom") }); err != nil {
		t.Fatalf("Do() failed: %v", err)
	}

	var ran atomic.Bool
	if err := l.Do(context.Background(), func() { ran.Store(true) }); err != nil {
		t.Fatalf("Do() after panic failed: %v", err)
	}
	if !ran.Load() {
		t.Error("expected loop to keep running after a panic")
	}

	stats := l.Stats()
	if stats.Panicked != 1 {
		t.Errorf("expected 1 panicked task, got %d", stats.Panicked)
	}
	if stats.Executed != 1 {
		t.Errorf("expected 1 executed task, got %d", stats.Executed)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	l := New(4)
	defer func() { _ = l.Shutdown(time.Second) }()

	block := make(chan struct{})
	defer close(block)
	_ = l.Post(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := l.Do(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestShutdown(t *testing.T) {
	l := New(4)

	if err := l.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown() failed: %v", err)
	}

	select {
	case <-l.ctx.Done():
	default:
		t.Error("expected context to be canceled")
	}

	if err := l.Post(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Post, got %v", err)
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Do, got %v", err)
	}
}

func TestShutdown_Timeout(t *testing.T) {
	l := New(4)

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	_ = l.Post(func() {
		close(started)
		<-block
	})
	<-started

	if err := l.Shutdown(10 * time.Millisecond); err == nil {
		t.Error("expected shutdown timeout error")
	}
}
