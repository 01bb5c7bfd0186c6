// Package eventloop provides the single logical thread that owns the walk
// session. Commands from transports and callbacks from location sources are
// queued here and executed one at a time in arrival order.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrFull is returned when the pending queue has no room
	ErrFull = errors.New("event loop queue is full")
	// ErrClosed is returned after Shutdown
	ErrClosed = errors.New("event loop is closed")
)

// Stats describes loop activity
type Stats struct {
	Posted   uint64
	Executed uint64
	Dropped  uint64
	Panicked uint64
	Pending  int
}

type task struct {
	fn       func()
	queuedAt time.Time
	done     chan struct{}
}

// Loop runs posted functions sequentially on one goroutine
type Loop struct {
	mu      sync.RWMutex
	stats   Stats
	pending chan *task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a loop with room for capacity pending tasks and starts it
func New(capacity int) *Loop {
	if capacity <= 0 {
		capacity = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		pending: make(chan *task, capacity),
		ctx:     ctx,
		cancel:  cancel,
	}

	l.wg.Add(1)
	go l.run()

	return l
}

// Post queues fn without waiting for it to run
func (l *Loop) Post(fn func()) error {
	_, err := l.enqueue(fn, nil)
	return err
}

// Do queues fn and waits until it has run, ctx is done, or the loop stops.
// It must not be called from inside a task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	t, err := l.enqueue(fn, make(chan struct{}))
	if err != nil {
		return err
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		// The task may still have completed just before shutdown
		select {
		case <-t.done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Stats returns loop counters
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := l.stats
	s.Pending = len(l.pending)
	return s
}

// Shutdown stops the loop. Pending tasks are discarded.
func (l *Loop) Shutdown(timeout time.Duration) error {
	l.mu.Lock()
	l.cancel()
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (l *Loop) enqueue(fn func(), done chan struct{}) (*task, error) {
	// Holding the lock orders enqueue against Shutdown
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx.Err() != nil {
		return nil, ErrClosed
	}

	t := &task{fn: fn, queuedAt: time.Now(), done: done}

	select {
	case l.pending <- t:
		l.stats.Posted++
		return t, nil
	default:
		l.stats.Dropped++
		return nil, ErrFull
	}
}

// run processes tasks until the loop is cancelled
func (l *Loop) run() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case t := <-l.pending:
			l.execute(t)
		}
	}
}

// execute runs a single task, recovering panics so the loop survives
func (l *Loop) execute(t *task) {
	defer func() {
		if t.done != nil {
			close(t.done)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			l.mu.Lock()
			l.stats.Panicked++
			l.mu.Unlock()
			log.Error().
				Interface("panic", r).
				Dur("queued_for", time.Since(t.queuedAt)).
				Msg("Event loop task panicked")
		}
	}()

	t.fn()

	l.mu.Lock()
	l.stats.Executed++
	l.mu.Unlock()
}
