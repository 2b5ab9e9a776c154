package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pccr10001/gsmlink/internal/at"
)

// signal is a mutual-exclusion token with a bounded wait.
type signal struct {
	name string
	ch   chan struct{}
}

func newSignal(name string) *signal {
	return &signal{name: name, ch: make(chan struct{}, 1)}
}

// acquire takes the token, giving up after timeout or when ctx ends.
func (s *signal) acquire(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return fmt.Errorf("%w: %s", ErrBusy, s.name)
	}
}

func (s *signal) release() {
	select {
	case <-s.ch:
	default:
	}
}

// frameQueue is an unbounded FIFO of reply frames. The reader never blocks
// on it.
type frameQueue struct {
	mu     sync.Mutex
	frames []at.Frame
	notify chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{notify: make(chan struct{}, 1)}
}

func (q *frameQueue) push(f at.Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop waits for the oldest frame. It fails with ErrStopped once done is
// closed.
func (q *frameQueue) pop(ctx context.Context, done <-chan struct{}) (at.Frame, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			q.frames[0] = at.Frame{}
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return f, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return at.Frame{}, ctx.Err()
		case <-done:
			return at.Frame{}, ErrStopped
		}
	}
}

// drain removes and returns every queued frame.
func (q *frameQueue) drain() []at.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.frames
	q.frames = nil
	return out
}
