//go:build !unix

package sigctx

import "errors"

// Semaphore is a channel-backed counting semaphore used on platforms without
// POSIX signal delivery.
type Semaphore struct {
	ch chan struct{}
}

const semaphoreCapacity = 1 << 12

// NewSemaphore creates a semaphore with a count of zero.
func NewSemaphore() (*Semaphore, error) {
	return &Semaphore{ch: make(chan struct{}, semaphoreCapacity)}, nil
}

// Post increments the semaphore. A full channel already holds enough
// wakeups, so the post is dropped.
func (s *Semaphore) Post() error {
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return nil
}

// Wait blocks until a post is available.
func (s *Semaphore) Wait() int {
	if _, ok := <-s.ch; !ok {
		return 1
	}
	return 0
}

var errClosed = errors.New("semaphore already closed")

// Close releases the semaphore.
func (s *Semaphore) Close() (err error) {
	defer func() {
		if recover() != nil {
			err = errClosed
		}
	}()
	close(s.ch)
	return nil
}
