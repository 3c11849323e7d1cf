//go:build unix && !linux

package sigctx

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Semaphore is a counting semaphore built on a self-pipe: every post writes
// one byte and every wait consumes one. The write end is non-blocking so a
// post can never stall the handler stage; when the pipe is full the reader
// already has more wakeups queued than it needs, and because the dispatcher
// drains every counter on each wakeup a dropped byte loses no signal.
type Semaphore struct {
	r, w int
}

var postByte = [1]byte{1}

// NewSemaphore creates a semaphore with a count of zero.
func NewSemaphore() (*Semaphore, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	if err := unix.SetNonblock(p[1], true); err != nil {
		unix.Close(p[0])
		unix.Close(p[1])
		return nil, fmt.Errorf("failed to make pipe non-blocking: %w", err)
	}
	return &Semaphore{r: p[0], w: p[1]}, nil
}

// Post increments the semaphore.
func (s *Semaphore) Post() error {
	for {
		_, err := unix.Write(s.w, postByte[:])
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return nil
		}
		return err
	}
}

// Wait blocks until a post is available and consumes it. It returns 0 on
// success and the errno otherwise; callers retry on nonzero.
func (s *Semaphore) Wait() int {
	var buf [1]byte
	n, err := unix.Read(s.r, buf[:])
	if err == nil && n == 0 {
		// Write end closed.
		return int(unix.EPIPE)
	}
	return errnoOf(err)
}

// Close releases both ends of the pipe. No goroutine may be blocked in Wait.
func (s *Semaphore) Close() error {
	errW := unix.Close(s.w)
	if err := unix.Close(s.r); err != nil {
		return err
	}
	return errW
}
