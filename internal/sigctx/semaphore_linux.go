//go:build linux

package sigctx

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Semaphore is a counting semaphore backed by an eventfd in semaphore mode:
// each write of 1 increments the count, each read blocks until the count is
// non-zero and decrements it by one. Both are async-signal-safe.
type Semaphore struct {
	fd int
}

// postValue is written in native byte order, as eventfd expects.
var postValue uint64 = 1

var postBuf = unsafe.Slice((*byte)(unsafe.Pointer(&postValue)), 8)

// NewSemaphore creates a semaphore with a count of zero.
func NewSemaphore() (*Semaphore, error) {
	fd, err := unix.Eventfd(0, unix.EFD_SEMAPHORE|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create eventfd: %w", err)
	}
	return &Semaphore{fd: fd}, nil
}

// Post increments the semaphore.
func (s *Semaphore) Post() error {
	for {
		_, err := unix.Write(s.fd, postBuf)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// Wait blocks until the semaphore count is positive and decrements it. It
// returns 0 on success and the errno otherwise; callers retry on nonzero.
func (s *Semaphore) Wait() int {
	var buf [8]byte
	_, err := unix.Read(s.fd, buf[:])
	return errnoOf(err)
}

// Close releases the eventfd. No goroutine may be blocked in Wait.
func (s *Semaphore) Close() error {
	return unix.Close(s.fd)
}
