// Package ownership arbitrates which isolate in the process owns the signal
// dispatch mechanism. At most one isolate holds the claim at any time.
package ownership

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Result is the outcome of Open and Close. Its numeric values are part of the
// external interface.
type Result int

const (
	Success Result = iota
	AlreadyClaimed
	InitError
	// Error is returned by Close for a non-owner caller or a failed teardown.
	Error
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case AlreadyClaimed:
		return "already claimed"
	case InitError:
		return "initialization error"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// ErrNotOwner is returned by Close when the caller does not hold the claim.
var ErrNotOwner = errors.New("caller does not own the signal dispatch mechanism")

// Token is the process-wide ownership flag.
type Token struct {
	claimed atomic.Bool
	// owner is set once setup has succeeded and cleared when Close begins.
	owner atomic.Pointer[uuid.UUID]
}

var process Token

// Process returns the token shared by every isolate in the process.
func Process() *Token {
	return &process
}

// Open claims the token for id and runs setup. If another isolate holds the
// claim, Open returns AlreadyClaimed without side effects. If setup fails the
// claim is released and InitError is returned along with the cause.
func (t *Token) Open(id uuid.UUID, setup func() error) (Result, error) {
	if !t.claimed.CompareAndSwap(false, true) {
		return AlreadyClaimed, nil
	}
	if setup != nil {
		if err := setup(); err != nil {
			t.claimed.Store(false)
			return InitError, fmt.Errorf("failed to set up signal dispatch: %w", err)
		}
	}
	t.owner.Store(&id)
	return Success, nil
}

// Close runs teardown and releases the claim. Only the current owner may
// close; any other caller gets Error and ErrNotOwner. The claim is released
// even when teardown fails, in which case Error is returned with the cause.
func (t *Token) Close(id uuid.UUID, teardown func() error) (Result, error) {
	owner := t.owner.Load()
	if owner == nil || *owner != id || !t.owner.CompareAndSwap(owner, nil) {
		return Error, fmt.Errorf("isolate %s: %w", id, ErrNotOwner)
	}
	var err error
	if teardown != nil {
		err = teardown()
	}
	t.claimed.Store(false)
	if err != nil {
		return Error, fmt.Errorf("failed to tear down signal dispatch: %w", err)
	}
	return Success, nil
}

// Owner returns the current owner, if any.
func (t *Token) Owner() (uuid.UUID, bool) {
	p := t.owner.Load()
	if p == nil {
		return uuid.UUID{}, false
	}
	return *p, true
}

// Claimed reports whether any isolate holds or is acquiring the claim.
func (t *Token) Claimed() bool {
	return t.claimed.Load()
}
