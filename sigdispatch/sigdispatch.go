// Package sigdispatch delivers asynchronous OS signals to ordinary Go code and
// writes a register dump before terminating on fatal signals.
//
// The OS signal dispositions are process-wide, so only one Isolate can own
// them at a time. Owners are arbitrated with a lock-free claim: Open on a
// second Isolate reports AlreadyClaimed until the owner calls Close.
//
// Signals are recorded by the handler stage in per-signal counters and a
// semaphore is posted; a single dispatcher goroutine drains the counters in
// ascending signal order and runs the callback for each delivery. Deliveries
// of the same signal that arrive before the handler stage runs may be
// coalesced by the OS.
package sigdispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/crashreport"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/ownership"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/sigctx"
)

// Return codes of Open and Close.
const (
	Success        = int(ownership.Success)
	AlreadyClaimed = int(ownership.AlreadyClaimed)
	InitError      = int(ownership.InitError)
	CloseError     = int(ownership.Error)
)

const (
	// NoneSentinel is returned by CheckPendingSignal when nothing is pending.
	NoneSentinel = sigctx.NoneSentinel
	// MaxSignal is the highest signal number that can be handled.
	MaxSignal = sigctx.MaxSignal
	// ExitCode is the status the process exits with after a fatal signal.
	ExitCode = crashreport.ExitCode
)

// SignalRangeCheck reports whether sig can be handled.
func SignalRangeCheck(sig int) bool {
	return sigctx.SignalRangeCheck(sig)
}

// Isolate is one independent user of the signal dispatch mechanism, such as a
// plugin or an embedded runtime. The zero value is not usable; use
// NewIsolate.
type Isolate struct {
	id    uuid.UUID
	cfg   config
	token *ownership.Token

	conflictLogged atomic.Bool

	mu struct {
		sync.Mutex
		running *session
	}
}

// NewIsolate returns an Isolate configured by opts layered over the
// environment defaults.
func NewIsolate(opts ...Option) *Isolate {
	cfg := makeDefaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.callback == nil {
		cfg.callback = func(int) {}
	}
	if cfg.errorLogger == nil {
		cfg.errorLogger = func(err error) {}
	}
	return &Isolate{
		id:    uuid.New(),
		cfg:   cfg,
		token: ownership.Process(),
	}
}

// ID identifies the isolate in status output and error messages.
func (i *Isolate) ID() uuid.UUID {
	return i.id
}

// Open claims the process signal handlers for this isolate, installs them and
// starts the dispatcher. It returns Success, AlreadyClaimed if another isolate
// (or this one) already holds the claim, or InitError if setup failed, in
// which case nothing stays installed. Failures are reported through the error
// logger; an ownership conflict is reported only once per isolate.
func (i *Isolate) Open() int {
	res, err := i.token.Open(i.id, func() error {
		s, err := startSession(i.id, i.cfg)
		if err != nil {
			return err
		}
		i.setRunning(s)
		return nil
	})
	switch res {
	case ownership.Success:
	case ownership.AlreadyClaimed:
		if i.conflictLogged.CompareAndSwap(false, true) {
			owner, _ := i.token.Owner()
			i.cfg.errorLogger(fmt.Errorf(
				"isolate %s: signal handlers already claimed by isolate %s", i.id, owner))
		}
	default:
		i.cfg.errorLogger(fmt.Errorf("isolate %s: %w", i.id, err))
	}
	return int(res)
}

// Close uninstalls the handlers, stops the dispatcher after it has delivered
// every recorded signal and releases the claim. Calling Close on an isolate
// that does not own the handlers is an error.
func (i *Isolate) Close() int {
	res, err := i.token.Close(i.id, func() error {
		s := i.setRunning(nil)
		if s == nil {
			return nil
		}
		return s.stop()
	})
	if err != nil {
		i.cfg.errorLogger(err)
	}
	return int(res)
}

func (i *Isolate) setRunning(s *session) *session {
	i.mu.Lock()
	defer i.mu.Unlock()
	prev := i.mu.running
	i.mu.running = s
	return prev
}

func (i *Isolate) running() *session {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mu.running
}

// AwaitSemaphore blocks until the handler stage posts. Wakeups may be
// spurious. It returns 0, or a nonzero code after which the caller should
// check Closed and retry the wait while it is false. Close wakes a blocked
// caller and keeps the semaphore open until that caller has returned.
// Only for use with WithManualDispatch:
//
//	for !iso.Closed() {
//		if iso.AwaitSemaphore() != 0 {
//			continue
//		}
//		for sig := iso.CheckPendingSignal(); sig != sigdispatch.NoneSentinel; sig = iso.CheckPendingSignal() {
//			handle(sig)
//		}
//	}
func (i *Isolate) AwaitSemaphore() int {
	s := i.running()
	if s == nil || s.disp != nil {
		return -1
	}
	if !s.enterWait() {
		return -1
	}
	defer s.exitWait()
	return s.sema.Wait()
}

// Closed reports whether i does not currently own the signal handlers. A
// manual dispatch loop exits once it becomes true.
func (i *Isolate) Closed() bool {
	return i.running() == nil
}

// CheckPendingSignal consumes one pending delivery and returns its signal
// number, or NoneSentinel. Pending signals are returned in ascending order.
// It must only be called from the single goroutine running the manual
// dispatch loop.
func (i *Isolate) CheckPendingSignal() int {
	s := i.running()
	if s == nil || s.disp != nil {
		return NoneSentinel
	}
	return pending.CheckPendingSignal()
}

// StatusAddr returns the address of the status service, or "" when it is not
// being served by this isolate.
func (i *Isolate) StatusAddr() string {
	s := i.running()
	if s == nil || s.status == nil {
		return ""
	}
	addr := s.status.Addr()
	if addr == nil {
		return ""
	}
	return addr.String()
}
