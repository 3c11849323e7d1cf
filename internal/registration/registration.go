// Package registration installs and removes the process-level handlers for
// the signals the dispatch mechanism serves.
//
// Ordinary signals go through os/signal. The Go runtime owns their sigaction(2)
// handlers and does not run handlers that non-Go code installed before it. It
// delivers each signal to a channel, and the relay goroutine started here is
// the handler stage that calls into sigctx.
//
// Fatal signals need the machine context, which os/signal does not carry.
// Where NativeFatal is true they are installed directly with sigaction(2),
// saving the previous action. Kernel faults inside the executable and signals
// the crash path never answers are chained to that action, so faults raised by
// Go code still become panics. Elsewhere fatal signals go through the relay
// and are reported without registers.
package registration

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/sigctx"
)

var (
	// ErrAlreadyInstalled is returned by Install on a table with live handlers.
	ErrAlreadyInstalled = errors.New("signal handlers already installed")
	// ErrNotInstalled is returned by Uninstall on an empty table.
	ErrNotInstalled = errors.New("signal handlers not installed")
	// ErrInvalidSignal is returned for signal numbers without a slot.
	ErrInvalidSignal = errors.New("invalid signal number")
)

// Notifier abstracts os/signal so tests can deliver signals without the OS.
type Notifier interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osNotifier struct{}

func (osNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (osNotifier) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

// OSNotifier returns the Notifier backed by os/signal.
func OSNotifier() Notifier {
	return osNotifier{}
}

// relayBuffer is the relay channel capacity. os/signal drops deliveries to a
// full channel, so it must absorb bursts while the relay is descheduled.
const relayBuffer = 128

// Table is the set of installed handlers. Only one set can be live per table.
type Table struct {
	notifier Notifier
	handler  *sigctx.Handler

	mu struct {
		sync.Mutex
		ch        chan os.Signal
		done      chan struct{}
		catcher   *fatalCatcher
		installed []int
	}
}

// NewTable returns an empty table that routes deliveries to h.
func NewTable(n Notifier, h *sigctx.Handler) *Table {
	if n == nil {
		n = OSNotifier()
	}
	return &Table{notifier: n, handler: h}
}

// Install registers handlers for signals, which must be distinct and in range.
func (t *Table) Install(signals []int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.ch != nil {
		return ErrAlreadyInstalled
	}
	if len(signals) == 0 {
		return fmt.Errorf("%w: empty signal set", ErrInvalidSignal)
	}
	var seen [sigctx.MaxSignal + 1]bool
	_, native := t.notifier.(osNotifier)
	native = native && NativeFatal()
	var osSigs []os.Signal
	var fatal []int
	for _, sig := range signals {
		if !sigctx.SignalRangeCheck(sig) {
			return fmt.Errorf("%w: %d", ErrInvalidSignal, sig)
		}
		if seen[sig] {
			return fmt.Errorf("%w: %d listed twice", ErrInvalidSignal, sig)
		}
		seen[sig] = true
		if native && t.handler.IsFatal(sig) {
			fatal = append(fatal, sig)
			continue
		}
		osSigs = append(osSigs, syscall.Signal(sig))
	}

	if len(fatal) > 0 {
		c, err := startFatalCatcher(fatal, t.handler.DeliverFatal)
		if err != nil {
			return fmt.Errorf("failed to install fatal signal handlers: %w", err)
		}
		t.mu.catcher = c
	}
	ch := make(chan os.Signal, relayBuffer)
	done := make(chan struct{})
	// Notify with no signals would subscribe to all of them.
	if len(osSigs) > 0 {
		t.notifier.Notify(ch, osSigs...)
	}
	go t.relay(ch, done)

	t.mu.ch = ch
	t.mu.done = done
	t.mu.installed = append([]int(nil), signals...)
	return nil
}

func (t *Table) relay(ch <-chan os.Signal, done chan<- struct{}) {
	defer close(done)
	for s := range ch {
		sig, ok := s.(syscall.Signal)
		if !ok {
			continue
		}
		t.handler.Deliver(int(sig))
	}
}

// Uninstall removes the handlers and waits for the relay to exit. Stopping
// the channel restores the dispositions that were in effect before Install
// for signals no other os/signal registration still wants, and leaves those
// other registrations untouched. Native fatal handlers are replaced by the
// actions they saved.
func (t *Table) Uninstall() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.ch == nil {
		return ErrNotInstalled
	}
	var err error
	if t.mu.catcher != nil {
		err = t.mu.catcher.stop()
		t.mu.catcher = nil
	}
	t.notifier.Stop(t.mu.ch)
	close(t.mu.ch)
	<-t.mu.done
	t.mu.ch = nil
	t.mu.done = nil
	t.mu.installed = nil
	return err
}

// NativeFatalSignals returns the installed signals whose handler captures the
// machine context.
func (t *Table) NativeFatalSignals() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.catcher == nil {
		return nil
	}
	return t.mu.catcher.installed()
}

// Installed returns the signals that currently have handlers.
func (t *Table) Installed() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.mu.installed...)
}
