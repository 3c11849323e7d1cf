// Package dispatcher runs the single consumer of pending signals. It waits on
// the handoff semaphore, drains the pending counters and invokes the isolate's
// callback outside of signal context.
package dispatcher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/sigctx"
)

// State is the dispatcher's position in its loop.
type State int32

const (
	Idle State = iota
	Waiting
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Semaphore is the consumer side of the handoff semaphore. Post is used to
// unblock the loop on shutdown.
type Semaphore interface {
	Wait() int
	Post() error
}

// Queue yields pending signals. sigctx.Counters implements it.
type Queue interface {
	CheckPendingSignal() int
}

var _ Queue = (*sigctx.Counters)(nil)
var _ Semaphore = (*sigctx.Semaphore)(nil)

// ErrStillRunning is returned by Stop when the goroutine could not be woken
// and did not exit on its own. The semaphore must then stay open.
var ErrStillRunning = errors.New("dispatcher goroutine still running")

// stopWait bounds how long Stop waits for a goroutine it failed to wake.
const stopWait = time.Second

// Delivery describes one callback invocation.
type Delivery struct {
	Signal int
	Seq    uint64
	At     time.Time
}

// Config configures a Dispatcher.
type Config struct {
	// Callback is invoked once per consumed signal.
	Callback func(sig int)
	// ErrorLogger receives callback panics and semaphore errors.
	ErrorLogger func(err error)
}

// Dispatcher owns the goroutine that consumes pending signals.
type Dispatcher struct {
	queue Queue
	sema  Semaphore
	cfg   Config

	state     atomic.Int32
	started   atomic.Bool
	stopping  atomic.Bool
	seq       atomic.Uint64
	delivered [sigctx.MaxSignal + 1]atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	eg        errgroup.Group
	stopWait  time.Duration

	mu struct {
		sync.Mutex
		subs map[chan Delivery]struct{}
	}
}

// New returns a dispatcher in the Idle state. Call Start to run it.
func New(queue Queue, sema Semaphore, cfg Config) *Dispatcher {
	if cfg.Callback == nil {
		cfg.Callback = func(int) {}
	}
	if cfg.ErrorLogger == nil {
		cfg.ErrorLogger = func(error) {}
	}
	d := &Dispatcher{queue: queue, sema: sema, cfg: cfg, stopWait: stopWait}
	d.mu.subs = make(map[chan Delivery]struct{})
	return d
}

// Start launches the dispatch goroutine. Subsequent calls are no-ops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.started.Store(true)
		d.eg.Go(d.run)
	})
}

// Stop asks the goroutine to exit, unblocks it, and waits for it. Signals that
// are pending when Stop is called are delivered before it returns. If the
// goroutine cannot be woken, Stop waits a bounded time for it and returns an
// error wrapping ErrStillRunning if it is still blocked.
func (d *Dispatcher) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		// Settles a concurrent Start and prevents a later one.
		d.startOnce.Do(func() {})
		if d.started.Load() {
			err = d.wake()
		}
		d.state.Store(int32(Stopped))
		d.closeSubscribers()
	})
	return err
}

func (d *Dispatcher) wake() error {
	postErr := d.sema.Post()
	if postErr == nil {
		return d.eg.Wait()
	}
	done := make(chan error, 1)
	go func() { done <- d.eg.Wait() }()
	select {
	case err := <-done:
		// Woken by a post from the handler stage.
		return err
	case <-time.After(d.stopWait):
		return fmt.Errorf("failed to wake dispatcher: %w", errors.Join(postErr, ErrStillRunning))
	}
}

// State returns the current loop state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Delivered returns how many times sig has been dispatched.
func (d *Dispatcher) Delivered(sig int) uint64 {
	if !sigctx.SignalRangeCheck(sig) {
		return 0
	}
	return d.delivered[sig].Load()
}

func (d *Dispatcher) run() error {
	for {
		d.state.Store(int32(Waiting))
		if rc := d.sema.Wait(); rc != 0 {
			// The wait is retried; a failing semaphore after Stop must not spin.
			if d.stopping.Load() {
				d.drain()
				return nil
			}
			d.cfg.ErrorLogger(fmt.Errorf("semaphore wait failed with code %d", rc))
			continue
		}
		d.state.Store(int32(Draining))
		d.drain()
		if d.stopping.Load() {
			return nil
		}
	}
}

// drain consumes every pending signal. A wakeup with nothing pending is
// normal: posts and increments are not paired one to one.
func (d *Dispatcher) drain() {
	for {
		sig := d.queue.CheckPendingSignal()
		if sig == sigctx.NoneSentinel {
			return
		}
		d.invoke(sig)
	}
}

func (d *Dispatcher) invoke(sig int) {
	defer func() {
		if r := recover(); r != nil {
			d.cfg.ErrorLogger(fmt.Errorf("signal %d callback panicked: %v", sig, r))
		}
	}()
	if sigctx.SignalRangeCheck(sig) {
		d.delivered[sig].Add(1)
	}
	d.publish(Delivery{Signal: sig, Seq: d.seq.Add(1), At: time.Now()})
	d.cfg.Callback(sig)
}
