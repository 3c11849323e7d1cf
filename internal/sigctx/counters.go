// Package sigctx contains the code that runs in the handler stage of signal
// delivery: per-signal pending counters, the handoff semaphore, and the
// Handler entry point.
//
// Nothing reachable from Handler.Deliver may allocate, take a lock or make a
// call outside the set of async-signal-safe operations (atomic updates and a
// write(2) to the semaphore). Everything that needs more than that lives in
// the dispatcher or the crash report writer.
package sigctx

import "sync/atomic"

// MaxSignal is the largest signal number that has a slot. It covers the Linux
// real-time range (_NSIG-1) and Darwin's 1..31.
const MaxSignal = 64

// NoneSentinel is returned by CheckPendingSignal when no signal is pending.
const NoneSentinel = -1

// SignalRangeCheck reports whether sig has a slot in the pending table.
func SignalRangeCheck(sig int) bool {
	return sig > 0 && sig <= MaxSignal
}

// Counters is the table of pending signal counts, indexed by signal number.
//
// Increment may be called from any number of handler-stage callers. All other
// mutating methods must only be called by the single dispatcher.
type Counters struct {
	slots [MaxSignal + 1]atomic.Uint32
}

// Increment records one delivery of sig. Out-of-range numbers are ignored.
func (c *Counters) Increment(sig int) {
	if !SignalRangeCheck(sig) {
		return
	}
	c.slots[sig].Add(1)
}

// CheckPendingSignal consumes one pending delivery, scanning in ascending
// signal order, and returns its signal number. It returns NoneSentinel when
// every counter is zero.
//
// Only the dispatcher may call this.
func (c *Counters) CheckPendingSignal() int {
	for sig := 1; sig <= MaxSignal; sig++ {
		slot := &c.slots[sig]
		for {
			n := slot.Load()
			if n == 0 {
				break
			}
			if slot.CompareAndSwap(n, n-1) {
				return sig
			}
		}
	}
	return NoneSentinel
}

// Pending returns the number of undelivered occurrences of sig.
func (c *Counters) Pending(sig int) uint32 {
	if !SignalRangeCheck(sig) {
		return 0
	}
	return c.slots[sig].Load()
}

// Reset zeroes every counter. It must not race with the dispatcher.
func (c *Counters) Reset() {
	for i := range c.slots {
		c.slots[i].Store(0)
	}
}
