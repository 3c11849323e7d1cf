package sigctx

import "github.com/DataExMachina-dev/sigdispatch-go/internal/mcontext"

// FatalFunc handles a fatal signal. In production it writes a crash report
// and terminates the process, so it does not return.
type FatalFunc func(sig int, ctx mcontext.Handle)

// Poster is the signal-safe half of the handoff semaphore.
type Poster interface {
	Post() error
}

// Handler is the handler-stage entry point. It is configured before the OS
// handlers are installed and is read-only afterwards.
type Handler struct {
	counters *Counters
	sema     Poster
	onFatal  FatalFunc
	fatal    [MaxSignal + 1]bool
}

// NewHandler returns a Handler that records ordinary signals in counters and
// wakes the dispatcher through sema. Signals marked with SetFatal go to
// onFatal instead.
func NewHandler(counters *Counters, sema Poster, onFatal FatalFunc) *Handler {
	return &Handler{
		counters: counters,
		sema:     sema,
		onFatal:  onFatal,
	}
}

// SetFatal marks sig as fatal. Must be called before installation.
func (h *Handler) SetFatal(sig int) {
	if SignalRangeCheck(sig) {
		h.fatal[sig] = true
	}
}

// IsFatal reports whether sig takes the crash path.
func (h *Handler) IsFatal(sig int) bool {
	return SignalRangeCheck(sig) && h.fatal[sig]
}

// Deliver records one delivery of sig and wakes the dispatcher. Fatal signals
// that reach Deliver came through os/signal, so they are routed to the crash
// path without a machine context. Out-of-range signals are ignored.
func (h *Handler) Deliver(sig int) {
	if !SignalRangeCheck(sig) {
		return
	}
	if h.fatal[sig] {
		h.DeliverFatal(sig, mcontext.Handle{})
		return
	}
	h.counters.Increment(sig)
	// Nothing useful can be done with a failed post here. The counter is
	// already visible and the next successful post drains it.
	_ = h.sema.Post()
}

// DeliverFatal runs the crash path for sig on an ordinary goroutine. ctx
// references a copy of the ucontext_t that the native fatal handler saved
// before waking that goroutine, or is nil when the signal was relayed.
func (h *Handler) DeliverFatal(sig int, ctx mcontext.Handle) {
	if h.onFatal != nil {
		h.onFatal(sig, ctx)
	}
}
