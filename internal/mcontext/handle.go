package mcontext

import "unsafe"

// Handle is an opaque reference to a ucontext_t supplied by the OS to a
// SA_SIGINFO handler. This file is the only place that dereferences it.
type Handle struct {
	p unsafe.Pointer
}

// HandleOf wraps the third argument of a SA_SIGINFO handler.
func HandleOf(ucontext unsafe.Pointer) Handle {
	return Handle{p: ucontext}
}

// IsNil reports whether the handle references nothing.
func (h Handle) IsNil() bool {
	return h.p == nil
}

//go:nosplit
func (h Handle) at(off uintptr) Handle {
	return Handle{p: unsafe.Add(h.p, off)}
}

//go:nosplit
func (h Handle) deref(off uintptr) Handle {
	return Handle{p: *(*unsafe.Pointer)(unsafe.Add(h.p, off))}
}

//go:nosplit
func (h Handle) load(s Slot) uint64 {
	switch s.Size {
	case 8:
		return *(*uint64)(unsafe.Add(h.p, s.Offset))
	case 4:
		return uint64(*(*uint32)(unsafe.Add(h.p, s.Offset)))
	default:
		return 0
	}
}
