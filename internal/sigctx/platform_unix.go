//go:build unix

package sigctx

import "golang.org/x/sys/unix"

func errnoOf(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := err.(unix.Errno); ok && e != 0 {
		return int(e)
	}
	return 1
}

// Name returns the conventional name of sig ("SIGSEGV"), or "" when unknown.
// It does not allocate.
func Name(sig int) string {
	if !SignalRangeCheck(sig) {
		return ""
	}
	return unix.SignalName(unix.Signal(sig))
}
