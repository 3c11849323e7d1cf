//go:build linux || darwin

package registration

import "golang.org/x/sys/unix"

// OsSupported returns whether signals can be delivered on this OS.
func OsSupported() bool {
	return true
}

// DefaultSignals are the ordinary signals handed to the dispatcher when the
// isolate does not configure its own set.
func DefaultSignals() []int {
	return []int{
		int(unix.SIGHUP),
		int(unix.SIGINT),
		int(unix.SIGTERM),
		int(unix.SIGUSR1),
		int(unix.SIGUSR2),
	}
}

// DefaultFatalSignals take the crash path.
func DefaultFatalSignals() []int {
	return []int{
		int(unix.SIGILL),
		int(unix.SIGABRT),
		int(unix.SIGFPE),
		int(unix.SIGBUS),
		int(unix.SIGSEGV),
	}
}
