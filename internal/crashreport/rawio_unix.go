//go:build unix

package crashreport

import "golang.org/x/sys/unix"

// rawWrite performs one write(2), retrying on EINTR. ok is false when the
// descriptor cannot make progress.
func rawWrite(fd int, p []byte) (n int, ok bool) {
	for {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	}
}

func rawExit(code int) {
	unix.Exit(code)
}
