//go:build !unix

package crashreport

import "syscall"

func rawWrite(fd int, p []byte) (n int, ok bool) {
	if fd != 2 {
		return 0, false
	}
	n, err := syscall.Write(syscall.Stderr, p)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func rawExit(code int) {
	syscall.Exit(code)
}
