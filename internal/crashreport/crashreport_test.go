//go:build unix

package crashreport

import (
	"io"
	"os"
	"runtime"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/mcontext"
)

// reportFile returns a temp file whose descriptor the report is written to,
// and a function returning everything written so far.
func reportFile(t *testing.T) (int, func() string) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "crash")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return int(f.Fd()), func() string {
		_, err := f.Seek(0, io.SeekStart)
		require.NoError(t, err)
		b, err := io.ReadAll(f)
		require.NoError(t, err)
		return string(b)
	}
}

func TestFatalWithContext(t *testing.T) {
	fd, read := reportFile(t)
	var exitCode int
	w := &Writer{
		FD:         fd,
		Arch:       mcontext.LinuxAMD64,
		BinaryHash: [8]byte{0xde, 0xad, 0xbe, 0xef, 0, 1, 2, 3},
		Exit:       func(code int) { exitCode = code },
	}

	// gregs starts at byte 40 of the ucontext_t: index 5 in uint64 units.
	var uc [64]uint64
	const gregs = 5
	uc[gregs+16] = 0x401000 // rip
	uc[gregs+15] = 0x7ffc00 // rsp
	uc[gregs+10] = 0x7ffd00 // rbp
	uc[gregs+13] = 42       // rax
	uc[gregs+22] = 0x10     // cr2

	w.Fatal(11, mcontext.HandleOf(unsafe.Pointer(&uc[0])))
	runtime.KeepAlive(&uc)

	require.Equal(t, ExitCode, exitCode)
	out := read()
	require.True(t, strings.HasPrefix(out, header), out)
	require.True(t, strings.HasSuffix(out, trailer), out)
	require.Contains(t, out, "signal=11 (SIGSEGV)\n")
	require.Contains(t, out, "arch=linux/amd64\n")
	require.Contains(t, out, "binary=deadbeef00010203\n")
	require.Contains(t, out, "pc=0x0000000000401000\n")
	require.Contains(t, out, "sp=0x00000000007ffc00\n")
	require.Contains(t, out, "fp=0x00000000007ffd00\n")
	require.Contains(t, out, "fault=0x0000000000000010\n")
	require.Contains(t, out, "rax=0x000000000000002a\n")
	require.Contains(t, out, "rip=0x0000000000401000\n")
	require.NotContains(t, out, "context=unavailable")
}

func TestFatalWithoutContext(t *testing.T) {
	fd, read := reportFile(t)
	var exitCode int
	w := &Writer{
		FD:   fd,
		Arch: mcontext.DarwinARM64,
		Exit: func(code int) { exitCode = code },
	}
	w.Fatal(6, mcontext.Handle{})

	require.Equal(t, ExitCode, exitCode)
	out := read()
	require.Contains(t, out, "signal=6 (SIGABRT)\n")
	require.Contains(t, out, "context=unavailable (nil machine context)\n")
	require.Contains(t, out, "binary=0000000000000000\n")
	require.NotContains(t, out, "pc=")
}

// Reports larger than the stack buffer are flushed in several writes.
func TestReportSpansFlushes(t *testing.T) {
	fd, read := reportFile(t)
	w := &Writer{FD: fd, Arch: mcontext.LinuxARM64}
	var v mcontext.View
	var uc [128]uint64
	require.NoError(t, mcontext.ExtractInto(&v, mcontext.LinuxARM64, mcontext.HandleOf(unsafe.Pointer(&uc[0]))))
	runtime.KeepAlive(&uc)

	w.Report(7, &v, nil)
	out := read()
	require.Greater(t, len(out), bufSize)
	require.Equal(t, v.Len()+9, strings.Count(out, "\n"), out)
	require.Contains(t, out, "x28=0x0000000000000000\n")
	require.Contains(t, out, "pstate=0x0000000000000000\n")
}

func TestBufferFormatting(t *testing.T) {
	fd, read := reportFile(t)
	b := buffer{fd: fd}
	b.dec(0)
	b.nl()
	b.dec(18446744073709551615)
	b.nl()
	b.hex(0xfedcba9876543210)
	b.flush()
	require.Equal(t, "0\n18446744073709551615\n0xfedcba9876543210", read())
}
