// Package crashreport writes the diagnostic report for a fatal signal and
// terminates the process.
//
// The report is produced inside the fatal signal path, so it is formatted
// into a fixed buffer on the stack and written with raw write(2) calls on an
// already-open descriptor. Nothing here goes through fmt, os.File or the
// allocator.
package crashreport

import (
	"github.com/DataExMachina-dev/sigdispatch-go/internal/mcontext"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/sigctx"
)

// ExitCode is the process exit status reserved for termination by this
// subsystem.
const ExitCode = 99

const (
	header  = "=== sigdispatch fatal signal ===\n"
	trailer = "=== end ===\n"
)

// Writer produces crash reports. It is configured when the handlers are
// installed and only read on the crash path.
type Writer struct {
	// FD is the descriptor the report is written to, typically 2.
	FD int
	// Arch selects the machine context layout.
	Arch mcontext.Arch
	// BinaryHash fingerprints the running executable.
	BinaryHash [8]byte
	// Exit terminates the process. Defaults to an immediate exit(2).
	Exit func(code int)
}

// Fatal is a sigctx.FatalFunc: it extracts the registers from ctx, writes the
// report and exits with ExitCode.
func (w *Writer) Fatal(sig int, ctx mcontext.Handle) {
	var v mcontext.View
	err := mcontext.ExtractInto(&v, w.Arch, ctx)
	w.Report(sig, &v, err)
	exit := w.Exit
	if exit == nil {
		exit = rawExit
	}
	exit(ExitCode)
}

// Report writes the report for sig. When viewErr is non-nil the registers are
// replaced by a note that the context is unavailable.
func (w *Writer) Report(sig int, v *mcontext.View, viewErr error) {
	b := buffer{fd: w.FD}
	b.str(header)

	b.str("signal=")
	b.dec(uint64(sig))
	if name := sigctx.Name(sig); name != "" {
		b.str(" (")
		b.str(name)
		b.str(")")
	}
	b.nl()

	b.str("arch=")
	b.str(w.Arch.String())
	b.nl()

	b.str("binary=")
	for _, c := range w.BinaryHash {
		b.putByte(hexDigits[c>>4])
		b.putByte(hexDigits[c&0xf])
	}
	b.nl()

	if viewErr != nil {
		b.str("context=unavailable (")
		b.str(viewErr.Error())
		b.str(")\n")
	} else {
		b.reg("pc", v.IP)
		b.reg("sp", v.SP)
		b.reg("fp", v.FP)
		if v.HasFault {
			b.reg("fault", v.Fault)
		}
		for i := 0; i < v.Len(); i++ {
			b.reg(v.At(i))
		}
	}
	b.str(trailer)
	b.flush()
}
