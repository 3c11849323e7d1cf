package mcontext

import "errors"

// MaxRegisters bounds the number of registers any layout reports.
const MaxRegisters = 40

// ErrNilContext is returned when the handle, or the machine context it points
// to, is nil.
var ErrNilContext = errors.New("nil machine context")

// View is a read-only snapshot of the registers in a machine context. It is a
// fixed-size value so that it can live on a signal handler's stack.
type View struct {
	Arch Arch

	IP, SP, FP uint64
	// Fault is the faulting address reported by the OS, when the layout has
	// one (HasFault).
	Fault    uint64
	HasFault bool

	regs [MaxRegisters]uint64
	n    int
}

// Len returns the number of general-purpose registers in the view.
func (v *View) Len() int {
	return v.n
}

// At returns the name and value of the i'th register in ABI order.
func (v *View) At(i int) (name string, value uint64) {
	if i < 0 || i >= v.n {
		return "", 0
	}
	return layouts[v.Arch].Regs[i].Name, v.regs[i]
}

// Register looks a register up by its canonical (lower-case) name.
func (v *View) Register(name string) (uint64, bool) {
	if !v.Arch.Supported() {
		return 0, false
	}
	for i, s := range layouts[v.Arch].Regs[:v.n] {
		if s.Name == name {
			return v.regs[i], true
		}
	}
	return 0, false
}

// Extract reads the registers of the machine context referenced by h using
// the layout table for arch.
//
// Extract does not allocate and takes no locks; it is safe to call from a
// fatal signal handler.
func Extract(arch Arch, h Handle) (View, error) {
	var v View
	if err := ExtractInto(&v, arch, h); err != nil {
		return View{}, err
	}
	return v, nil
}

// ExtractInto is like Extract but fills a caller-provided view.
func ExtractInto(v *View, arch Arch, h Handle) error {
	if !arch.Supported() {
		return ErrUnsupportedArch
	}
	if h.IsNil() {
		return ErrNilContext
	}
	l := &layouts[arch]
	mc := h.at(l.MContextOffset)
	if l.MContextIsPointer {
		mc = h.deref(l.MContextOffset)
		if mc.IsNil() {
			return ErrNilContext
		}
	}
	v.Arch = arch
	v.IP = mc.load(l.IP)
	v.SP = mc.load(l.SP)
	v.FP = mc.load(l.FP)
	v.HasFault = l.Fault.Present()
	v.Fault = mc.load(l.Fault)
	for i := range l.Regs {
		v.regs[i] = mc.load(l.Regs[i])
	}
	v.n = len(l.Regs)
	return nil
}
