package mcontext

// Slot locates one register relative to the start of the machine context.
type Slot struct {
	Name   string
	Offset uintptr
	// Size is 8 or 4. A zero Size marks an absent slot.
	Size uint8
}

// Present reports whether the slot exists in the layout.
func (s Slot) Present() bool {
	return s.Size != 0
}

// Layout describes where the registers live inside a ucontext_t.
//
// The machine context is either embedded in ucontext_t (Linux) or referenced
// through a pointer field (Darwin's uc_mcontext is a struct __darwin_mcontext64 *).
// All register offsets are relative to the start of the machine context.
type Layout struct {
	MContextOffset    uintptr
	MContextIsPointer bool

	IP, SP, FP Slot
	Fault      Slot
	Regs       []Slot
}

// LayoutFor returns the layout table for a.
func LayoutFor(a Arch) (*Layout, error) {
	if !a.Supported() {
		return nil, ErrUnsupportedArch
	}
	return &layouts[a], nil
}

func r64(name string, off uintptr) Slot {
	return Slot{Name: name, Offset: off, Size: 8}
}

// seq lays out consecutive 64-bit registers starting at base.
func seq(base uintptr, names ...string) []Slot {
	s := make([]Slot, len(names))
	for i, n := range names {
		s[i] = r64(n, base+uintptr(i)*8)
	}
	return s
}

func xregs(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = "x" + itoa(i)
	}
	return names
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return string(rune('0'+i/10)) + string(rune('0'+i%10))
}

// Offsets below come from the OS headers:
//
//	linux:  <sys/ucontext.h> and arch/*/include/uapi/asm/{sigcontext,ucontext}.h
//	darwin: <sys/_types/_ucontext.h>, <mach/{i386,arm}/_structs.h>
var layouts = [numArchs]Layout{
	// ucontext_t: uc_flags(8) uc_link(8) uc_stack(24), then mcontext_t whose
	// first member is gregs[NGREG] in REG_R8..REG_CR2 order.
	LinuxAMD64: {
		MContextOffset: 40,
		IP:             r64("rip", 16*8),
		SP:             r64("rsp", 15*8),
		FP:             r64("rbp", 10*8),
		Fault:          r64("cr2", 22*8),
		Regs: seq(0,
			"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
			"rdi", "rsi", "rbp", "rbx", "rdx", "rax", "rcx", "rsp",
			"rip", "eflags", "csgsfs", "err", "trapno"),
	},
	// uc_sigmask is padded to 128 bytes and struct sigcontext is 16-byte
	// aligned: fault_address, regs[31], sp, pc, pstate.
	LinuxARM64: {
		MContextOffset: 176,
		IP:             r64("pc", 264),
		SP:             r64("sp", 256),
		FP:             r64("fp", 8+29*8),
		Fault:          r64("fault_address", 0),
		Regs: append(seq(8, xregs(29)...),
			seq(8+29*8, "fp", "lr", "sp", "pc", "pstate")...),
	},
	// Same ucontext_t prefix as arm64; sc_regs is struct user_regs_struct
	// (pc followed by x1..x31).
	LinuxRISCV64: {
		MContextOffset: 176,
		IP:             r64("pc", 0),
		SP:             r64("sp", 2*8),
		FP:             r64("s0", 8*8),
		Regs: seq(8,
			"ra", "sp", "gp", "tp", "t0", "t1", "t2", "s0", "s1",
			"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
			"s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11",
			"t3", "t4", "t5", "t6"),
	},
	// uc_onstack(4) uc_sigmask(4) uc_stack(24) uc_link(8) uc_mcsize(8), then
	// uc_mcontext pointer. The mcontext starts with __es (16 bytes), then __ss.
	DarwinAMD64: {
		MContextOffset:    48,
		MContextIsPointer: true,
		IP:                r64("rip", 16+16*8),
		SP:                r64("rsp", 16+7*8),
		FP:                r64("rbp", 16+6*8),
		Fault:             r64("faultvaddr", 8),
		Regs: seq(16,
			"rax", "rbx", "rcx", "rdx", "rdi", "rsi", "rbp", "rsp",
			"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
			"rip", "rflags", "cs", "fs", "gs"),
	},
	DarwinARM64: {
		MContextOffset:    48,
		MContextIsPointer: true,
		IP:                r64("pc", 16+32*8),
		SP:                r64("sp", 16+31*8),
		FP:                r64("fp", 16+29*8),
		Fault:             r64("far", 0),
		Regs: append(append(seq(16, xregs(29)...),
			seq(16+29*8, "fp", "lr", "sp", "pc")...),
			Slot{Name: "cpsr", Offset: 16 + 33*8, Size: 4}),
	},
}
