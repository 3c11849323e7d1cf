// Package mcontext maps the machine context that the OS hands to a signal
// handler (a ucontext_t) onto a uniform register view.
//
// Everything in this package must be callable from a fatal signal handler:
// no allocation, no locks. Architecture differences are expressed as data in
// the layout tables rather than as branches in the extraction routine.
package mcontext

import (
	"errors"
	"runtime"
)

// Arch identifies an OS/CPU pair with a known ucontext_t layout.
type Arch uint8

const (
	Unknown Arch = iota
	LinuxAMD64
	LinuxARM64
	LinuxRISCV64
	DarwinAMD64
	DarwinARM64

	numArchs
)

var archNames = [numArchs]string{
	Unknown:      "unknown",
	LinuxAMD64:   "linux/amd64",
	LinuxARM64:   "linux/arm64",
	LinuxRISCV64: "linux/riscv64",
	DarwinAMD64:  "darwin/amd64",
	DarwinARM64:  "darwin/arm64",
}

func (a Arch) String() string {
	if a >= numArchs {
		return archNames[Unknown]
	}
	return archNames[a]
}

// Supported returns whether a has a layout table.
func (a Arch) Supported() bool {
	return a != Unknown && a < numArchs
}

// ErrUnsupportedArch is returned for OS/architecture pairs that have no
// layout table.
var ErrUnsupportedArch = errors.New("unsupported OS/architecture combination")

// ArchFor returns the tag for the given GOOS/GOARCH pair, or Unknown.
func ArchFor(goos, goarch string) Arch {
	for a := Arch(1); a < numArchs; a++ {
		if archNames[a] == goos+"/"+goarch {
			return a
		}
	}
	return Unknown
}

// hostArch is selected once at process start.
var hostArch = ArchFor(runtime.GOOS, runtime.GOARCH)

// HostArch returns the tag of the running process.
func HostArch() (Arch, error) {
	if !hostArch.Supported() {
		return Unknown, ErrUnsupportedArch
	}
	return hostArch, nil
}
