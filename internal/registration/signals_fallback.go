//go:build !(linux || darwin)

package registration

// OsSupported returns whether signals can be delivered on this OS.
func OsSupported() bool {
	return false
}

func DefaultSignals() []int {
	return nil
}

func DefaultFatalSignals() []int {
	return nil
}
