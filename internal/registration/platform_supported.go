package registration

import (
	"fmt"
	"runtime"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/mcontext"
)

// PlatformSupported returns an error when the running OS/architecture has no
// machine context layout, in which case the mechanism must not be opened.
func PlatformSupported() error {
	if !OsSupported() {
		return fmt.Errorf("OS %s not supported", runtime.GOOS)
	}
	if _, err := mcontext.HostArch(); err != nil {
		return fmt.Errorf("%s/%s: %w", runtime.GOOS, runtime.GOARCH, err)
	}
	return nil
}
