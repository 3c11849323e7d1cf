//go:build !(linux && cgo && (amd64 || arm64))

package registration

import (
	"errors"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/sigctx"
)

// NativeFatal reports whether fatal signals are caught by a sigaction(2)
// handler that captures the machine context. Where it is false they are
// relayed through os/signal and reported without registers.
func NativeFatal() bool {
	return false
}

type fatalCatcher struct{}

func startFatalCatcher([]int, sigctx.FatalFunc) (*fatalCatcher, error) {
	return nil, errors.New("native fatal signal handlers not available")
}

func (*fatalCatcher) stop() error {
	return nil
}

func (*fatalCatcher) installed() []int {
	return nil
}
