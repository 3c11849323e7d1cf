package sigdispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/registration"
)

// Option to configure an Isolate.
type Option interface {
	apply(*config)
}

type config struct {
	signals        []int
	fatalSignals   []int
	fatalExplicit  bool
	callback       func(sig int)
	errorLogger    func(err error)
	crashFD        int
	statusAddr     string
	manualDispatch bool
	disabled       bool
	envErr         error

	notifier registration.Notifier
}

const (
	ENV_SIGNALS     = "SIGDISPATCH_SIGNALS"
	ENV_CRASH_FD    = "SIGDISPATCH_CRASH_FD"
	ENV_STATUS_ADDR = "SIGDISPATCH_STATUS_ADDR"
	ENV_DISABLE     = "SIGDISPATCH_DISABLE"

	defaultCrashFD = 2
)

func makeDefaultConfig() config {
	cfg := config{
		signals:     registration.DefaultSignals(),
		callback:    func(int) {},
		errorLogger: func(err error) {},
		crashFD:     env.Int(ENV_CRASH_FD, defaultCrashFD),
		statusAddr:  env.Str(ENV_STATUS_ADDR),
		disabled:    env.Bool(ENV_DISABLE),
	}
	if list := env.Str(ENV_SIGNALS); list != "" {
		sigs, err := parseSignalList(list)
		if err != nil {
			cfg.envErr = fmt.Errorf("invalid %s: %w", ENV_SIGNALS, err)
		} else {
			cfg.signals = sigs
		}
	}
	return cfg
}

func parseSignalList(s string) ([]int, error) {
	var sigs []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		sig, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// resolveSignals returns the full set of handled signals and the subset that
// takes the crash path. Default fatal signals yield to signals the caller
// listed as ordinary; explicitly configured fatal signals win.
func (cfg *config) resolveSignals() (all []int, fatal []int) {
	ordinary := make(map[int]bool, len(cfg.signals))
	for _, sig := range cfg.signals {
		ordinary[sig] = true
	}
	fatalSet := make(map[int]bool)
	fatalCandidates := cfg.fatalSignals
	if !cfg.fatalExplicit {
		fatalCandidates = registration.DefaultFatalSignals()
	}
	for _, sig := range fatalCandidates {
		if !cfg.fatalExplicit && ordinary[sig] {
			continue
		}
		if !fatalSet[sig] {
			fatalSet[sig] = true
			fatal = append(fatal, sig)
		}
	}
	seen := make(map[int]bool)
	for _, sig := range append(append([]int(nil), cfg.signals...), fatal...) {
		if !seen[sig] {
			seen[sig] = true
			all = append(all, sig)
		}
	}
	return all, fatal
}

type optionFunc func(cfg *config)

func (f optionFunc) apply(cfg *config) {
	f(cfg)
}

// WithSignals sets the signals delivered to the callback. Defaults to the
// SIGDISPATCH_SIGNALS environment variable (comma separated numbers) or
// SIGHUP, SIGINT, SIGTERM, SIGUSR1 and SIGUSR2.
func WithSignals(sigs ...int) Option {
	return optionFunc(func(cfg *config) {
		cfg.signals = append([]int(nil), sigs...)
	})
}

// WithFatalSignals sets the signals that write a crash report and terminate
// the process with ExitCode. Defaults to SIGILL, SIGABRT, SIGFPE, SIGBUS and
// SIGSEGV, minus any of those passed to WithSignals. Passing no signals
// disables the crash path.
func WithFatalSignals(sigs ...int) Option {
	return optionFunc(func(cfg *config) {
		cfg.fatalSignals = append([]int(nil), sigs...)
		cfg.fatalExplicit = true
	})
}

// WithCallback sets the function called on the dispatcher goroutine once per
// delivered signal. It may block, allocate and take locks, but a slow
// callback delays all later deliveries.
func WithCallback(f func(sig int)) Option {
	return optionFunc(func(cfg *config) {
		cfg.callback = f
	})
}

// WithErrorLogger sets a function to be called with errors (for example for
// logging them).
func WithErrorLogger(f func(err error)) Option {
	return optionFunc(func(cfg *config) {
		cfg.errorLogger = f
	})
}

// WithCrashFD sets the file descriptor crash reports are written to. Defaults
// to SIGDISPATCH_CRASH_FD or stderr.
func WithCrashFD(fd int) Option {
	return optionFunc(func(cfg *config) {
		cfg.crashFD = fd
	})
}

// WithStatusAddr makes the owning isolate serve the sigdispatch.v1.Status
// gRPC service on addr. Defaults to SIGDISPATCH_STATUS_ADDR; empty disables
// the service.
func WithStatusAddr(addr string) Option {
	return optionFunc(func(cfg *config) {
		cfg.statusAddr = addr
	})
}

// WithManualDispatch skips the built-in dispatcher goroutine. The caller must
// run its own loop on a single goroutine around Isolate.AwaitSemaphore and
// Isolate.CheckPendingSignal. The callback is not used.
func WithManualDispatch() Option {
	return optionFunc(func(cfg *config) {
		cfg.manualDispatch = true
	})
}

func withNotifier(n registration.Notifier) Option {
	return optionFunc(func(cfg *config) {
		cfg.notifier = n
	})
}
