//go:build linux && cgo && (amd64 || arm64)

package registration

/*
#define _GNU_SOURCE
#include <errno.h>
#include <link.h>
#include <signal.h>
#include <stdint.h>
#include <string.h>
#include <time.h>
#include <ucontext.h>
#include <unistd.h>

#define SD_MAX_SIGNAL 64
// How long a handler waits for the report goroutine before chaining.
#define SD_REPORT_MS 5000

static struct sigaction sd_prev[SD_MAX_SIGNAL + 1];
static int sd_installed[SD_MAX_SIGNAL + 1];
static ucontext_t sd_ctx;
static int sd_sig;
static int sd_wake_fd = -1;
static int sd_busy;
static int sd_resume;
static uintptr_t sd_text_lo, sd_text_hi;

static uintptr_t sd_pc(void *uc) {
	ucontext_t *u = uc;
#if defined(__x86_64__)
	return (uintptr_t)u->uc_mcontext.gregs[REG_RIP];
#else
	return (uintptr_t)u->uc_mcontext.pc;
#endif
}

// Faults raised by the kernel at a pc inside the executable are left to the
// Go runtime, which turns the ones in Go code into panics.
static int sd_runtime_fault(int sig, siginfo_t *info, void *uc) {
	if (info == NULL || uc == NULL || info->si_code <= 0) {
		return 0;
	}
	switch (sig) {
	case SIGSEGV: case SIGBUS: case SIGFPE: case SIGILL: case SIGTRAP:
		break;
	default:
		return 0;
	}
	uintptr_t pc = sd_pc(uc);
	return pc >= sd_text_lo && pc < sd_text_hi;
}

static void sd_sleep_ms(long ms) {
	struct timespec ts = { ms / 1000, (ms % 1000) * 1000000L };
	while (nanosleep(&ts, &ts) != 0 && errno == EINTR) {
	}
}

static int sd_await_resume(void) {
	for (int i = 0; i < SD_REPORT_MS; i++) {
		if (__atomic_load_n(&sd_resume, __ATOMIC_ACQUIRE)) {
			return 1;
		}
		sd_sleep_ms(1);
	}
	return 0;
}

static void sd_chain(int sig, siginfo_t *info, void *uc) {
	struct sigaction *p = &sd_prev[sig];
	if (p->sa_flags & SA_SIGINFO) {
		if (p->sa_sigaction != NULL) {
			p->sa_sigaction(sig, info, uc);
			return;
		}
	} else if (p->sa_handler == SIG_IGN) {
		return;
	} else if (p->sa_handler != SIG_DFL) {
		p->sa_handler(sig);
		return;
	}
	struct sigaction dfl;
	memset(&dfl, 0, sizeof dfl);
	dfl.sa_handler = SIG_DFL;
	sigemptyset(&dfl.sa_mask);
	sigaction(sig, &dfl, NULL);
	// A kernel fault recurs with the default action when the handler returns.
	if (info == NULL || info->si_code <= 0) {
		raise(sig);
	}
}

// Only one thread at a time owns sd_ctx. Others wait for it to be released,
// which in production never happens because the crash path exits.
static int sd_acquire(void) {
	for (int i = 0; i < SD_REPORT_MS; i++) {
		if (__atomic_exchange_n(&sd_busy, 1, __ATOMIC_ACQ_REL) == 0) {
			return 1;
		}
		sd_sleep_ms(1);
	}
	return 0;
}

static void sd_handler(int sig, siginfo_t *info, void *uc) {
	int saved_errno = errno;
	if (sd_runtime_fault(sig, info, uc)) {
		sd_chain(sig, info, uc);
		errno = saved_errno;
		return;
	}
	if (sd_acquire()) {
		memcpy(&sd_ctx, uc, sizeof sd_ctx);
		sd_sig = sig;
		__atomic_store_n(&sd_resume, 0, __ATOMIC_RELEASE);
		unsigned char b = (unsigned char)sig;
		if (write(sd_wake_fd, &b, 1) == 1 && sd_await_resume()) {
			__atomic_store_n(&sd_busy, 0, __ATOMIC_RELEASE);
			errno = saved_errno;
			return;
		}
	}
	sd_chain(sig, info, uc);
	errno = saved_errno;
}

static int sd_find_text(struct dl_phdr_info *info, size_t size, void *data) {
	(void)size;
	(void)data;
	for (int i = 0; i < info->dlpi_phnum; i++) {
		const ElfW(Phdr) *ph = &info->dlpi_phdr[i];
		if (ph->p_type == PT_LOAD && (ph->p_flags & PF_X)) {
			sd_text_lo = (uintptr_t)(info->dlpi_addr + ph->p_vaddr);
			sd_text_hi = sd_text_lo + ph->p_memsz;
			break;
		}
	}
	// The executable is always reported first.
	return 1;
}

static void sd_prepare(int wake_fd) {
	sd_wake_fd = wake_fd;
	__atomic_store_n(&sd_busy, 0, __ATOMIC_RELEASE);
	if (sd_text_hi == 0) {
		dl_iterate_phdr(sd_find_text, NULL);
	}
}

static int sd_install(int sig) {
	struct sigaction sa;
	memset(&sa, 0, sizeof sa);
	sa.sa_sigaction = sd_handler;
	sa.sa_flags = SA_SIGINFO | SA_ONSTACK | SA_RESTART;
	sigfillset(&sa.sa_mask);
	if (sigaction(sig, &sa, &sd_prev[sig]) != 0) {
		return errno;
	}
	sd_installed[sig] = 1;
	return 0;
}

static int sd_uninstall(int sig) {
	if (!sd_installed[sig]) {
		return 0;
	}
	if (sigaction(sig, &sd_prev[sig], NULL) != 0) {
		return errno;
	}
	sd_installed[sig] = 0;
	return 0;
}

// Keeps the calling thread from being chosen to run sd_handler.
static int sd_block(const int *sigs, int n) {
	sigset_t set;
	sigemptyset(&set);
	for (int i = 0; i < n; i++) {
		sigaddset(&set, sigs[i]);
	}
	return pthread_sigmask(SIG_BLOCK, &set, NULL);
}

static uintptr_t sd_current(int sig) {
	struct sigaction sa;
	if (sigaction(sig, NULL, &sa) != 0) {
		return 0;
	}
	return (uintptr_t)sa.sa_sigaction;
}

static int sd_signal(void) { return sd_sig; }
static void *sd_context(void) { return &sd_ctx; }
static void sd_release(void) { __atomic_store_n(&sd_resume, 1, __ATOMIC_RELEASE); }
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/mcontext"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/sigctx"
)

// NativeFatal reports whether fatal signals are caught by a sigaction(2)
// handler that captures the machine context. Where it is false they are
// relayed through os/signal and reported without registers.
func NativeFatal() bool {
	return true
}

// fatalCatcher owns the native handlers for the fatal signals. The C handler
// copies the ucontext_t into a static buffer and writes the signal number to
// a pipe. A goroutine started before the handlers are installed reads the
// pipe and runs the crash path with a handle to the copy. The handler thread
// waits until the crash path returns, which only happens in tests, and chains
// to the previous disposition if the goroutine never answers.
type fatalCatcher struct {
	signals []int
	r, w    int
	done    chan struct{}
}

func startFatalCatcher(signals []int, deliver sigctx.FatalFunc) (_ *fatalCatcher, retErr error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("failed to create wake pipe: %w", err)
	}
	c := &fatalCatcher{
		signals: append([]int(nil), signals...),
		r:       p[0],
		w:       p[1],
		done:    make(chan struct{}),
	}
	ready := make(chan error, 1)
	go c.wait(deliver, ready)
	if err := <-ready; err != nil {
		c.closeFDs()
		return nil, err
	}
	defer func() {
		if retErr != nil {
			retErr = errors.Join(retErr, c.stop())
		}
	}()

	C.sd_prepare(C.int(c.w))
	for i, sig := range c.signals {
		if errno := C.sd_install(C.int(sig)); errno != 0 {
			c.signals = c.signals[:i]
			return nil, fmt.Errorf("sigaction(%d) failed: %w", sig, syscall.Errno(errno))
		}
	}
	return c, nil
}

// wait runs on a locked thread with the fatal signals blocked, so the kernel
// never interrupts the reader to deliver the signal it is waiting for.
func (c *fatalCatcher) wait(deliver sigctx.FatalFunc, ready chan<- error) {
	defer close(c.done)
	// The thread exits with the goroutine and takes its signal mask with it.
	runtime.LockOSThread()
	sigs := make([]C.int, len(c.signals))
	for i, sig := range c.signals {
		sigs[i] = C.int(sig)
	}
	if len(sigs) > 0 {
		if rc := C.sd_block(&sigs[0], C.int(len(sigs))); rc != 0 {
			ready <- fmt.Errorf("failed to block fatal signals: %w", syscall.Errno(rc))
			return
		}
	}
	ready <- nil

	var b [1]byte
	for {
		n, err := unix.Read(c.r, b[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 || b[0] == 0 {
			return
		}
		deliver(int(C.sd_signal()), mcontext.HandleOf(C.sd_context()))
		C.sd_release()
	}
}

// stop restores the previous dispositions and ends the goroutine.
func (c *fatalCatcher) stop() error {
	var errs []error
	for _, sig := range c.signals {
		if errno := C.sd_uninstall(C.int(sig)); errno != 0 {
			errs = append(errs, fmt.Errorf("sigaction(%d) failed: %w", sig, syscall.Errno(errno)))
		}
	}
	if _, err := unix.Write(c.w, []byte{0}); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop fatal signal reader: %w", err))
	} else {
		<-c.done
	}
	c.closeFDs()
	return errors.Join(errs...)
}

func (c *fatalCatcher) closeFDs() {
	_ = unix.Close(c.r)
	_ = unix.Close(c.w)
}

func (c *fatalCatcher) installed() []int {
	return append([]int(nil), c.signals...)
}

// currentAction returns the address of the handler now installed for sig.
func currentAction(sig int) uintptr {
	return uintptr(C.sd_current(C.int(sig)))
}
