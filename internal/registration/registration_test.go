package registration

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/mcontext"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/sigctx"
)

type fakeNotifier struct {
	mu      sync.Mutex
	ch      chan<- os.Signal
	sigs    []os.Signal
	stopped int
}

func (f *fakeNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = c
	f.sigs = append([]os.Signal(nil), sig...)
}

func (f *fakeNotifier) Stop(c chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == c {
		f.ch = nil
		f.stopped++
	}
}

func (f *fakeNotifier) raise(sig int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch != nil {
		f.ch <- syscall.Signal(sig)
	}
}

type countingPoster struct{ n atomic.Int32 }

func (p *countingPoster) Post() error {
	p.n.Add(1)
	return nil
}

func TestInstallRelaysToHandler(t *testing.T) {
	var counters sigctx.Counters
	poster := &countingPoster{}
	var fatal atomic.Int32
	var nilCtx atomic.Bool
	h := sigctx.NewHandler(&counters, poster, func(sig int, ctx mcontext.Handle) {
		nilCtx.Store(ctx.IsNil())
		fatal.Store(int32(sig))
	})
	h.SetFatal(11)

	n := &fakeNotifier{}
	tab := NewTable(n, h)
	require.NoError(t, tab.Install([]int{10, 11, 12}))
	require.Equal(t, []int{10, 11, 12}, tab.Installed())
	require.Len(t, n.sigs, 3)

	n.raise(10)
	n.raise(12)
	n.raise(10)
	n.raise(11)
	require.Eventually(t, func() bool { return fatal.Load() == 11 },
		5*time.Second, time.Millisecond)
	require.True(t, nilCtx.Load())
	require.Equal(t, uint32(2), counters.Pending(10))
	require.Equal(t, uint32(1), counters.Pending(12))
	require.Equal(t, uint32(0), counters.Pending(11))
	require.Equal(t, int32(3), poster.n.Load())

	require.NoError(t, tab.Uninstall())
	require.Equal(t, 1, n.stopped)
	require.Empty(t, tab.Installed())
	require.ErrorIs(t, tab.Uninstall(), ErrNotInstalled)

	// The table can be reused after uninstalling.
	require.NoError(t, tab.Install([]int{10}))
	require.NoError(t, tab.Uninstall())
}

func TestInstallValidation(t *testing.T) {
	h := sigctx.NewHandler(&sigctx.Counters{}, &countingPoster{}, nil)
	n := &fakeNotifier{}
	tab := NewTable(n, h)

	require.ErrorIs(t, tab.Install(nil), ErrInvalidSignal)
	require.ErrorIs(t, tab.Install([]int{0}), ErrInvalidSignal)
	require.ErrorIs(t, tab.Install([]int{sigctx.MaxSignal + 1}), ErrInvalidSignal)
	require.ErrorIs(t, tab.Install([]int{2, 3, 2}), ErrInvalidSignal)
	require.Nil(t, n.ch)

	require.NoError(t, tab.Install([]int{sigctx.MaxSignal}))
	require.ErrorIs(t, tab.Install([]int{3}), ErrAlreadyInstalled)
	require.NoError(t, tab.Uninstall())
}

func TestPlatformSupported(t *testing.T) {
	err := PlatformSupported()
	if _, archErr := mcontext.HostArch(); archErr != nil || !OsSupported() {
		require.Error(t, err)
		return
	}
	require.NoError(t, err)
	require.NotEmpty(t, DefaultSignals())
	require.NotEmpty(t, DefaultFatalSignals())
	for _, sig := range append(DefaultSignals(), DefaultFatalSignals()...) {
		require.True(t, sigctx.SignalRangeCheck(sig), "signal %d", sig)
	}
}
