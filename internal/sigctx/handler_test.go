package sigctx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/mcontext"
)

type countingPoster struct {
	posts int
}

func (p *countingPoster) Post() error {
	p.posts++
	return nil
}

func TestHandlerDeliver(t *testing.T) {
	var c Counters
	p := &countingPoster{}
	var fatal []int
	h := NewHandler(&c, p, func(sig int, ctx mcontext.Handle) {
		require.True(t, ctx.IsNil())
		fatal = append(fatal, sig)
	})
	h.SetFatal(11)
	h.SetFatal(MaxSignal + 3)

	h.Deliver(10)
	h.Deliver(10)
	h.Deliver(0)
	h.Deliver(MaxSignal + 1)
	h.Deliver(11)

	require.Equal(t, 2, p.posts)
	require.Equal(t, uint32(2), c.Pending(10))
	require.Zero(t, c.Pending(11))
	require.Equal(t, []int{11}, fatal)
	require.True(t, h.IsFatal(11))
	require.False(t, h.IsFatal(10))
	require.False(t, h.IsFatal(MaxSignal+3))
}

func TestHandlerWakesRealSemaphore(t *testing.T) {
	var c Counters
	s := newTestSemaphore(t)
	h := NewHandler(&c, s, nil)
	h.Deliver(12)
	require.Equal(t, 0, s.Wait())
	require.Equal(t, 12, c.CheckPendingSignal())
	require.Equal(t, NoneSentinel, c.CheckPendingSignal())

	// No fatal func configured: the fatal path is a no-op.
	h.SetFatal(6)
	h.Deliver(6)
	require.Equal(t, NoneSentinel, c.CheckPendingSignal())
}
