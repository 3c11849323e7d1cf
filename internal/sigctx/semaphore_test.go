package sigctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSemaphore(t *testing.T) *Semaphore {
	t.Helper()
	s, err := NewSemaphore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSemaphoreCounts(t *testing.T) {
	s := newTestSemaphore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Post())
	}
	for i := 0; i < 3; i++ {
		require.Equal(t, 0, s.Wait())
	}
}

func TestSemaphoreWaitBlocksUntilPost(t *testing.T) {
	s := newTestSemaphore(t)
	woke := make(chan int)
	go func() { woke <- s.Wait() }()

	select {
	case <-woke:
		t.Fatal("Wait returned without a post")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, s.Post())
	select {
	case rc := <-woke:
		require.Equal(t, 0, rc)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Post")
	}
}

// A wakeup that does not correspond to a pending signal is not an error: the
// poll that follows simply reports nothing pending.
func TestSpuriousWakeup(t *testing.T) {
	s := newTestSemaphore(t)
	var c Counters
	require.NoError(t, s.Post())
	require.Equal(t, 0, s.Wait())
	require.Equal(t, NoneSentinel, c.CheckPendingSignal())
}
