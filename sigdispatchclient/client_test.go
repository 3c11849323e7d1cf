//go:build linux || darwin

package sigdispatchclient_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/DataExMachina-dev/sigdispatch-go/sigdispatch"
	"github.com/DataExMachina-dev/sigdispatch-go/sigdispatchclient"
)

// Test that status and deliveries of a live isolate are visible to a client.
func TestStatusAndWatch(t *testing.T) {
	t.Setenv(sigdispatch.ENV_DISABLE, "")
	callbacks := make(chan int, 8)
	iso := sigdispatch.NewIsolate(
		sigdispatch.WithSignals(int(unix.SIGUSR1), int(unix.SIGUSR2)),
		sigdispatch.WithFatalSignals(),
		sigdispatch.WithStatusAddr("127.0.0.1:0"),
		sigdispatch.WithCallback(func(sig int) { callbacks <- sig }),
	)
	if rc := iso.Open(); rc == sigdispatch.InitError {
		t.Skip("signal dispatch unavailable on this platform")
	} else {
		require.Equal(t, sigdispatch.Success, rc)
	}
	closed := false
	defer func() {
		if !closed {
			require.Equal(t, sigdispatch.Success, iso.Close())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := sigdispatchclient.NewClient(ctx, sigdispatchclient.WithAddress(iso.StatusAddr()))
	require.NoError(t, err)
	defer c.Close()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, iso.ID().String(), st.Owner)
	require.Equal(t, []int{int(unix.SIGUSR1), int(unix.SIGUSR2)}, st.Signals)
	require.False(t, st.OpenedAt.IsZero())
	require.Len(t, st.BinaryHash, 16)

	ready := make(chan struct{})
	watched := make(chan sigdispatchclient.Delivery, 8)
	var eg errgroup.Group
	eg.Go(func() error {
		return c.Watch(ctx, func() { close(ready) }, func(d sigdispatchclient.Delivery) error {
			watched <- d
			return nil
		})
	})
	select {
	case <-ready:
	case <-ctx.Done():
		t.Fatal("watch never became ready")
	}

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR2))
	select {
	case sig := <-callbacks:
		require.Equal(t, int(unix.SIGUSR2), sig)
	case <-ctx.Done():
		t.Fatal("callback not invoked")
	}
	select {
	case d := <-watched:
		require.Equal(t, int(unix.SIGUSR2), d.Signal)
		require.Equal(t, "SIGUSR2", d.Name)
		require.Equal(t, uint64(1), d.Seq)
	case <-ctx.Done():
		t.Fatal("delivery not watched")
	}

	st, err = c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.Delivered[int(unix.SIGUSR2)])

	// Closing the isolate ends the watch cleanly.
	require.Equal(t, sigdispatch.Success, iso.Close())
	closed = true
	require.NoError(t, eg.Wait())
}

func TestNewClientRequiresAddress(t *testing.T) {
	t.Setenv(sigdispatchclient.ENV_STATUS_ADDR, "")
	_, err := sigdispatchclient.NewClient(context.Background())
	require.Error(t, err)
	_, err = sigdispatchclient.NewClient(context.Background(), sigdispatchclient.WithAddressFromEnv{})
	require.ErrorContains(t, err, sigdispatchclient.ENV_STATUS_ADDR)
}
