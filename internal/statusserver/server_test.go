package statusserver

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/dispatcher"
)

type fakeSource struct {
	st Status

	mu   sync.Mutex
	subs []chan dispatcher.Delivery
}

func (f *fakeSource) Status() Status { return f.st }

func (f *fakeSource) Subscribe() (<-chan dispatcher.Delivery, func()) {
	ch := make(chan dispatcher.Delivery, 8)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeSource) publish(d dispatcher.Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- d
	}
}

func (f *fakeSource) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
}

func startServer(t *testing.T, src Source) *grpc.ClientConn {
	t.Helper()
	l := bufconn.Listen(1 << 20)
	s := New(src, func(err error) { t.Logf("server error: %v", err) })
	s.Serve(l)
	t.Cleanup(func() { require.NoError(t, s.Stop()) })

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return l.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGetStatus(t *testing.T) {
	opened := time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC)
	src := &fakeSource{st: Status{
		Owner:      "8d5b1f5e-2f7e-4f38-9a63-7d8bd0c0d8f1",
		State:      "waiting",
		BinaryHash: "0011223344556677",
		OpenedAt:   opened,
		Signals:    []int{10, 2},
		Delivered:  map[int]uint64{10: 3},
		Pending:    map[int]uint64{2: 1},
	}}
	conn := startServer(t, src)

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(context.Background(), GetStatusMethod, &emptypb.Empty{}, out))
	got, err := DecodeStatus(out)
	require.NoError(t, err)
	require.Equal(t, src.st.Owner, got.Owner)
	require.Equal(t, "waiting", got.State)
	require.Equal(t, "0011223344556677", got.BinaryHash)
	require.True(t, opened.Equal(got.OpenedAt))
	require.Equal(t, []int{2, 10}, got.Signals)
	require.Equal(t, map[int]uint64{10: 3}, got.Delivered)
	require.Equal(t, map[int]uint64{2: 1}, got.Pending)
}

func TestWatchDeliveries(t *testing.T) {
	src := &fakeSource{}
	conn := startServer(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], WatchDeliveriesMethod)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&emptypb.Empty{}))
	require.NoError(t, stream.CloseSend())
	// The header is sent once the subscription exists.
	_, err = stream.Header()
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	src.publish(dispatcher.Delivery{Signal: 10, Seq: 1, At: at})
	src.publish(dispatcher.Delivery{Signal: 12, Seq: 2, At: at})

	for _, want := range []struct {
		sig int
		seq uint64
	}{{10, 1}, {12, 2}} {
		msg := new(structpb.Struct)
		require.NoError(t, stream.RecvMsg(msg))
		d, err := DecodeDelivery(msg)
		require.NoError(t, err)
		require.Equal(t, want.sig, d.Signal)
		require.Equal(t, want.seq, d.Seq)
		require.True(t, at.Equal(d.At))
	}

	src.closeAll()
	require.ErrorIs(t, stream.RecvMsg(new(structpb.Struct)), io.EOF)
}

func TestDecodeStatusRejectsBadKeys(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"delivered": map[string]interface{}{"x": 1.0},
	})
	require.NoError(t, err)
	_, err = DecodeStatus(s)
	require.ErrorContains(t, err, "bad signal key")
}
