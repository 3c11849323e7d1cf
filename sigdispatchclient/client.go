// Package sigdispatchclient talks to the status service served by a process
// whose sigdispatch isolate was opened with WithStatusAddr.
package sigdispatchclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/statusserver"
)

const (
	ENV_STATUS_ADDR = "SIGDISPATCH_STATUS_ADDR"
)

// Status is a point-in-time view of the isolate owning the process signal
// handlers.
type Status = statusserver.Status

// Delivery is one signal delivered to the owning isolate's callback.
type Delivery = statusserver.Delivery

// Client is a client for the sigdispatch.v1.Status service.
type Client struct {
	conn *grpc.ClientConn
}

type clientOpts struct {
	addr     string
	dialOpts []grpc.DialOption
}

// ClientOption is the interface implemented by options for NewClient.
type ClientOption interface {
	apply(*clientOpts) error
}

// WithAddress is a string option for NewClient that specifies the address of
// the status service.
type WithAddress string

var _ ClientOption = WithAddress("")

// apply implements the ClientOption interface.
func (a WithAddress) apply(opts *clientOpts) error {
	opts.addr = string(a)
	return nil
}

// WithAddressFromEnv is an option for NewClient that reads the address from
// the SIGDISPATCH_STATUS_ADDR environment variable. If that variable is not
// set, NewClient returns an error.
type WithAddressFromEnv struct{}

var _ ClientOption = WithAddressFromEnv{}

// apply implements the ClientOption interface.
func (WithAddressFromEnv) apply(opts *clientOpts) error {
	addr, ok := os.LookupEnv(ENV_STATUS_ADDR)
	if !ok || addr == "" {
		return fmt.Errorf("%s environment variable required by WithAddressFromEnv is not set", ENV_STATUS_ADDR)
	}
	opts.addr = addr
	return nil
}

// WithDialOptions passes extra options to grpc.DialContext. Transport
// credentials given here replace the default insecure credentials.
type WithDialOptions []grpc.DialOption

var _ ClientOption = WithDialOptions(nil)

// apply implements the ClientOption interface.
func (d WithDialOptions) apply(opts *clientOpts) error {
	opts.dialOpts = append(opts.dialOpts, d...)
	return nil
}

// NewClient creates a new Client. WithAddress or WithAddressFromEnv need to be
// specified.
//
// Close() needs to be called on the client when it is no longer needed to
// release resources.
func NewClient(ctx context.Context, option ...ClientOption) (*Client, error) {
	opts := clientOpts{}
	for _, o := range option {
		if err := o.apply(&opts); err != nil {
			return nil, err
		}
	}
	if opts.addr == "" {
		return nil, errors.New("no status service address specified")
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts.dialOpts...)
	conn, err := grpc.DialContext(ctx, opts.addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to status service at %s: %w", opts.addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the client's network connection.
func (c *Client) Close() {
	_ /* err */ = c.conn.Close()
}

// Status returns the current status of the owning isolate.
func (c *Client) Status(ctx context.Context) (Status, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, statusserver.GetStatusMethod, &emptypb.Empty{}, out); err != nil {
		return Status{}, fmt.Errorf("failed to get status: %w", err)
	}
	return statusserver.DecodeStatus(out)
}

// Watch calls fn for every signal delivered by the owning isolate until ctx is
// canceled, fn returns an error, or the isolate is closed, in which case Watch
// returns nil. ready, if not nil, is called once the server has subscribed,
// so deliveries after it returns are guaranteed to be observed.
func (c *Client) Watch(ctx context.Context, ready func(), fn func(Delivery) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := c.conn.NewStream(ctx, &statusserver.ServiceDesc.Streams[0], statusserver.WatchDeliveriesMethod)
	if err != nil {
		return fmt.Errorf("failed to open delivery stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send: %w", err)
	}
	if _, err := stream.Header(); err != nil {
		return fmt.Errorf("failed to receive header: %w", err)
	}
	if ready != nil {
		ready()
	}
	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to receive delivery: %w", err)
		}
		d, err := statusserver.DecodeDelivery(msg)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
}
