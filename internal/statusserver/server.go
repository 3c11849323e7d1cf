// Package statusserver exposes the state of the running isolate over gRPC.
package statusserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/dispatcher"
)

// Source is what the server reports on.
type Source interface {
	Status() Status
	Subscribe() (<-chan dispatcher.Delivery, func())
}

// Server implements StatusServer and owns the grpc.Server serving it.
type Server struct {
	src         Source
	errorLogger func(err error)
	grpcServer  *grpc.Server
	eg          errgroup.Group

	mu struct {
		sync.Mutex
		addr net.Addr
	}
}

var _ StatusServer = (*Server)(nil)

// New constructs a Server reporting on src. Errors from the serving goroutine
// are passed to errorLogger.
func New(src Source, errorLogger func(err error)) *Server {
	if errorLogger == nil {
		errorLogger = func(error) {}
	}
	s := &Server{
		src:         src,
		errorLogger: errorLogger,
		grpcServer:  grpc.NewServer(),
	}
	RegisterStatusServer(s.grpcServer, s)
	return s
}

// Listen starts serving on a TCP listener bound to addr.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.Serve(l)
	return nil
}

// Serve starts serving on l in the background.
func (s *Server) Serve(l net.Listener) {
	s.mu.Lock()
	s.mu.addr = l.Addr()
	s.mu.Unlock()
	s.eg.Go(func() error {
		err := s.grpcServer.Serve(l)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.errorLogger(fmt.Errorf("failed to serve: %w", err))
			return err
		}
		return nil
	})
}

// Addr returns the address being served, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.addr
}

// stopGrace bounds how long Stop waits for in-flight RPCs to finish.
const stopGrace = time.Second

// Stop lets in-flight RPCs finish, closes all connections and waits for the
// serving goroutine. Streams still open after stopGrace are cut off.
func (s *Server) Stop() error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.grpcServer.GracefulStop()
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.grpcServer.Stop()
		<-done
	}
	return s.eg.Wait()
}

// GetStatus implements StatusServer.
func (s *Server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := encodeStatus(s.src.Status())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}

// WatchDeliveries implements StatusServer. The stream ends when the client
// goes away or the isolate is closed.
func (s *Server) WatchDeliveries(_ *emptypb.Empty, stream WatchDeliveriesServer) error {
	ctx := stream.Context()
	ch, cancel := s.src.Subscribe()
	defer cancel()
	if err := stream.SendHeader(nil); err != nil {
		return fmt.Errorf("failed to send header: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case d, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := encodeDelivery(d)
			if err != nil {
				return status.Errorf(codes.Internal, "%v", err)
			}
			if err := stream.Send(msg); err != nil {
				return fmt.Errorf("failed to send delivery: %w", err)
			}
		}
	}
}
