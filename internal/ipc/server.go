package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"tgdog/internal/action"
	"tgdog/internal/logger"
)

// Handler serves one decoded request.
type Handler func(ctx context.Context, req action.Request) action.Response

// Server accepts connections on a unix socket and serves one framed
// request per connection.
type Server struct {
	path    string
	handler Handler
	logger  *logger.Logger

	// OnRequest, if set, observes every served request (used for
	// metrics). status is "ok", "error" or "frame_error".
	OnRequest func(status string)

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer builds a server for socketPath. Start binds it.
func NewServer(socketPath string, handler Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		path:    socketPath,
		handler: handler,
		logger:  log,
	}
}

// Start removes any pre-existing file at the path (the server assumes
// ownership), binds the socket, restricts it to owner read/write and
// begins accepting. Stale-daemon detection happens before Start, via
// Probe.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("failed to remove existing socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		listener.Close()
		os.Remove(s.path)
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptConnections()

	s.logger.Info("IPC server started", logger.Field{Key: "socket", Value: s.path})
	return nil
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("failed to accept connection", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection reads one frame, dispatches it and writes one
// response. A broken frame closes the connection without a response so
// the client can tell a transport failure from a business error.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	body, err := ReadFrame(conn)
	if err != nil {
		if !errors.Is(err, ErrNoResponse) {
			s.logger.Warn("dropping connection with broken frame",
				logger.Field{Key: "error", Value: err})
			s.observe("frame_error")
		}
		return
	}

	var req action.Request
	if err := DecodeFrame(body, &req); err != nil {
		s.logger.Warn("dropping connection with broken frame",
			logger.Field{Key: "error", Value: err})
		s.observe("frame_error")
		return
	}

	// Shutdown stops the accept loop but lets an already-read request run
	// to completion, so the handler gets a context that shutdown does not
	// cancel.
	resp := s.handler(context.WithoutCancel(s.ctx), req)
	if resp.OK {
		s.observe("ok")
	} else {
		s.observe("error")
	}

	if err := WriteFrame(conn, resp); err != nil {
		s.logger.Error("failed to write response", err)
	}
}

func (s *Server) observe(status string) {
	if s.OnRequest != nil {
		s.OnRequest(status)
	}
}

// Stop closes the listener, waits for in-flight handlers to finish and
// removes the socket file.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove socket file",
			logger.Field{Key: "socket", Value: s.path},
			logger.Field{Key: "error", Value: err})
	}
	s.logger.Info("IPC server stopped")
}
