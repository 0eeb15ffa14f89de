package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// RequestHandler answers the query and status methods.
type RequestHandler interface {
	HandleQuery(ctx context.Context, params QueryParams) QueryResult
	GetStatus() StatusResult
}

// maxRequestSize bounds one request line.
const maxRequestSize = 1 << 20

// Server answers one JSON-RPC request per connection on a Unix socket.
type Server struct {
	socketPath string
	timeout    time.Duration
	grace      time.Duration
	handler    RequestHandler

	mu       sync.Mutex
	listener net.Listener
	started  time.Time

	conns    sync.WaitGroup
	inFlight atomic.Int64
}

// NewServer creates a server for cfg. A zero timeout or grace period
// takes the default.
func NewServer(cfg Config) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path cannot be empty")
	}
	def := DefaultConfig()
	return &Server{
		socketPath: cfg.SocketPath,
		timeout:    orDefault(cfg.Timeout, def.Timeout),
		grace:      orDefault(cfg.ShutdownGracePeriod, def.ShutdownGracePeriod),
	}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// SetHandler sets the handler for query and status requests.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe binds the socket, replacing a stale one, and serves
// until ctx is cancelled. It returns ctx.Err() after draining.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits up to
// the grace period for in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.started = time.Now()
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	slog.Info("server_listening", slog.String("socket", s.socketPath))

	// In-flight requests outlive ctx so they can finish within the grace period.
	reqCtx := context.WithoutCancel(ctx)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			slog.Error("accept_failed", slog.String("error", err.Error()))
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.conns.Go(func() { s.serveConn(reqCtx, conn) })
	}

	drained := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.grace):
		slog.Warn("shutdown_grace_expired",
			slog.Duration("grace", s.grace),
			slog.Int64("in_flight", s.inFlight.Load()))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return net.ErrClosed
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		slog.Warn("set_deadline_failed", slog.String("error", err.Error()))
	}

	enc := json.NewEncoder(conn)
	var req Request
	dec := json.NewDecoder(bufio.NewReader(&limitedConn{conn: conn, left: maxRequestSize}))
	if err := dec.Decode(&req); err != nil {
		_ = enc.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}
	if err := enc.Encode(s.dispatch(ctx, req)); err != nil {
		slog.Debug("response_write_failed", slog.String("id", req.ID), slog.String("error", err.Error()))
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	if req.JSONRPC != jsonrpcVersion {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})
	case MethodStatus:
		return NewSuccessResponse(req.ID, s.status())
	case MethodQuery:
		return s.query(ctx, req)
	}
	return NewErrorResponse(req.ID, ErrCodeMethodNotFound, "method not found: "+req.Method)
}

// query runs one query under the server timeout. A query that outlives
// the timeout runs to completion in the background; only its response is
// dropped.
func (s *Server) query(ctx context.Context, req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no query handler configured")
	}
	if len(req.Params) == 0 {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "params are required")
	}
	var params QueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newFMErrorResponse(req.ID, ErrCodeInvalidParams,
			fmerrors.ValidationError("failed to decode params", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan QueryResult, 1)
	go func() { done <- s.handler.HandleQuery(ctx, params) }()

	select {
	case res := <-done:
		return NewSuccessResponse(req.ID, res)
	case <-ctx.Done():
		slog.Warn("query_timeout",
			slog.String("index", params.Index),
			slog.String("operation", params.Operation),
			slog.Duration("timeout", s.timeout))
		return NewErrorResponse(req.ID, ErrCodeTimeout, "query timed out")
	}
}

func (s *Server) status() StatusResult {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	st := StatusResult{Indexes: []string{}}
	if s.handler != nil {
		st = s.handler.GetStatus()
	}
	st.Running = true
	st.PID = os.Getpid()
	st.Uptime = time.Since(started).Round(time.Second).String()
	// The status request itself is not counted.
	st.InFlight = s.inFlight.Load() - 1
	return st
}

// Close stops accepting connections. It is a no-op before Serve.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// limitedConn fails reads past the request size limit.
type limitedConn struct {
	conn net.Conn
	left int64
}

func (l *limitedConn) Read(p []byte) (int, error) {
	if l.left <= 0 {
		return 0, errors.New("request too large")
	}
	if int64(len(p)) > l.left {
		p = p[:l.left]
	}
	n, err := l.conn.Read(p)
	l.left -= int64(n)
	return n, err
}
