package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zhubert/memory-mcp/config"
	"github.com/zhubert/memory-mcp/logger"
	"github.com/zhubert/memory-mcp/mcp"
)

// Accept retry backoff bounds.
const (
	acceptBackoffInitial = 100 * time.Millisecond
	acceptBackoffMax     = time.Second
)

// ConnState is the lifecycle stage of one accepted TCP connection.
type ConnState int

const (
	StateAccepted ConnState = iota
	StateTuned
	StateServing
	StateClosedNormal
	StateClosedError
)

func (s ConnState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateTuned:
		return "tuned"
	case StateServing:
		return "serving"
	case StateClosedNormal:
		return "closed"
	case StateClosedError:
		return "closed-error"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// ConnStateHook observes connection state changes. It is called from the
// connection's goroutine and must not block.
type ConnStateHook func(peer string, state ConnState)

// TCPOptions tune every accepted socket.
type TCPOptions struct {
	NoDelay           bool
	Keepalive         bool
	KeepaliveIdle     time.Duration
	KeepaliveInterval time.Duration
	KeepaliveRetries  int
}

// TCPOptionsFromConfig copies the socket tuning fields out of cfg.
func TCPOptionsFromConfig(cfg config.ServerConfig) TCPOptions {
	return TCPOptions{
		NoDelay:           cfg.TCPNoDelay,
		Keepalive:         cfg.TCPKeepalive,
		KeepaliveIdle:     cfg.KeepaliveIdle(),
		KeepaliveInterval: cfg.KeepaliveInterval(),
		KeepaliveRetries:  cfg.TCPKeepaliveRetries,
	}
}

// TCPServer serves MCP over raw TCP, one goroutine per connection.
type TCPServer struct {
	handler  *mcp.Handler
	opts     TCPOptions
	listener net.Listener
	hook     ConnStateHook
	log      *slog.Logger

	wg      sync.WaitGroup
	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// TCPServerOption is a functional option for configuring TCPServer
type TCPServerOption func(*TCPServer)

// WithConnStateHook installs a connection state observer.
func WithConnStateHook(hook ConnStateHook) TCPServerOption {
	return func(s *TCPServer) {
		s.hook = hook
	}
}

// NewTCPServer creates a server that is not yet listening.
func NewTCPServer(h *mcp.Handler, opts TCPOptions, options ...TCPServerOption) *TCPServer {
	s := &TCPServer{
		handler: h,
		opts:    opts,
		conns:   make(map[net.Conn]struct{}),
		log:     logger.WithComponent("tcp"),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Listen binds addr. Failure is a *BindError.
func (s *TCPServer) Listen(addr string) error {
	lc := net.ListenConfig{}
	if !s.opts.Keepalive {
		lc.KeepAlive = -1
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return &BindError{Transport: "tcp", Addr: addr, Err: err}
	}
	s.listener = ln
	s.log.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done. Accept errors are logged and
// retried after a backoff. On return the listener and every open
// connection are closed and all handlers have exited.
func (s *TCPServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("tcp: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() {
		s.listener.Close()
		s.closeConns()
	})
	defer stop()
	defer s.wg.Wait()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = acceptBackoffInitial
	b.MaxInterval = acceptBackoffMax
	b.Reset()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("listener closed, stopping")
				s.listener.Close()
				s.closeConns()
				return nil
			}
			wait := b.NextBackOff()
			s.log.Warn("accept error (continuing)", "error", err, "retryIn", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
			continue
		}
		b.Reset()

		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *TCPServer) track(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *TCPServer) untrack(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

// closeConns closes every open connection and refuses new ones.
func (s *TCPServer) closeConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *TCPServer) setState(peer string, state ConnState) {
	if s.hook != nil {
		s.hook(peer, state)
	}
}

func (s *TCPServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	log := logger.WithPeer("tcp", peer)
	s.setState(peer, StateAccepted)
	log.Debug("connection accepted")

	s.tune(conn, log)
	s.setState(peer, StateTuned)

	if err := s.serveConn(ctx, conn); err != nil {
		log.Warn("connection closed with error", "error", err)
		s.setState(peer, StateClosedError)
		return
	}
	log.Debug("connection closed")
	s.setState(peer, StateClosedNormal)
}

// tune applies nodelay and keepalive. Failures are logged, never fatal.
func (s *TCPServer) tune(conn net.Conn, log *slog.Logger) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if s.opts.NoDelay {
		if err := tcp.SetNoDelay(true); err != nil {
			log.Warn("failed to set TCP_NODELAY", "error", err)
		}
	}
	if s.opts.Keepalive {
		err := trySetKeepalive(tcp, keepaliveSettings{
			Idle:     s.opts.KeepaliveIdle,
			Interval: s.opts.KeepaliveInterval,
			Retries:  s.opts.KeepaliveRetries,
		})
		if errors.Is(err, ErrKeepaliveUnsupported) {
			log.Info("keepalive tuning not supported on this platform", "error", err)
		} else if err != nil {
			log.Warn("failed to set keepalive", "error", err)
		}
	}
}

// serveConn runs the MCP loop on conn. A close at a message boundary, or
// one caused by shutdown, returns nil. Anything else is a *ConnectionError.
func (s *TCPServer) serveConn(ctx context.Context, conn net.Conn) error {
	peer := conn.RemoteAddr().String()
	s.setState(peer, StateServing)

	srv := mcp.NewServer(conn, conn, s.handler, mcp.WithLogger(logger.WithPeer("tcp", peer)))
	err := srv.Run(ctx)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	return &ConnectionError{Peer: peer, Err: err}
}
