package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zhubert/memory-mcp/logger"
	"github.com/zhubert/memory-mcp/mcp"
)

const (
	// DefaultSSEKeepAlive is the interval between keep-alive comments on a
	// streamed response.
	DefaultSSEKeepAlive = 15 * time.Second

	maxRequestBytes   = 4 << 20
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// HTTPServer serves MCP over HTTP: POST / carries one JSON-RPC message,
// GET / is a liveness probe. It keeps no per-client state.
type HTTPServer struct {
	handler   *mcp.Handler
	keepAlive time.Duration
	listener  net.Listener
	srv       *http.Server
	log       *slog.Logger
}

// HTTPServerOption is a functional option for configuring HTTPServer
type HTTPServerOption func(*HTTPServer)

// WithSSEKeepAlive overrides the keep-alive comment interval.
func WithSSEKeepAlive(d time.Duration) HTTPServerOption {
	return func(s *HTTPServer) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// NewHTTPServer creates a server that is not yet listening.
func NewHTTPServer(h *mcp.Handler, opts ...HTTPServerOption) *HTTPServer {
	s := &HTTPServer{
		handler:   h,
		keepAlive: DefaultSSEKeepAlive,
		log:       logger.WithComponent("http"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
	return s
}

// Listen binds addr. Failure is a *BindError.
func (s *HTTPServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Transport: "http", Addr: addr, Err: err}
	}
	s.listener = ln
	s.log.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *HTTPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve handles requests until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("http: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown incomplete", "error", err)
			s.srv.Close()
		}
	})
	defer stop()

	err := s.srv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Info("http transport stopped")
		return nil
	}
	return fmt.Errorf("http: serve: %w", err)
}

// ServeHTTP implements http.Handler.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case http.MethodPost:
		s.handlePost(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.log.Warn("failed to read request body", "peer", r.RemoteAddr, "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !isJSONObject(body) {
		s.log.Warn("request body is not a JSON object", "peer", r.RemoteAddr)
		writeJSON(w, http.StatusBadRequest, &mcp.JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   &mcp.RPCError{Code: mcp.CodeParseError, Message: "Parse error"},
		})
		return
	}

	if acceptsEventStream(r) && !isNotification(body) {
		s.streamResponse(w, r, body)
		return
	}

	resp := s.handler.HandleMessage(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamResponse answers as Server-Sent Events, emitting keep-alive
// comments until the handler finishes.
func (s *HTTPServer) streamResponse(w http.ResponseWriter, r *http.Request, body []byte) {
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc.Flush()

	done := make(chan *mcp.JSONRPCResponse, 1)
	go func() {
		done <- s.handler.HandleMessage(r.Context(), body)
	}()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case resp := <-done:
			data, err := json.Marshal(resp)
			if err != nil {
				s.log.Error("failed to marshal response", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				s.log.Debug("client went away before response", "peer", r.RemoteAddr, "error", err)
				return
			}
			rc.Flush()
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			rc.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func acceptsEventStream(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept") {
		if strings.Contains(v, "text/event-stream") {
			return true
		}
	}
	return false
}

// isJSONObject reports whether body is exactly one well-formed JSON object.
func isJSONObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

func isNotification(body []byte) bool {
	var probe struct {
		ID     any    `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.ID == nil && probe.Method != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
