package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Server runs a Handler over a stream of newline-delimited JSON messages.
type Server struct {
	reader  *bufio.Reader
	writer  io.Writer
	handler *Handler
	mu      sync.Mutex
	log     *slog.Logger
}

// ServerOption is a functional option for configuring Server
type ServerOption func(*Server)

// WithLogger replaces the server's logger, typically with one scoped to a peer.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer creates a Server reading requests from r and writing responses to w.
func NewServer(r io.Reader, w io.Writer, h *Handler, opts ...ServerOption) *Server {
	s := &Server{
		reader:  bufio.NewReader(r),
		writer:  w,
		handler: h,
		log:     h.log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves messages one at a time until the stream ends. A clean EOF at a
// message boundary returns nil. EOF inside a message returns an error
// wrapping io.ErrUnexpectedEOF. Run also stops before reading the next
// message once ctx is done; unblocking a pending read is the caller's job,
// usually by closing the connection.
func (s *Server) Run(ctx context.Context) error {
	s.log.Debug("server starting")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := s.reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			s.log.Debug("read error", "error", err)
			return err
		}
		atEOF := err != nil

		line = bytes.TrimSpace(line)
		if atEOF {
			if len(line) > 0 {
				return fmt.Errorf("connection closed mid-message after %d bytes: %w", len(line), io.ErrUnexpectedEOF)
			}
			s.log.Debug("EOF received, shutting down")
			return nil
		}
		if len(line) == 0 {
			continue
		}

		if resp := s.handler.HandleMessage(ctx, line); resp != nil {
			if err := s.send(resp); err != nil {
				return err
			}
		}
	}
}

func (s *Server) send(resp *JSONRPCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		data, _ = json.Marshal(errorResponse(resp.ID, CodeInternalError, "failed to encode response"))
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		s.log.Debug("failed to write response", "error", err)
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
