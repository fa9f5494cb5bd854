// Package transport exposes one mcp.Handler over stdio, raw TCP and HTTP
// at the same time.
package transport

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zhubert/memory-mcp/config"
	"github.com/zhubert/memory-mcp/logger"
	"github.com/zhubert/memory-mcp/mcp"
)

// Run starts every enabled transport and blocks until all of them stop.
// With nothing enabled it returns config.ErrNoTransport without touching a
// socket. A transport that fails to bind is logged and skipped; the others
// keep running and the bind errors are joined into the result.
func Run(ctx context.Context, cfg config.ServerConfig, h *mcp.Handler) error {
	stdio := cfg.StdioEnabled()
	if !stdio && !cfg.EnableTCP && !cfg.EnableHTTP {
		return config.ErrNoTransport
	}

	log := logger.WithComponent("transport")

	var (
		g        errgroup.Group
		mu       sync.Mutex
		bindErrs []error
	)
	bindFailed := func(err error) {
		log.Error("transport failed to bind", "error", err)
		mu.Lock()
		bindErrs = append(bindErrs, err)
		mu.Unlock()
	}

	if cfg.EnableTCP {
		tcp := NewTCPServer(h, TCPOptionsFromConfig(cfg))
		g.Go(func() error {
			if err := tcp.Listen(cfg.TCPAddr()); err != nil {
				bindFailed(err)
				return nil
			}
			return tcp.Serve(ctx)
		})
	}

	if cfg.EnableHTTP {
		srv := NewHTTPServer(h)
		g.Go(func() error {
			if err := srv.Listen(cfg.HTTPAddr()); err != nil {
				bindFailed(err)
				return nil
			}
			return srv.Serve(ctx)
		})
	}

	if stdio {
		g.Go(func() error {
			return ServeStdio(ctx, h)
		})
	}

	log.Info("transports started", "stdio", stdio, "tcp", cfg.EnableTCP, "http", cfg.EnableHTTP)
	err := g.Wait()

	mu.Lock()
	defer mu.Unlock()
	return errors.Join(append(bindErrs, err)...)
}
