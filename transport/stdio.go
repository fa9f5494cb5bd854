package transport

import (
	"context"
	"io"
	"os"

	"github.com/zhubert/memory-mcp/logger"
	"github.com/zhubert/memory-mcp/mcp"
)

// ServeStdio serves one implicit connection over the process's standard
// streams. It returns when stdin reaches EOF, on a read or write error, or
// when ctx is done.
func ServeStdio(ctx context.Context, h *mcp.Handler) error {
	return serveStream(ctx, h, os.Stdin, os.Stdout)
}

func serveStream(ctx context.Context, h *mcp.Handler, in io.Reader, out io.Writer) error {
	log := logger.WithComponent("stdio")
	log.Info("stdio transport started")

	srv := mcp.NewServer(in, out, h, mcp.WithLogger(log))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			log.Warn("stdio transport stopped", "error", err)
			return &ConnectionError{Peer: "stdio", Err: err}
		}
		log.Info("stdin closed, stdio transport stopped")
		return nil
	case <-ctx.Done():
		// A blocked stdin read cannot be interrupted; the goroutine ends with the process.
		log.Info("stdio transport stopping")
		return nil
	}
}
