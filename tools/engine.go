// Package tools is the tool-execution engine behind the MCP handler. It
// forwards queries to a HelixDB backend, pages large result sets through a
// session.Store and runs semantic search with either server-side or local
// embeddings.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zhubert/memory-mcp/config"
	"github.com/zhubert/memory-mcp/logger"
	"github.com/zhubert/memory-mcp/mcp"
	"github.com/zhubert/memory-mcp/session"
)

// Backend runs a named query. *helix.Client satisfies it.
type Backend interface {
	Query(ctx context.Context, endpoint string, payload any) (any, error)
}

// Embedder turns text into a vector. *embedding.Client satisfies it.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Engine implements mcp.Engine and mcp.ResourceProvider.
type Engine struct {
	backend  Backend
	sessions *session.Store
	embedder Embedder
	mode     string
	model    string
	version  string
	log      *slog.Logger
}

// Option is a functional option for configuring Engine
type Option func(*Engine)

// WithEmbedder generates query vectors locally through e instead of
// leaving embedding to the database.
func WithEmbedder(e Embedder, model string) Option {
	return func(eng *Engine) {
		eng.embedder = e
		eng.model = model
		eng.mode = config.EmbeddingModeMCP
	}
}

// WithVersion sets the version reported by meta://about.
func WithVersion(v string) Option {
	return func(eng *Engine) {
		eng.version = v
	}
}

// NewEngine creates an engine over backend. A nil store gets a default one.
func NewEngine(backend Backend, store *session.Store, opts ...Option) *Engine {
	if store == nil {
		store = session.NewStore()
	}
	e := &Engine{
		backend:  backend,
		sessions: store,
		mode:     config.EmbeddingModeHelixDB,
		version:  "0.1.0",
		log:      logger.WithComponent("tools"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type toolFunc func(e *Engine, ctx context.Context, args map[string]any) (any, error)

var toolFuncs = map[string]toolFunc{
	"do_query":        (*Engine).doQuery,
	"query_paginated": (*Engine).queryPaginated,
	"next_page":       (*Engine).nextPage,
	"collect_all":     (*Engine).collectAll,
	"close_session":   (*Engine).closeSession,
	"search_semantic": (*Engine).searchSemantic,
}

// Call runs the named tool. Unknown names wrap mcp.ErrUnknownTool.
func (e *Engine) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	fn, ok := toolFuncs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mcp.ErrUnknownTool, name)
	}

	e.log.Debug("tool call", "tool", name)
	result, err := fn(e, ctx, args)
	if err != nil && !errors.Is(err, ErrInvalidArgument) {
		e.log.Error("tool failed", "tool", name, "error", err)
	}
	return result, err
}
