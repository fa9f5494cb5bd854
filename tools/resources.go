package tools

import (
	"context"
	"fmt"

	"github.com/zhubert/memory-mcp/mcp"
)

const (
	aboutURI        = "meta://about"
	instructionsURI = "meta://instructions"
)

const instructions = `AI Memory Layer MCP Server. Provides access to business and customer memories stored in HelixDB.

Tools:
- search_semantic: semantic search over products and preferences
- query_paginated, next_page, collect_all, close_session: page through large query results
- do_query: direct execution of an allowlisted stored query, use only when nothing else fits`

const usageText = `# AI Memory Layer - Usage Instructions

## Semantic search
{"query": "eco friendly bottles", "memory_types": ["products"], "limit": 5, "business_id": "BIZ123"}

## Paging through a large result
1. query_paginated {"endpoint": "get_business_products", "payload": {"business_id": "BIZ123"}, "page_size": 20}
2. next_page {"session_id": "<id from step 1>"} until has_more is false
3. close_session {"session_id": "<id>"} when done, or collect_all to drain the rest

Sessions expire an hour after creation once more than 100 are open.

## Direct query (last resort)
{"endpoint": "get_business_products", "payload": {"business_id": "BIZ123"}}`

// Instructions is the text sent in the initialize response.
func (e *Engine) Instructions() string {
	return instructions
}

// Resources lists the static resources.
func (e *Engine) Resources() []mcp.Resource {
	return []mcp.Resource{
		{
			URI:         aboutURI,
			Name:        "About AI Memory Layer",
			Description: "Server overview and embedding configuration",
			MimeType:    "text/plain",
		},
		{
			URI:         instructionsURI,
			Name:        "Usage Instructions",
			Description: "How to use the memory tools",
			MimeType:    "text/plain",
		},
	}
}

// ReadResource returns one static resource.
func (e *Engine) ReadResource(_ context.Context, uri string) (mcp.ResourceContents, error) {
	var text string
	switch uri {
	case aboutURI:
		text = e.aboutText()
	case instructionsURI:
		text = usageText
	default:
		return mcp.ResourceContents{}, fmt.Errorf("%w: %s", mcp.ErrUnknownResource, uri)
	}
	return mcp.ResourceContents{URI: uri, MimeType: "text/plain", Text: text}, nil
}

func (e *Engine) aboutText() string {
	text := fmt.Sprintf(`# AI Memory Layer MCP Server

Version: %s

MCP server providing access to business and customer memories stored in HelixDB.

Embedding mode: %s`, e.version, e.mode)
	if e.model != "" {
		text += "\nEmbedding model: " + e.model
	}
	return text + fmt.Sprintf("\nOpen pagination sessions: %d\n", e.sessions.Len())
}
