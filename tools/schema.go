package tools

import "github.com/zhubert/memory-mcp/mcp"

func intPtr(n int) *int { return &n }

var (
	endpointProp = mcp.Property{
		Type:        "string",
		Description: "Name of a stored HelixDB query, e.g. get_business_products",
		Enum:        AllowedQueries(),
	}
	payloadProp = mcp.Property{
		Type:        "object",
		Description: "JSON body passed to the query",
	}
	sessionIDProp = mcp.Property{
		Type:        "string",
		Description: "Session id returned by query_paginated",
	}
	pageSizeProp = mcp.Property{
		Type:        "integer",
		Description: "Items per page",
		Default:     defaultPageSize,
		Minimum:     intPtr(1),
		Maximum:     intPtr(maxPageSize),
	}
)

// Tools returns the tool catalogue.
func (e *Engine) Tools() []mcp.ToolDefinition {
	return []mcp.ToolDefinition{
		{
			Name:        "search_semantic",
			Description: "Semantic search across business and customer memories",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"query": {Type: "string", Description: "Natural language search text"},
					"memory_types": {
						Type:        "array",
						Description: "Memory types to search: products, preferences",
						Items:       &mcp.Property{Type: "string"},
					},
					"limit": {
						Type:        "integer",
						Description: "Maximum results per memory type",
						Default:     defaultSearchLimit,
						Minimum:     intPtr(1),
						Maximum:     intPtr(maxSearchLimit),
					},
					"business_id": {Type: "string", Description: "Restrict product results to one business"},
					"customer_id": {Type: "string", Description: "Restrict preference results to one customer"},
				},
				Required: []string{"query", "memory_types"},
			},
		},
		{
			Name:        "query_paginated",
			Description: "Run a stored query and page through its results. Returns the first page and a session id",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"endpoint":  endpointProp,
					"payload":   payloadProp,
					"page_size": pageSizeProp,
				},
				Required: []string{"endpoint"},
			},
		},
		{
			Name:        "next_page",
			Description: "Fetch the next page of a paginated query",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"session_id": sessionIDProp,
					"page_size":  pageSizeProp,
				},
				Required: []string{"session_id"},
			},
		},
		{
			Name:        "collect_all",
			Description: "Return every remaining result of a paginated query",
			InputSchema: mcp.InputSchema{
				Type:       "object",
				Properties: map[string]mcp.Property{"session_id": sessionIDProp},
				Required:   []string{"session_id"},
			},
		},
		{
			Name:        "close_session",
			Description: "Discard a paginated query session",
			InputSchema: mcp.InputSchema{
				Type:       "object",
				Properties: map[string]mcp.Property{"session_id": sessionIDProp},
				Required:   []string{"session_id"},
			},
		},
		{
			Name:        "do_query",
			Description: "ADVANCED: execute an allowlisted HelixDB query directly. Use only when no other tool fits",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"endpoint": endpointProp,
					"payload":  payloadProp,
				},
				Required: []string{"endpoint"},
			},
		},
	}
}
