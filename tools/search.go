package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhubert/memory-mcp/config"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// ErrNoEmbedder is returned when local embedding is selected without an
// Embedder.
var ErrNoEmbedder = errors.New("embedding provider not configured")

// searchQueries maps a searchable memory type to its stored queries.
var searchQueries = map[string]struct {
	semantic string
	hybrid   string
}{
	"products":    {"search_business_products_semantic", "search_business_products_hybrid"},
	"preferences": {"search_customer_preferences_semantic", "search_customer_preferences_hybrid"},
}

type searchRequest struct {
	query       string
	memoryTypes []string
	limit       int
	businessID  string
	customerID  string
}

func parseSearch(args map[string]any) (*searchRequest, error) {
	q, err := requiredString(args, "query")
	if err != nil {
		return nil, err
	}
	types, err := requiredStrings(args, "memory_types")
	if err != nil {
		return nil, err
	}
	limit, err := intInRange(args, "limit", defaultSearchLimit, 1, maxSearchLimit)
	if err != nil {
		return nil, err
	}
	biz, err := optionalString(args, "business_id")
	if err != nil {
		return nil, err
	}
	cust, err := optionalString(args, "customer_id")
	if err != nil {
		return nil, err
	}
	return &searchRequest{query: q, memoryTypes: types, limit: limit, businessID: biz, customerID: cust}, nil
}

func (e *Engine) searchSemantic(ctx context.Context, args map[string]any) (any, error) {
	req, err := parseSearch(args)
	if err != nil {
		return nil, err
	}
	e.log.Info("search_semantic", "types", req.memoryTypes, "limit", req.limit, "mode", e.mode)

	var vector []float32
	if e.mode == config.EmbeddingModeMCP {
		if e.embedder == nil {
			return nil, ErrNoEmbedder
		}
		vector, err = e.embedder.GenerateEmbedding(ctx, req.query)
		if err != nil {
			return nil, fmt.Errorf("embedding generation failed: %w", err)
		}
		e.log.Debug("generated query embedding", "dimensions", len(vector))
	}

	results := []any{}
	var skipped, failed []string
	for _, memType := range req.memoryTypes {
		queries, ok := searchQueries[memType]
		if !ok {
			e.log.Info("skipping unsupported memory type for semantic search", "type", memType)
			skipped = append(skipped, memType)
			continue
		}

		var endpoint string
		var payload map[string]any
		if vector != nil {
			endpoint, payload = queries.hybrid, req.hybridPayload(memType, vector)
		} else {
			endpoint, payload = queries.semantic, req.semanticPayload()
		}

		found, err := e.backend.Query(ctx, endpoint, payload)
		if err != nil {
			e.log.Error("semantic search failed", "type", memType, "error", err)
			failed = append(failed, memType)
			continue
		}
		if arr, ok := found.([]any); ok {
			results = append(results, arr...)
		}
	}

	out := map[string]any{
		"query":          req.query,
		"memory_types":   req.memoryTypes,
		"total_results":  len(results),
		"limit":          req.limit,
		"embedding_mode": e.mode,
		"results":        results,
	}
	if e.mode == config.EmbeddingModeMCP {
		out["model"] = e.model
	}
	if len(skipped) > 0 {
		out["skipped_types"] = skipped
	}
	if len(failed) > 0 {
		out["failed_types"] = failed
	}
	return out, nil
}

// semanticPayload leaves embedding to the database.
func (r *searchRequest) semanticPayload() map[string]any {
	p := map[string]any{
		"query_text": r.query,
		"k":          r.limit,
	}
	if r.businessID != "" {
		p["business_id"] = r.businessID
	}
	if r.customerID != "" {
		p["customer_id"] = r.customerID
	}
	return p
}

// hybridPayload carries a precomputed vector. Owner filters only apply to
// the memory type they belong to.
func (r *searchRequest) hybridPayload(memType string, vector []float32) map[string]any {
	p := map[string]any{
		"query_embedding": vector,
		"limit":           r.limit,
	}
	if memType == "products" && r.businessID != "" {
		p["business_id"] = r.businessID
		p["min_price"] = 0.0
		p["max_price"] = 1000000.0
	}
	if memType == "preferences" && r.customerID != "" {
		p["customer_id"] = r.customerID
	}
	return p
}
