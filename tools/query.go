package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ErrQueryNotAllowed is returned for endpoints outside allowedQueries.
var ErrQueryNotAllowed = errors.New("query not allowed")

// allowedQueries are the stored queries do_query and query_paginated may
// run. Anything else needs a dedicated tool.
var allowedQueries = []string{
	"add_business_product_memory", "get_business_products", "search_business_products",
	"search_business_products_hybrid", "update_product_price", "update_product_availability",
	"update_product_full", "delete_product", "delete_product_with_embedding",

	"add_business_service_memory", "get_business_services", "search_business_services",
	"update_service_price", "update_service_availability", "update_service_full",
	"delete_service", "delete_service_with_embedding",

	"add_business_location_memory", "get_business_locations", "update_location_address",
	"delete_location", "delete_location_with_embedding",

	"add_business_hours_memory", "get_business_hours", "update_business_hours_monday",
	"delete_hours", "delete_hours_with_embedding",

	"add_business_social_media_memory", "get_business_social_media", "update_social_stats",
	"delete_social", "delete_social_with_embedding",

	"add_business_policy_memory", "get_business_policies", "update_policy_content",
	"delete_policy", "delete_policy_with_embedding",

	"add_business_event_memory", "get_business_events", "update_event_dates",
	"delete_event", "delete_event_with_embedding",

	"add_customer_behavior_memory", "get_customer_behaviors", "update_behavior_context",
	"delete_behavior", "delete_behavior_with_embedding",

	"add_customer_preference_memory", "get_customer_preferences", "search_customer_preferences",
	"search_customer_preferences_hybrid", "update_preference_strength", "delete_preference",
	"delete_preference_with_embedding",

	"add_customer_desire_memory", "get_customer_desires", "update_desire_priority",
	"delete_desire", "delete_desire_with_embedding",

	"add_customer_rule_memory", "get_customer_rules", "update_rule_enforcement",
	"delete_rule", "delete_rule_with_embedding",

	"add_customer_feedback_memory", "get_customer_feedback", "update_feedback_rating",
	"delete_feedback", "delete_feedback_with_embedding",
}

// AllowedQueries returns a copy of the stored query allowlist.
func AllowedQueries() []string {
	return slices.Clone(allowedQueries)
}

func queryArgs(args map[string]any) (string, map[string]any, error) {
	endpoint, err := requiredString(args, "endpoint")
	if err != nil {
		return "", nil, err
	}
	if !slices.Contains(allowedQueries, endpoint) {
		return "", nil, fmt.Errorf("%w: %s", ErrQueryNotAllowed, endpoint)
	}
	payload, err := optionalObject(args, "payload")
	if err != nil {
		return "", nil, err
	}
	return endpoint, payload, nil
}

func (e *Engine) doQuery(ctx context.Context, args map[string]any) (any, error) {
	endpoint, payload, err := queryArgs(args)
	if err != nil {
		return nil, err
	}

	e.log.Info("do_query", "endpoint", endpoint)
	result, err := e.backend.Query(ctx, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", endpoint, err)
	}
	return map[string]any{
		"endpoint": endpoint,
		"result":   result,
	}, nil
}

// page is one slice of a paginated result set.
type page struct {
	SessionID string `json:"session_id"`
	Items     []any  `json:"items"`
	Returned  int    `json:"returned"`
	Total     int    `json:"total"`
	Remaining int    `json:"remaining"`
	HasMore   bool   `json:"has_more"`
}

func (e *Engine) queryPaginated(ctx context.Context, args map[string]any) (any, error) {
	endpoint, payload, err := queryArgs(args)
	if err != nil {
		return nil, err
	}
	size, err := intInRange(args, "page_size", defaultPageSize, 1, maxPageSize)
	if err != nil {
		return nil, err
	}

	result, err := e.backend.Query(ctx, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", endpoint, err)
	}

	id := e.sessions.Create(endpoint, asItems(result))
	e.log.Info("query_paginated", "endpoint", endpoint, "session", id)
	return e.page(id, size)
}

func (e *Engine) nextPage(_ context.Context, args map[string]any) (any, error) {
	id, err := requiredString(args, "session_id")
	if err != nil {
		return nil, err
	}
	size, err := intInRange(args, "page_size", defaultPageSize, 1, maxPageSize)
	if err != nil {
		return nil, err
	}
	return e.page(id, size)
}

func (e *Engine) page(id string, size int) (*page, error) {
	items, info, err := e.sessions.Advance(id, size)
	if err != nil {
		return nil, err
	}
	return &page{
		SessionID: id,
		Items:     items,
		Returned:  len(items),
		Total:     info.Total,
		Remaining: info.Remaining(),
		HasMore:   info.Remaining() > 0,
	}, nil
}

func (e *Engine) collectAll(_ context.Context, args map[string]any) (any, error) {
	id, err := requiredString(args, "session_id")
	if err != nil {
		return nil, err
	}
	items, err := e.sessions.CollectAll(id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id": id,
		"items":      items,
		"returned":   len(items),
	}, nil
}

func (e *Engine) closeSession(_ context.Context, args map[string]any) (any, error) {
	id, err := requiredString(args, "session_id")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id": id,
		"closed":     e.sessions.Remove(id),
	}, nil
}

// asItems flattens a query answer into pageable items. Arrays page per
// element; a top-level object with a single array field pages that field;
// anything else is one item.
func asItems(result any) []any {
	switch v := result.(type) {
	case nil:
		return []any{}
	case []any:
		return v
	case map[string]any:
		if len(v) == 1 {
			for _, inner := range v {
				if arr, ok := inner.([]any); ok {
					return arr
				}
			}
		}
	}
	return []any{result}
}
