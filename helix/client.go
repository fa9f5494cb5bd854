// Package helix is a small HTTP client for a HelixDB instance. Every query
// is a JSON POST to http://host:port/<endpoint> that answers with JSON.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	helixHTTPTimeout = 30 * time.Second
	maxErrorBody     = 4 << 10
)

// ErrMissingConnectionID is returned when mcp/init answers without a
// connection id.
var ErrMissingConnectionID = errors.New("helix: mcp/init response missing connection_id")

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix query %s failed with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client talks to one HelixDB instance. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tracer     trace.Tracer
}

// New creates a client for http://endpoint:port.
func New(endpoint string, port int) *Client {
	return NewWithClient(&http.Client{Timeout: helixHTTPTimeout}, "http://"+net.JoinHostPort(endpoint, strconv.Itoa(port)))
}

// NewWithClient creates a client with a custom HTTP client and base URL (for testing).
func NewWithClient(client *http.Client, baseURL string) *Client {
	if client == nil {
		client = &http.Client{Timeout: helixHTTPTimeout}
	}
	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tracer:     otel.Tracer("github.com/zhubert/memory-mcp/helix"),
	}
}

// BaseURL returns the scheme, host and port queries are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Query posts payload to endpoint and decodes the JSON answer. A nil
// payload is sent as an empty object.
func (c *Client) Query(ctx context.Context, endpoint string, payload any) (any, error) {
	endpoint = strings.TrimLeft(endpoint, "/")
	ctx, span := c.tracer.Start(ctx, "helix "+endpoint, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("helix.endpoint", endpoint)))
	defer span.End()

	result, err := c.query(ctx, endpoint, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (c *Client) query(ctx context.Context, endpoint string, payload any) (any, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to helix: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse helix response: %w", err)
	}
	return result, nil
}

// Init opens a server-side traversal connection and returns its id. The
// server may answer with a bare string or {"connection_id": "..."}.
func (c *Client) Init(ctx context.Context) (string, error) {
	result, err := c.Query(ctx, "mcp/init", map[string]any{})
	if err != nil {
		return "", err
	}
	switch v := result.(type) {
	case string:
		return v, nil
	case map[string]any:
		if id, ok := v["connection_id"].(string); ok {
			return id, nil
		}
	}
	return "", ErrMissingConnectionID
}

// Ping checks reachability by opening a connection.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.Init(ctx); err != nil {
		return fmt.Errorf("helix at %s unreachable: %w", c.baseURL, err)
	}
	return nil
}
