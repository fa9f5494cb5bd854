package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhubert/memory-mcp/logger"
)

const (
	ProtocolVersion      = "2025-03-26"
	DefaultServerName    = "memory-mcp"
	DefaultServerVersion = "0.1.0"
)

// supportedVersions lists protocol versions echoed back when a client asks.
var supportedVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

var (
	// ErrUnknownTool is returned by an Engine for a name it does not serve.
	ErrUnknownTool = errors.New("mcp: unknown tool")
	// ErrUnknownResource is returned by a ResourceProvider for an unknown URI.
	ErrUnknownResource = errors.New("mcp: unknown resource")
)

// Engine executes tools. Call receives decoded JSON arguments and returns a
// JSON-encodable result.
type Engine interface {
	Tools() []ToolDefinition
	Call(ctx context.Context, name string, args map[string]any) (any, error)
}

// ResourceProvider is implemented by engines that expose static resources.
type ResourceProvider interface {
	Resources() []Resource
	ReadResource(ctx context.Context, uri string) (ResourceContents, error)
}

// Handler dispatches single JSON-RPC messages to an Engine. It holds no
// per-client state and is safe for concurrent use.
type Handler struct {
	engine       Engine
	resources    ResourceProvider
	info         ServerInfo
	instructions string
	tracer       trace.Tracer
	log          *slog.Logger
}

// HandlerOption is a functional option for configuring Handler
type HandlerOption func(*Handler)

// WithServerInfo sets the name and version reported by initialize.
func WithServerInfo(name, version string) HandlerOption {
	return func(h *Handler) {
		if name != "" {
			h.info.Name = name
		}
		if version != "" {
			h.info.Version = version
		}
	}
}

// WithInstructions sets the instructions returned by initialize.
func WithInstructions(text string) HandlerOption {
	return func(h *Handler) {
		h.instructions = text
	}
}

// NewHandler creates a Handler for engine. If engine also implements
// ResourceProvider, resources/list and resources/read are served.
func NewHandler(engine Engine, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine: engine,
		info:   ServerInfo{Name: DefaultServerName, Version: DefaultServerVersion},
		tracer: otel.Tracer("github.com/zhubert/memory-mcp/mcp"),
		log:    logger.WithComponent("mcp"),
	}
	if rp, ok := engine.(ResourceProvider); ok {
		h.resources = rp
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleMessage processes one raw JSON-RPC message. It returns nil when no
// response is due (notifications).
func (h *Handler) HandleMessage(ctx context.Context, data []byte) *JSONRPCResponse {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return errorResponse(nil, CodeInvalidRequest, "Batch requests are not supported")
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		h.log.Warn("JSON parse error", "error", err)
		return errorResponse(nil, CodeParseError, "Parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid Request")
	}

	h.log.Debug("received message", "method", req.Method, "id", req.ID)
	resp := h.handleRequest(ctx, &req)
	if req.IsNotification() {
		return nil
	}
	return resp
}

func (h *Handler) handleRequest(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "notifications/initialized", "initialized":
		h.log.Debug("initialized notification received")
		return nil
	case "ping":
		return resultResponse(req.ID, struct{}{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: h.engine.Tools()})
	case "tools/call":
		return h.handleToolsCall(ctx, req)
	case "resources/list":
		if h.resources == nil {
			break
		}
		return resultResponse(req.ID, ResourcesListResult{Resources: h.resources.Resources()})
	case "resources/read":
		if h.resources == nil {
			break
		}
		return h.handleResourcesRead(ctx, req)
	}

	if !req.IsNotification() {
		h.log.Warn("unknown method", "method", req.Method)
	}
	return errorResponse(req.ID, CodeMethodNotFound, "Method not found")
}

func (h *Handler) handleInitialize(req *JSONRPCRequest) *JSONRPCResponse {
	version := ProtocolVersion
	var params InitializeParams
	if len(req.Params) > 0 && json.Unmarshal(req.Params, &params) == nil {
		if slices.Contains(supportedVersions, params.ProtocolVersion) {
			version = params.ProtocolVersion
		}
		h.log.Info("client initializing", "client", params.ClientInfo.Name, "clientVersion", params.ClientInfo.Version, "protocolVersion", version)
	}

	caps := Capability{Tools: &ToolCapability{}}
	if h.resources != nil {
		caps.Resources = &ResourceCapability{}
	}
	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      h.info,
		Instructions:    h.instructions,
	})
}

func (h *Handler) handleToolsCall(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		h.log.Warn("failed to parse tool call params", "error", err)
		return errorResponse(req.ID, CodeInvalidParams, "Invalid params")
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	ctx, span := h.tracer.Start(ctx, "tools/call "+params.Name, trace.WithAttributes(
		attribute.String("mcp.tool.name", params.Name),
	))
	defer span.End()

	result, err := h.engine.Call(ctx, params.Name, params.Arguments)
	if errors.Is(err, ErrUnknownTool) {
		span.SetStatus(codes.Error, "unknown tool")
		h.log.Warn("unknown tool", "tool", params.Name)
		return errorResponse(req.ID, CodeInvalidParams, "Unknown tool: "+params.Name)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.log.Warn("tool call failed", "tool", params.Name, "error", err)
		return resultResponse(req.ID, toolResult(map[string]any{"error": err.Error()}, true))
	}
	return resultResponse(req.ID, toolResult(result, false))
}

func (h *Handler) handleResourcesRead(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	var params ResourceReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return errorResponse(req.ID, CodeInvalidParams, "Invalid params")
	}

	contents, err := h.resources.ReadResource(ctx, params.URI)
	if errors.Is(err, ErrUnknownResource) {
		return errorResponse(req.ID, CodeInvalidParams, "Unknown resource: "+params.URI)
	}
	if err != nil {
		h.log.Warn("resource read failed", "uri", params.URI, "error", err)
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	return resultResponse(req.ID, ResourceReadResult{Contents: []ResourceContents{contents}})
}

// toolResult renders result as JSON text content. Object results are also
// attached as structured content.
func toolResult(result any, isError bool) ToolCallResult {
	text, err := json.Marshal(result)
	if err != nil {
		return ToolCallResult{
			Content: []ContentItem{{Type: "text", Text: fmt.Sprintf(`{"error":%q}`, "failed to encode result: "+err.Error())}},
			IsError: true,
		}
	}

	out := ToolCallResult{
		Content: []ContentItem{{Type: "text", Text: string(text)}},
		IsError: isError,
	}
	if len(text) > 0 && text[0] == '{' {
		out.StructuredContent = json.RawMessage(text)
	}
	return out
}

func resultResponse(id any, result any) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

func errorResponse(id any, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
}
