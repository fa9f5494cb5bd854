package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// fakeEngine echoes its arguments for "echo" and fails for "fail".
type fakeEngine struct {
	calls []string
}

func (e *fakeEngine) Tools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "echo",
			Description: "Return the arguments",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{
				"msg": {Type: "string", Description: "Message"},
			}},
		},
		{Name: "fail", Description: "Always fails", InputSchema: InputSchema{Type: "object"}},
		{Name: "list", Description: "Returns an array", InputSchema: InputSchema{Type: "object"}},
	}
}

func (e *fakeEngine) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	e.calls = append(e.calls, name)
	switch name {
	case "echo":
		return args, nil
	case "fail":
		return nil, errors.New("backend unavailable")
	case "list":
		return []int{1, 2, 3}, nil
	}
	return nil, ErrUnknownTool
}

type resourceEngine struct {
	fakeEngine
}

func (e *resourceEngine) Resources() []Resource {
	return []Resource{{URI: "meta://about", Name: "about", MimeType: "text/plain"}}
}

func (e *resourceEngine) ReadResource(ctx context.Context, uri string) (ResourceContents, error) {
	if uri != "meta://about" {
		return ResourceContents{}, ErrUnknownResource
	}
	return ResourceContents{URI: uri, MimeType: "text/plain", Text: "about text"}, nil
}

func handle(t *testing.T, h *Handler, msg string) *JSONRPCResponse {
	t.Helper()
	return h.HandleMessage(context.Background(), []byte(msg))
}

// decodeResult round-trips the response result into out.
func decodeResult(t *testing.T, resp *JSONRPCResponse, out any) {
	t.Helper()
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode result %s: %v", data, err)
	}
}

func TestHandleMessage_ErrorCodes(t *testing.T) {
	h := NewHandler(&fakeEngine{})

	tests := []struct {
		name string
		msg  string
		code int
	}{
		{"parse error", `{"jsonrpc":"2.0",`, CodeParseError},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, CodeInvalidRequest},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"bogus"}`, CodeMethodNotFound},
		{"tools/call bad params", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":"x"}`, CodeInvalidParams},
		{"tools/call missing name", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, CodeInvalidParams},
		{"unknown tool", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope"}}`, CodeInvalidParams},
		{"resources without provider", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, CodeMethodNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := handle(t, h, tc.msg)
			if resp == nil || resp.Error == nil {
				t.Fatalf("expected error response, got %+v", resp)
			}
			if resp.Error.Code != tc.code {
				t.Errorf("code = %d, want %d (%s)", resp.Error.Code, tc.code, resp.Error.Message)
			}
		})
	}
}

func TestHandleMessage_Notifications(t *testing.T) {
	h := NewHandler(&fakeEngine{})

	for _, msg := range []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`,
	} {
		if resp := handle(t, h, msg); resp != nil {
			t.Errorf("notification %s got response %+v", msg, resp)
		}
	}
}

func TestHandleMessage_Initialize(t *testing.T) {
	h := NewHandler(&resourceEngine{}, WithServerInfo("memory", "9.9.9"), WithInstructions("use tools"))

	resp := handle(t, h, `{"jsonrpc":"2.0","id":"init-1","method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1"}}}`)
	if resp.ID != "init-1" {
		t.Errorf("ID = %v, want init-1", resp.ID)
	}

	var result InitializeResult
	decodeResult(t, resp, &result)
	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("ProtocolVersion = %q, want the client's supported version", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "memory" || result.ServerInfo.Version != "9.9.9" {
		t.Errorf("ServerInfo = %+v", result.ServerInfo)
	}
	if result.Capabilities.Tools == nil || result.Capabilities.Resources == nil {
		t.Errorf("Capabilities = %+v, want tools and resources", result.Capabilities)
	}
	if result.Instructions != "use tools" {
		t.Errorf("Instructions = %q", result.Instructions)
	}
}

func TestHandleMessage_InitializeUnknownVersion(t *testing.T) {
	h := NewHandler(&fakeEngine{})

	var result InitializeResult
	decodeResult(t, handle(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`), &result)
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("ProtocolVersion = %q, want %q", result.ProtocolVersion, ProtocolVersion)
	}
	if result.Capabilities.Resources != nil {
		t.Error("resources capability should be absent without a provider")
	}
}

func TestHandleMessage_Ping(t *testing.T) {
	h := NewHandler(&fakeEngine{})
	resp := handle(t, h, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)

	data, _ := json.Marshal(resp)
	if !strings.Contains(string(data), `"result":{}`) {
		t.Errorf("ping response = %s, want empty result object", data)
	}
}

func TestHandleMessage_ToolsList(t *testing.T) {
	h := NewHandler(&fakeEngine{})

	var result ToolsListResult
	decodeResult(t, handle(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`), &result)
	if len(result.Tools) != 3 || result.Tools[0].Name != "echo" {
		t.Errorf("tools = %+v", result.Tools)
	}
}

func TestHandleMessage_ToolsCall(t *testing.T) {
	engine := &fakeEngine{}
	h := NewHandler(engine)

	t.Run("object result", func(t *testing.T) {
		var result ToolCallResult
		decodeResult(t, handle(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"msg":"hi"}}}`), &result)
		if result.IsError {
			t.Error("IsError should be false")
		}
		if len(result.Content) != 1 || result.Content[0].Type != "text" || result.Content[0].Text != `{"msg":"hi"}` {
			t.Errorf("content = %+v", result.Content)
		}
		if result.StructuredContent == nil {
			t.Error("object results should carry structured content")
		}
	})

	t.Run("array result", func(t *testing.T) {
		var result ToolCallResult
		decodeResult(t, handle(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list"}}`), &result)
		if result.Content[0].Text != "[1,2,3]" {
			t.Errorf("text = %q", result.Content[0].Text)
		}
		if result.StructuredContent != nil {
			t.Error("non-object results should not carry structured content")
		}
	})

	t.Run("tool failure is a result", func(t *testing.T) {
		var result ToolCallResult
		decodeResult(t, handle(t, h, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"fail"}}`), &result)
		if !result.IsError {
			t.Error("IsError should be true")
		}
		if !strings.Contains(result.Content[0].Text, "backend unavailable") {
			t.Errorf("text = %q", result.Content[0].Text)
		}
	})

	if len(engine.calls) != 3 {
		t.Errorf("engine saw %d calls, want 3", len(engine.calls))
	}
}

func TestHandleMessage_Resources(t *testing.T) {
	h := NewHandler(&resourceEngine{})

	var list ResourcesListResult
	decodeResult(t, handle(t, h, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`), &list)
	if len(list.Resources) != 1 || list.Resources[0].URI != "meta://about" {
		t.Errorf("resources = %+v", list.Resources)
	}

	var read ResourceReadResult
	decodeResult(t, handle(t, h, `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"meta://about"}}`), &read)
	if len(read.Contents) != 1 || read.Contents[0].Text != "about text" {
		t.Errorf("contents = %+v", read.Contents)
	}

	resp := handle(t, h, `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"meta://nope"}}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("unknown resource response = %+v", resp)
	}
}
