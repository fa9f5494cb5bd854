// Package mcp implements the Model Context Protocol request handling shared
// by every transport.
//
// # Overview
//
// A Handler turns one JSON-RPC 2.0 message into at most one response. It
// knows nothing about sockets: tools come from an Engine and optional
// static resources come from a ResourceProvider.
//
// A Server wraps a Handler around a byte stream carrying newline-delimited
// JSON. The stdio and TCP transports each run one Server per connection;
// the HTTP transport calls Handler.HandleMessage directly for each POST.
//
// # Methods
//
//	initialize                 server info and capabilities
//	notifications/initialized  acknowledged, no response
//	ping                       empty result
//	tools/list                 Engine.Tools
//	tools/call                 Engine.Call
//	resources/list             ResourceProvider.Resources
//	resources/read             ResourceProvider.ReadResource
//
// # Errors
//
// Protocol failures map to JSON-RPC error codes: -32700 for unparseable
// JSON, -32600 for a malformed request, -32601 for an unknown method and
// -32602 for bad params or an unknown tool. A tool that runs and fails is
// not a protocol failure; it produces a result with isError set.
//
// # Ordering
//
// A Server handles one message at a time, so responses on a connection are
// written in request order.
package mcp
