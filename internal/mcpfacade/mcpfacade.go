// Package mcpfacade exposes the worker's client-facing operations as MCP
// tools, standing in for the LSP transport boundary spec §6 describes as
// an external collaborator ("the transport layer that delivers edits and
// dispatches responses" is out of scope; this package is the concrete
// transport SPEC_FULL §10 adds so the worker is runnable end to end).
package mcpfacade

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loomkit/compileworker/internal/clock"
	"github.com/loomkit/compileworker/internal/debug"
	"github.com/loomkit/compileworker/internal/requestqueue"
	"github.com/loomkit/compileworker/internal/uri"
	"github.com/loomkit/compileworker/internal/version"
	"github.com/loomkit/compileworker/internal/worker"
)

// Server wraps an *mcp.Server bound to a *worker.Worker. Each tool call
// translates directly to one facade operation; stage requests resolve
// asynchronously and reply through the MCP roundtrip by blocking the
// handler goroutine on a buffered channel the sink sends its result on.
type Server struct {
	w      *worker.Worker
	server *mcp.Server
	nextID atomic.Uint64
}

// New constructs a Server bound to w and registers every tool.
func New(w *worker.Worker) *Server {
	s := &Server{
		w: w,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "compileworker-mcp-server",
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves the MCP protocol over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name:        "update_file",
		Description: "Replace a file's content with the editor's current text and version, then request a refresh.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"uri":     {Type: "string", Description: "File URI"},
				"version": {Type: "integer", Description: "Editor revision number"},
				"text":    {Type: "string", Description: "Full file text"},
			},
			Required: []string{"uri", "version", "text"},
		},
	}, s.handleUpdateFile)

	s.server.AddTool(&mcp.Tool{
		Name:        "touch_file",
		Description: "Mark an on-disk file as possibly changed, triggering a refresh.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"uri": {Type: "string"}},
			Required:   []string{"uri"},
		},
	}, s.handleTouchFile)

	s.server.AddTool(&mcp.Tool{
		Name:        "close_file",
		Description: "Transition a file from editor-authoritative back to on-disk.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"uri": {Type: "string"}},
			Required:   []string{"uri"},
		},
	}, s.handleCloseFile)

	s.server.AddTool(&mcp.Tool{
		Name:        "request",
		Description: "Request a compile stage result (parsed, resolved, typed, errors) for a file, waiting until it is satisfiable.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"uri":   {Type: "string", Description: "File URI"},
				"stage": {Type: "string", Description: "One of: parsed, resolved, typed, errors"},
			},
			Required: []string{"uri", "stage"},
		},
	}, s.handleRequest)

	s.server.AddTool(&mcp.Tool{
		Name:        "info",
		Description: "Get server version and capability information.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleInfo)
}

type updateFileParams struct {
	URI     string `json:"uri"`
	Version int64  `json:"version"`
	Text    string `json:"text"`
}

func (s *Server) handleUpdateFile(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p updateFileParams
	if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
		return errorResult("update_file", err)
	}
	s.w.UpdateFile(uri.Normalize(p.URI), clock.Version(p.Version), p.Text)
	return jsonResult(map[string]interface{}{"ok": true})
}

type uriParams struct {
	URI string `json:"uri"`
}

func (s *Server) handleTouchFile(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p uriParams
	if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
		return errorResult("touch_file", err)
	}
	s.w.TouchFile(uri.Normalize(p.URI))
	return jsonResult(map[string]interface{}{"ok": true})
}

func (s *Server) handleCloseFile(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p uriParams
	if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
		return errorResult("close_file", err)
	}
	s.w.CloseFile(uri.Normalize(p.URI))
	return jsonResult(map[string]interface{}{"ok": true})
}

type requestParams struct {
	URI   string `json:"uri"`
	Stage string `json:"stage"`
}

func (s *Server) handleRequest(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p requestParams
	if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
		return errorResult("request", err)
	}
	stage, ok := parseStage(p.Stage)
	if !ok {
		return errorResult("request", fmt.Errorf("unknown stage %q", p.Stage))
	}

	type outcome struct {
		payload requestqueue.Payload
		err     error
	}
	done := make(chan outcome, 1)

	id := s.nextID.Add(1)
	s.w.StartRequest(&requestqueue.Request{
		ID:    id,
		URI:   uri.Normalize(p.URI),
		Stage: stage,
		OnError: func(err error) {
			done <- outcome{err: err}
		},
		OnOK: func(payload requestqueue.Payload) {
			done <- outcome{payload: payload}
		},
	})

	select {
	case <-ctx.Done():
		s.w.CancelRequest(id)
		return errorResult("request", ctx.Err())
	case o := <-done:
		if o.err != nil {
			return errorResult("request", o.err)
		}
		debug.LogRequest("request %d satisfied at version %d", id, o.payload.Version)
		return jsonResult(map[string]interface{}{
			"name":    worker.NameString(o.payload.Name),
			"version": int64(o.payload.Version),
			"value":   o.payload.Value,
		})
	}
}

func parseStage(s string) (requestqueue.Stage, bool) {
	switch s {
	case "parsed":
		return requestqueue.Parsed, true
	case "resolved":
		return requestqueue.Resolved, true
	case "typed":
		return requestqueue.Typed, true
	case "errors":
		return requestqueue.Errors, true
	}
	return 0, false
}

func (s *Server) handleInfo(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]interface{}{
		"name":    "compileworker-mcp-server",
		"version": version.FullInfo(),
	})
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(content)}}}, nil
}

func errorResult(operation string, err error) (*mcp.CallToolResult, error) {
	content, _ := json.Marshal(map[string]interface{}{
		"operation": operation,
		"error":     err.Error(),
	})
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(content)}},
		IsError: true,
	}, nil
}
