// ABOUTME: Protocol server: routes method+path to the tool endpoints, JSON-RPC surface, and observer API.
// ABOUTME: Composes the raw transport with the dispatcher, store, supervisor, and mailbox registry.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/daisyhq/daisy/internal/auth"
	"github.com/daisyhq/daisy/internal/mailbox"
	"github.com/daisyhq/daisy/internal/session"
	"github.com/daisyhq/daisy/internal/store"
	"github.com/daisyhq/daisy/internal/tools"
)

// ServerName identifies this server in health and status responses.
const ServerName = "daisy-mcp"

// protocolVersion is advertised in JSON-RPC initialize responses.
const protocolVersion = "2025-03-26"

// SessionController is the slice of the supervisor the server needs.
type SessionController interface {
	SendLine(id, text string)
	Status() map[string]session.State
}

// Config holds the server's collaborators.
type Config struct {
	Dispatcher *tools.Dispatcher
	Store      store.Store
	Sessions   SessionController
	Registry   *mailbox.Registry
	Verifier   auth.TokenVerifier // optional; enables observer API auth
	Logger     *slog.Logger
}

// Server routes parsed requests. One instance serves all connections.
type Server struct {
	dispatcher *tools.Dispatcher
	store      store.Store
	sessions   SessionController
	registry   *mailbox.Registry
	verifier   auth.TokenVerifier
	logger     *slog.Logger
	transport  *Transport
}

// New creates a protocol server.
func New(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		dispatcher: cfg.Dispatcher,
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		registry:   cfg.Registry,
		verifier:   cfg.Verifier,
		logger:     logger.With("component", "server"),
	}
	s.transport = NewTransport(s.route, logger)
	return s, nil
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("serving", "addr", ln.Addr().String())
	return s.transport.Serve(ln)
}

func (s *Server) route(req *Request) *Response {
	s.logger.Debug("request", "method", req.Method, "path", req.Path)

	switch {
	case req.Method == "GET" && req.Path == "/health":
		return &Response{Status: 200, Body: map[string]any{"status": "ok", "server": ServerName}}
	case req.Method == "GET" && req.Path == "/tools":
		return &Response{Status: 200, Body: map[string]any{"tools": s.dispatcher.Tools()}}
	case req.Method == "POST" && req.Path == "/execute":
		return s.handleExecute(req)
	case req.Method == "POST" && req.Path == "/mcp":
		return s.handleMCP(req)
	case strings.HasPrefix(req.Path, "/api/"):
		return s.routeAPI(req)
	}
	return &Response{Status: 404, Body: map[string]any{
		"error": fmt.Sprintf("no route for %s %s", req.Method, req.Path),
	}}
}

// handleExecute is the legacy single-tool endpoint.
func (s *Server) handleExecute(req *Request) *Response {
	var call struct {
		Tool   string         `json:"tool"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(req.Body, &call); err != nil {
		return &Response{Status: 400, Body: map[string]any{"error": "invalid JSON body"}}
	}
	if call.Tool == "" {
		return &Response{Status: 400, Body: map[string]any{"error": "missing tool name"}}
	}

	result := s.dispatcher.Execute(context.Background(), call.Tool, call.Params)
	return &Response{Status: 200, Body: result}
}

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
)

func jsonrpcResult(id json.RawMessage, result any) *Response {
	return &Response{Status: 200, Body: JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}}
}

func jsonrpcError(id json.RawMessage, code int, message string) *Response {
	return &Response{Status: 200, Body: JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}}
}

// handleMCP processes one JSON-RPC message. Only initialize, tools/list,
// and tools/call are implemented; protocol errors come back as JSON-RPC
// error objects over HTTP 200.
func (s *Server) handleMCP(req *Request) *Response {
	var rpc JSONRPCRequest
	if err := json.Unmarshal(req.Body, &rpc); err != nil {
		return jsonrpcError(nil, JSONRPCInvalidRequest, "invalid JSON")
	}
	if rpc.JSONRPC != "2.0" {
		return jsonrpcError(rpc.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
	}
	if rpc.Method == "" {
		return jsonrpcError(rpc.ID, JSONRPCInvalidRequest, "missing method")
	}

	switch rpc.Method {
	case "initialize":
		return jsonrpcResult(rpc.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": ServerName, "version": "1.0.0"},
		})
	case "tools/list":
		return jsonrpcResult(rpc.ID, map[string]any{"tools": s.dispatcher.Tools()})
	case "tools/call":
		return s.handleToolsCall(rpc)
	default:
		return jsonrpcError(rpc.ID, JSONRPCMethodNotFound, "method not found")
	}
}

func (s *Server) handleToolsCall(rpc JSONRPCRequest) *Response {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(rpc.Params) > 0 {
		if err := json.Unmarshal(rpc.Params, &params); err != nil {
			return jsonrpcError(rpc.ID, JSONRPCInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return jsonrpcError(rpc.ID, JSONRPCInvalidParams, "tool name is required")
	}

	result := s.dispatcher.Execute(context.Background(), params.Name, params.Arguments)

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return jsonrpcError(rpc.ID, JSONRPCInvalidParams, "result serialization failed")
	}
	_, isError := result["error"]

	wrapped := map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(pretty)}},
	}
	if isError {
		wrapped["isError"] = true
	}
	return jsonrpcResult(rpc.ID, wrapped)
}

// routeAPI serves the observer REST surface. When a token verifier is
// configured, every /api request must carry a valid bearer token.
func (s *Server) routeAPI(req *Request) *Response {
	if s.verifier != nil {
		token, ok := auth.BearerToken(req.Header("Authorization"))
		if !ok {
			return &Response{Status: 401, Body: map[string]any{"error": "missing bearer token"}}
		}
		if _, err := s.verifier.Verify(token); err != nil {
			return &Response{Status: 401, Body: map[string]any{"error": "invalid token"}}
		}
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(req.Path, "/api/"), "/"), "/")
	ctx := context.Background()

	switch {
	case req.Method == "GET" && len(parts) == 1 && parts[0] == "projects":
		return s.apiProjects(ctx)
	case req.Method == "GET" && len(parts) == 3 && parts[0] == "projects" && parts[2] == "agents":
		return s.apiProjectAgents(ctx, parts[1])
	case req.Method == "GET" && len(parts) == 3 && parts[0] == "agents" && parts[2] == "messages":
		return s.apiAgentMessages(ctx, parts[1], req.Query.Get("limit"))
	case req.Method == "POST" && len(parts) == 3 && parts[0] == "agents" && parts[2] == "send":
		return s.apiAgentSend(ctx, parts[1], req.Body)
	case req.Method == "GET" && len(parts) == 1 && parts[0] == "status":
		return s.apiStatus()
	}
	return &Response{Status: 404, Body: map[string]any{
		"error": fmt.Sprintf("no route for %s %s", req.Method, req.Path),
	}}
}

func storageError(err error) *Response {
	return &Response{Status: 500, Body: map[string]any{"error": fmt.Sprintf("storage error: %v", err)}}
}

func (s *Server) apiProjects(ctx context.Context) *Response {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return storageError(err)
	}
	list := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		list = append(list, map[string]any{
			"id": p.ID, "name": p.Name, "path": p.Path, "created_at": p.CreatedAt,
		})
	}
	return &Response{Status: 200, Body: map[string]any{"projects": list}}
}

func (s *Server) apiProjectAgents(ctx context.Context, projectID string) *Response {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Response{Status: 404, Body: map[string]any{"error": "project not found"}}
		}
		return storageError(err)
	}
	agents, err := s.store.ListAgents(ctx, projectID)
	if err != nil {
		return storageError(err)
	}
	list := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		list = append(list, map[string]any{
			"id": a.ID, "name": a.Name, "role": a.Role, "is_default": a.IsDefault,
		})
	}
	return &Response{Status: 200, Body: map[string]any{"agents": list}}
}

func (s *Server) apiAgentMessages(ctx context.Context, agentID, limitStr string) *Response {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Response{Status: 404, Body: map[string]any{"error": "agent not found"}}
		}
		return storageError(err)
	}

	limit := 0
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			return &Response{Status: 400, Body: map[string]any{"error": "invalid limit"}}
		}
		limit = n
	}

	msgs, err := s.store.ListMessages(ctx, agentID, limit)
	if err != nil {
		return storageError(err)
	}
	list := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		list = append(list, map[string]any{
			"id": m.ID, "role": m.Role, "content": m.Content, "created_at": m.CreatedAt,
		})
	}
	return &Response{Status: 200, Body: map[string]any{"messages": list}}
}

// apiAgentSend injects a user message into an agent's session. The message
// is persisted first, then delivered; a non-running session just records it.
func (s *Server) apiAgentSend(ctx context.Context, agentID string, body []byte) *Response {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		return &Response{Status: 400, Body: map[string]any{"error": "missing message"}}
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Response{Status: 404, Body: map[string]any{"error": "agent not found"}}
		}
		return storageError(err)
	}

	if err := s.store.SaveMessage(ctx, &store.Message{
		AgentID: agent.ID,
		Role:    store.RoleUser,
		Content: payload.Message,
	}); err != nil {
		return storageError(err)
	}

	sessionID := session.ComposeSessionID(agent.ProjectID, agent.ID)
	if agent.IsDefault {
		sessionID = session.ComposeSessionID(agent.ProjectID, "")
	}
	if s.sessions != nil {
		s.sessions.SendLine(sessionID, payload.Message)
	}
	return &Response{Status: 200, Body: map[string]any{"success": true, "session_id": sessionID}}
}

func (s *Server) apiStatus() *Response {
	body := map[string]any{"server": ServerName}
	if s.sessions != nil {
		body["sessions"] = s.sessions.Status()
	}
	if s.registry != nil {
		body["mailboxes"] = s.registry.Snapshot()
	}
	return &Response{Status: 200, Body: body}
}
