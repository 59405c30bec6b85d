// ABOUTME: Tests for protocol server routing
// ABOUTME: Covers health, tool endpoints, JSON-RPC semantics, observer API, and auth

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/daisyhq/daisy/internal/auth"
	"github.com/daisyhq/daisy/internal/claims"
	"github.com/daisyhq/daisy/internal/mailbox"
	"github.com/daisyhq/daisy/internal/session"
	"github.com/daisyhq/daisy/internal/store"
	"github.com/daisyhq/daisy/internal/tools"
)

type fakeSessions struct {
	mu    sync.Mutex
	sent  []string
	state map[string]session.State
}

func (f *fakeSessions) SendLine(id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id+": "+text)
}

func (f *fakeSessions) Status() map[string]session.State {
	return f.state
}

type serverEnv struct {
	srv      *Server
	store    *store.MockStore
	sessions *fakeSessions
	project  *store.Project
	agent    *store.Agent
}

func newServerEnv(t *testing.T, verifier auth.TokenVerifier) *serverEnv {
	t.Helper()
	ctx := context.Background()

	s := store.NewMockStore()
	project := &store.Project{Name: "demo", Path: "/tmp/demo"}
	if err := s.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	agent := &store.Agent{ProjectID: project.ID, Name: "alice", Role: "implementer", IsDefault: true}
	if err := s.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	reg := mailbox.NewRegistry(nil)
	cm := claims.NewManager(s, 120*time.Second, nil)
	sessions := &fakeSessions{state: map[string]session.State{"agent-p1": session.StateRunning}}

	srv, err := New(Config{
		Dispatcher: tools.NewDispatcher(s, cm, reg, nil),
		Store:      s,
		Sessions:   sessions,
		Registry:   reg,
		Verifier:   verifier,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &serverEnv{srv: srv, store: s, sessions: sessions, project: project, agent: agent}
}

func get(path string) *Request {
	return &Request{Method: "GET", Path: path, Headers: map[string]string{}}
}

func post(path, body string) *Request {
	return &Request{Method: "POST", Path: path, Headers: map[string]string{}, Body: []byte(body)}
}

func bodyJSON(t *testing.T, resp *Response) map[string]any {
	t.Helper()
	raw, err := json.Marshal(resp.Body)
	if err != nil {
		t.Fatalf("marshal response body: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}
	return m
}

func TestRoute_Health(t *testing.T) {
	e := newServerEnv(t, nil)
	resp := e.srv.route(get("/health"))
	if resp.Status != 200 {
		t.Fatalf("status = %d", resp.Status)
	}
	m := bodyJSON(t, resp)
	if m["status"] != "ok" || m["server"] != "daisy-mcp" {
		t.Errorf("health body = %v", m)
	}
}

func TestRoute_Tools(t *testing.T) {
	e := newServerEnv(t, nil)
	resp := e.srv.route(get("/tools"))
	m := bodyJSON(t, resp)
	list := m["tools"].([]any)
	if len(list) != len(tools.Catalog) {
		t.Errorf("expected %d tools, got %d", len(tools.Catalog), len(list))
	}
}

func TestRoute_NotFound(t *testing.T) {
	e := newServerEnv(t, nil)
	resp := e.srv.route(get("/nope"))
	if resp.Status != 404 {
		t.Errorf("status = %d, want 404", resp.Status)
	}
	resp = e.srv.route(post("/health", ""))
	if resp.Status != 404 {
		t.Errorf("POST /health status = %d, want 404", resp.Status)
	}
}

func TestExecute_Legacy(t *testing.T) {
	e := newServerEnv(t, nil)

	resp := e.srv.route(post("/execute", `{"tool":"get_artifact_types","params":{}}`))
	if resp.Status != 200 {
		t.Fatalf("status = %d", resp.Status)
	}
	m := bodyJSON(t, resp)
	if _, ok := m["artifact_types"]; !ok {
		t.Errorf("result = %v", m)
	}

	// Tool-level errors still come back as HTTP 200
	resp = e.srv.route(post("/execute", `{"tool":"no_such_tool","params":{}}`))
	if resp.Status != 200 {
		t.Fatalf("status = %d", resp.Status)
	}
	m = bodyJSON(t, resp)
	if !strings.Contains(m["error"].(string), "Unknown tool") {
		t.Errorf("result = %v", m)
	}

	if resp := e.srv.route(post("/execute", "{broken")); resp.Status != 400 {
		t.Errorf("bad JSON status = %d, want 400", resp.Status)
	}
	if resp := e.srv.route(post("/execute", `{"params":{}}`)); resp.Status != 400 {
		t.Errorf("missing tool status = %d, want 400", resp.Status)
	}
}

func rpcCall(t *testing.T, e *serverEnv, body string) map[string]any {
	t.Helper()
	resp := e.srv.route(post("/mcp", body))
	if resp.Status != 200 {
		t.Fatalf("JSON-RPC over HTTP must be 200, got %d", resp.Status)
	}
	return bodyJSON(t, resp)
}

func rpcErrorCode(t *testing.T, m map[string]any) int {
	t.Helper()
	errObj, ok := m["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected JSON-RPC error, got %v", m)
	}
	return int(errObj["code"].(float64))
}

func TestMCP_Initialize(t *testing.T) {
	e := newServerEnv(t, nil)
	m := rpcCall(t, e, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	result := m["result"].(map[string]any)
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "daisy-mcp" {
		t.Errorf("serverInfo = %v", info)
	}
	if m["id"] != float64(1) {
		t.Errorf("id not echoed: %v", m["id"])
	}
}

func TestMCP_ToolsList(t *testing.T) {
	e := newServerEnv(t, nil)
	m := rpcCall(t, e, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	result := m["result"].(map[string]any)
	if list := result["tools"].([]any); len(list) != len(tools.Catalog) {
		t.Errorf("tools/list returned %d tools", len(list))
	}
}

func TestMCP_ToolsCall_WrapsResult(t *testing.T) {
	e := newServerEnv(t, nil)
	m := rpcCall(t, e, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_artifact_types","arguments":{}}}`)
	result := m["result"].(map[string]any)
	content := result["content"].([]any)
	first := content[0].(map[string]any)
	if first["type"] != "text" {
		t.Errorf("content type = %v", first["type"])
	}
	var inner map[string]any
	if err := json.Unmarshal([]byte(first["text"].(string)), &inner); err != nil {
		t.Fatalf("content text is not JSON: %v", err)
	}
	if _, ok := inner["artifact_types"]; !ok {
		t.Errorf("inner result = %v", inner)
	}
	if _, ok := result["isError"]; ok {
		t.Error("success result must not set isError")
	}
}

func TestMCP_ToolsCall_ErrorResult(t *testing.T) {
	e := newServerEnv(t, nil)
	m := rpcCall(t, e, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"list_claims","arguments":{}}}`)
	result := m["result"].(map[string]any)
	if result["isError"] != true {
		t.Errorf("tool error must set isError: %v", result)
	}
}

func TestMCP_ErrorCodes(t *testing.T) {
	e := newServerEnv(t, nil)

	if code := rpcErrorCode(t, rpcCall(t, e, "{broken")); code != -32600 {
		t.Errorf("bad JSON code = %d, want -32600", code)
	}
	if code := rpcErrorCode(t, rpcCall(t, e, `{"jsonrpc":"1.0","id":1,"method":"initialize"}`)); code != -32600 {
		t.Errorf("bad version code = %d, want -32600", code)
	}
	if code := rpcErrorCode(t, rpcCall(t, e, `{"jsonrpc":"2.0","id":1}`)); code != -32600 {
		t.Errorf("missing method code = %d, want -32600", code)
	}
	if code := rpcErrorCode(t, rpcCall(t, e, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)); code != -32601 {
		t.Errorf("unknown method code = %d, want -32601", code)
	}
	if code := rpcErrorCode(t, rpcCall(t, e, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`)); code != -32602 {
		t.Errorf("missing tool name code = %d, want -32602", code)
	}
	if code := rpcErrorCode(t, rpcCall(t, e, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":"nope"}`)); code != -32602 {
		t.Errorf("bad params code = %d, want -32602", code)
	}
}

func TestAPI_ProjectsAndAgents(t *testing.T) {
	e := newServerEnv(t, nil)

	m := bodyJSON(t, e.srv.route(get("/api/projects")))
	if list := m["projects"].([]any); len(list) != 1 {
		t.Errorf("projects = %v", list)
	}

	resp := e.srv.route(get("/api/projects/" + e.project.ID + "/agents"))
	m = bodyJSON(t, resp)
	if list := m["agents"].([]any); len(list) != 1 {
		t.Errorf("agents = %v", list)
	}

	if resp := e.srv.route(get("/api/projects/missing/agents")); resp.Status != 404 {
		t.Errorf("missing project status = %d", resp.Status)
	}
}

func TestAPI_MessagesLimit(t *testing.T) {
	e := newServerEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e.store.SaveMessage(ctx, &store.Message{
			AgentID: e.agent.ID,
			Role:    store.RoleAgent,
			Content: fmt.Sprintf("m%d", i),
		})
	}

	req := get("/api/agents/" + e.agent.ID + "/messages")
	req.Query = map[string][]string{"limit": {"2"}}
	m := bodyJSON(t, e.srv.route(req))
	list := m["messages"].([]any)
	if len(list) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(list))
	}
	last := list[1].(map[string]any)
	if last["content"] != "m4" {
		t.Errorf("limit window wrong: %v", last)
	}

	req.Query = map[string][]string{"limit": {"-1"}}
	if resp := e.srv.route(req); resp.Status != 400 {
		t.Errorf("bad limit status = %d", resp.Status)
	}

	if resp := e.srv.route(get("/api/agents/missing/messages")); resp.Status != 404 {
		t.Errorf("missing agent status = %d", resp.Status)
	}
}

func TestAPI_Send(t *testing.T) {
	e := newServerEnv(t, nil)
	ctx := context.Background()

	resp := e.srv.route(post("/api/agents/"+e.agent.ID+"/send", `{"message":"hello"}`))
	if resp.Status != 200 {
		t.Fatalf("status = %d", resp.Status)
	}

	// Default agent sends under the bare project session id
	wantSession := session.ComposeSessionID(e.project.ID, "")
	if len(e.sessions.sent) != 1 || e.sessions.sent[0] != wantSession+": hello" {
		t.Errorf("sent = %v", e.sessions.sent)
	}

	msgs, _ := e.store.ListMessages(ctx, e.agent.ID, 0)
	if len(msgs) != 1 || msgs[0].Role != store.RoleUser {
		t.Errorf("message not persisted as user: %+v", msgs)
	}

	if resp := e.srv.route(post("/api/agents/"+e.agent.ID+"/send", `{}`)); resp.Status != 400 {
		t.Errorf("empty message status = %d", resp.Status)
	}
	if resp := e.srv.route(post("/api/agents/missing/send", `{"message":"x"}`)); resp.Status != 404 {
		t.Errorf("missing agent status = %d", resp.Status)
	}
}

func TestAPI_Status(t *testing.T) {
	e := newServerEnv(t, nil)
	m := bodyJSON(t, e.srv.route(get("/api/status")))
	if m["server"] != "daisy-mcp" {
		t.Errorf("status body = %v", m)
	}
	sessions := m["sessions"].(map[string]any)
	if sessions["agent-p1"] != "running" {
		t.Errorf("sessions = %v", sessions)
	}
}

func TestAPI_Auth(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("secret"))
	e := newServerEnv(t, verifier)

	if resp := e.srv.route(get("/api/projects")); resp.Status != 401 {
		t.Errorf("missing token status = %d, want 401", resp.Status)
	}

	req := get("/api/projects")
	req.Headers["authorization"] = "Bearer bogus"
	if resp := e.srv.route(req); resp.Status != 401 {
		t.Errorf("bad token status = %d, want 401", resp.Status)
	}

	token, err := verifier.Generate("observer-1", time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	req.Headers["authorization"] = "Bearer " + token
	if resp := e.srv.route(req); resp.Status != 200 {
		t.Errorf("valid token status = %d, want 200", resp.Status)
	}

	// Non-API surfaces stay open for agents on the local host
	if resp := e.srv.route(get("/health")); resp.Status != 200 {
		t.Errorf("health behind auth: %d", resp.Status)
	}
}
