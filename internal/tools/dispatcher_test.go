// ABOUTME: Tests for the tool dispatcher
// ABOUTME: Covers session resolution, ownership checks, artifact upsert, and claim tools

package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/daisyhq/daisy/internal/claims"
	"github.com/daisyhq/daisy/internal/mailbox"
	"github.com/daisyhq/daisy/internal/session"
	"github.com/daisyhq/daisy/internal/store"
)

type env struct {
	d        *Dispatcher
	store    *store.MockStore
	registry *mailbox.Registry

	projectA *store.Project
	projectB *store.Project
	alice    *store.Agent // default agent of projectA
	bob      *store.Agent // second agent of projectA
	carol    *store.Agent // default agent of projectB

	aliceSession string
	bobSession   string
	carolSession string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	s := store.NewMockStore()
	e := &env{
		store:    s,
		registry: mailbox.NewRegistry(nil),
		projectA: &store.Project{Name: "alpha", Path: "/tmp/alpha"},
		projectB: &store.Project{Name: "beta", Path: "/tmp/beta"},
	}
	for _, p := range []*store.Project{e.projectA, e.projectB} {
		if err := s.CreateProject(ctx, p); err != nil {
			t.Fatalf("CreateProject failed: %v", err)
		}
	}
	e.alice = &store.Agent{ProjectID: e.projectA.ID, Name: "alice", Role: "implementer", IsDefault: true}
	e.bob = &store.Agent{ProjectID: e.projectA.ID, Name: "bob", Role: "reviewer"}
	e.carol = &store.Agent{ProjectID: e.projectB.ID, Name: "carol", Role: "implementer", IsDefault: true}
	for _, a := range []*store.Agent{e.alice, e.bob, e.carol} {
		if err := s.CreateAgent(ctx, a); err != nil {
			t.Fatalf("CreateAgent failed: %v", err)
		}
	}

	cm := claims.NewManager(s, 120*time.Second, nil)
	e.d = NewDispatcher(s, cm, e.registry, nil)

	e.aliceSession = session.ComposeSessionID(e.projectA.ID, e.alice.ID)
	e.bobSession = session.ComposeSessionID(e.projectA.ID, e.bob.ID)
	e.carolSession = session.ComposeSessionID(e.projectB.ID, e.carol.ID)
	return e
}

func (e *env) call(t *testing.T, tool string, params map[string]any) map[string]any {
	t.Helper()
	return e.d.Execute(context.Background(), tool, params)
}

func wantError(t *testing.T, result map[string]any, contains string) {
	t.Helper()
	msg, ok := result["error"].(string)
	if !ok {
		t.Fatalf("expected error result, got %v", result)
	}
	if !strings.Contains(msg, contains) {
		t.Errorf("error %q does not contain %q", msg, contains)
	}
}

func wantNoError(t *testing.T, result map[string]any) {
	t.Helper()
	if msg, ok := result["error"]; ok {
		t.Fatalf("unexpected error result: %v", msg)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	e := newEnv(t)
	result := e.call(t, "launch_missiles", nil)
	wantError(t, result, "Unknown tool: launch_missiles")
}

func TestResolveCaller_Invalid(t *testing.T) {
	e := newEnv(t)

	wantError(t, e.call(t, "list_claims", nil), "session_id")
	wantError(t, e.call(t, "list_claims", map[string]any{"session_id": "nope"}), "Invalid session_id")
	wantError(t, e.call(t, "list_claims", map[string]any{"session_id": "agent-missing"}), "unknown project")

	// Agent from project B named with project A's prefix
	forged := session.ComposeSessionID(e.projectA.ID, e.carol.ID)
	wantError(t, e.call(t, "list_claims", map[string]any{"session_id": forged}), "Access denied")
}

func TestResolveCaller_DefaultAgent(t *testing.T) {
	e := newEnv(t)

	// No agent id in the session: resolves to the project's default agent
	bare := session.ComposeSessionID(e.projectA.ID, "")
	result := e.call(t, "get_project", map[string]any{"session_id": bare})
	wantNoError(t, result)

	you := result["you"].(map[string]any)
	if you["id"] != e.alice.ID {
		t.Errorf("resolved agent = %v, want default agent %s", you["id"], e.alice.ID)
	}
}

func TestSendMessage_Semantics(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Empty message with done=true: no visible message, typing cleared
	e.registry.SetTyping(e.aliceSession, true)
	result := e.call(t, "send_message", map[string]any{
		"session_id": e.aliceSession, "message": "", "done": true,
	})
	wantNoError(t, result)
	if e.registry.Typing(e.aliceSession) {
		t.Error("typing flag not cleared")
	}
	if len(e.registry.Messages(e.aliceSession)) != 0 {
		t.Error("empty message must not be appended")
	}

	// Non-empty message with done=false: one message, typing stays on
	result = e.call(t, "send_message", map[string]any{
		"session_id": e.aliceSession, "message": "halfway there", "done": false, "focus": "store layer",
	})
	wantNoError(t, result)
	msgs := e.registry.Messages(e.aliceSession)
	if len(msgs) != 1 || msgs[0].Content != "halfway there" {
		t.Fatalf("expected one display message, got %+v", msgs)
	}
	if !e.registry.Typing(e.aliceSession) {
		t.Error("done=false should keep typing on")
	}
	if e.registry.Focus(e.aliceSession) != "store layer" {
		t.Error("focus not updated")
	}

	// Message is also persisted
	persisted, err := e.store.ListMessages(ctx, e.alice.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(persisted) != 1 || persisted[0].Content != "halfway there" {
		t.Errorf("message not persisted: %+v", persisted)
	}
}

func TestGetProject(t *testing.T) {
	e := newEnv(t)

	result := e.call(t, "get_project", map[string]any{"session_id": e.aliceSession})
	wantNoError(t, result)
	if result["name"] != "alpha" {
		t.Errorf("project name = %v", result["name"])
	}
	agents := result["agents"].([]map[string]any)
	if len(agents) != 2 {
		t.Errorf("expected 2 agents, got %d", len(agents))
	}

	// Without a session: list of all projects
	result = e.call(t, "get_project", nil)
	wantNoError(t, result)
	if projects := result["projects"].([]map[string]any); len(projects) != 2 {
		t.Errorf("expected 2 projects, got %d", len(projects))
	}
}

func TestGetArtifactTypes(t *testing.T) {
	e := newEnv(t)
	result := e.call(t, "get_artifact_types", nil)
	wantNoError(t, result)
	types := result["artifact_types"].([]map[string]any)
	if len(types) != len(ArtifactTypes) {
		t.Errorf("expected %d types, got %d", len(ArtifactTypes), len(types))
	}
}

func TestAddArtifact_Upsert(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.call(t, "add_artifact", map[string]any{
		"session_id": e.aliceSession, "type": "markdown", "label": "plan",
		"caption": "the plan", "content": "# v1",
	})
	wantNoError(t, first)
	if first["updated"] != false {
		t.Errorf("first call updated = %v, want false", first["updated"])
	}
	id := first["artifact_id"].(string)

	second := e.call(t, "add_artifact", map[string]any{
		"session_id": e.aliceSession, "type": "markdown", "label": "plan",
		"caption": "the plan", "content": "# v2",
	})
	wantNoError(t, second)
	if second["updated"] != true {
		t.Errorf("second call updated = %v, want true", second["updated"])
	}
	if second["artifact_id"] != id {
		t.Error("upsert created a second artifact")
	}

	arts, err := e.store.ListArtifacts(ctx, e.alice.ID)
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(arts) != 1 || arts[0].Content != "# v2" {
		t.Errorf("expected one artifact with latest content, got %+v", arts)
	}

	// Same label, different type: separate artifact
	third := e.call(t, "add_artifact", map[string]any{
		"session_id": e.aliceSession, "type": "code", "label": "plan", "content": "x := 1",
	})
	wantNoError(t, third)
	if third["updated"] != false {
		t.Error("different type must not upsert onto the markdown artifact")
	}
}

func TestAddArtifact_Validation(t *testing.T) {
	e := newEnv(t)

	wantError(t, e.call(t, "add_artifact", map[string]any{
		"session_id": e.aliceSession, "type": "markdown", "label": "plan",
	}), "required")
	wantError(t, e.call(t, "add_artifact", map[string]any{
		"session_id": e.aliceSession, "type": "hologram", "label": "plan", "content": "x",
	}), "Unknown artifact type")
}

func TestDeleteArtifact_CrossProjectDenied(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created := e.call(t, "add_artifact", map[string]any{
		"session_id": e.aliceSession, "type": "markdown", "label": "plan", "content": "# v1",
	})
	wantNoError(t, created)
	id := created["artifact_id"].(string)

	// Carol (project B) tries to delete Alice's artifact
	result := e.call(t, "delete_artifact", map[string]any{
		"session_id": e.carolSession, "artifact_id": id,
	})
	wantError(t, result, "Access denied")

	// No mutation happened
	if _, err := e.store.GetArtifact(ctx, id); err != nil {
		t.Error("artifact must survive a denied delete")
	}

	// The owner can delete it
	wantNoError(t, e.call(t, "delete_artifact", map[string]any{
		"session_id": e.aliceSession, "artifact_id": id,
	}))
}

func TestClaimTools_EndToEnd(t *testing.T) {
	e := newEnv(t)

	result := e.call(t, "claim_files", map[string]any{
		"session_id": e.aliceSession, "files": []any{"src/a.go"},
	})
	if result["success"] != true {
		t.Fatalf("claim failed: %v", result)
	}

	// Bob checks both a blocked and an available path
	result = e.call(t, "check_claims", map[string]any{
		"session_id": e.bobSession, "files": []any{"src/a.go", "src/b.go"},
	})
	wantNoError(t, result)
	files := result["files"].([]map[string]any)
	if files[0]["status"] != "blocked" || files[0]["claimed_by"] != "alice" {
		t.Errorf("src/a.go: %v", files[0])
	}
	if exp := files[0]["expires_in_seconds"].(int); exp < 115 || exp > 120 {
		t.Errorf("expires_in_seconds = %v, want ~120", exp)
	}
	if files[1]["status"] != "available" {
		t.Errorf("src/b.go: %v", files[1])
	}

	// Bob's overlapping batch is rejected entirely
	result = e.call(t, "claim_files", map[string]any{
		"session_id": e.bobSession, "files": []any{"src/a.go", "src/b.go"},
	})
	if result["success"] != false {
		t.Fatal("expected batch rejection")
	}
	if _, ok := result["retry_after_seconds"]; !ok {
		t.Error("conflict result missing retry_after_seconds")
	}

	// list_claims groups by holder
	result = e.call(t, "list_claims", map[string]any{"session_id": e.bobSession})
	wantNoError(t, result)
	holders := result["claims"].([]map[string]any)
	if len(holders) != 1 || holders[0]["agent_name"] != "alice" {
		t.Errorf("unexpected holders: %v", holders)
	}

	// Release and re-check
	result = e.call(t, "release_files", map[string]any{
		"session_id": e.aliceSession, "files": []any{"src/a.go"},
	})
	if result["success"] != true {
		t.Fatalf("release failed: %v", result)
	}
	result = e.call(t, "claim_files", map[string]any{
		"session_id": e.bobSession, "files": []any{"src/a.go", "src/b.go"},
	})
	if result["success"] != true {
		t.Fatalf("claim after release failed: %v", result)
	}
}

func TestClaimTools_CallerScoped(t *testing.T) {
	e := newEnv(t)

	// An agent_id param is ignored: claims always bind to the session's agent
	result := e.call(t, "claim_files", map[string]any{
		"session_id": e.bobSession, "agent_id": e.alice.ID, "files": []any{"src/a.go"},
	})
	if result["success"] != true {
		t.Fatalf("claim failed: %v", result)
	}

	result = e.call(t, "check_claims", map[string]any{
		"session_id": e.aliceSession, "files": []any{"src/a.go"},
	})
	files := result["files"].([]map[string]any)
	if files[0]["status"] != "blocked" || files[0]["claimed_by"] != "bob" {
		t.Errorf("claim bound to wrong agent: %v", files[0])
	}
}

func TestClaimTools_Validation(t *testing.T) {
	e := newEnv(t)

	wantError(t, e.call(t, "claim_files", map[string]any{
		"session_id": e.aliceSession,
	}), "files")
	wantError(t, e.call(t, "claim_files", map[string]any{
		"session_id": e.aliceSession, "files": []any{42},
	}), "files")
	wantError(t, e.call(t, "check_claims", map[string]any{
		"session_id": e.aliceSession, "files": []any{},
	}), "files")

	// release_files without files releases everything, not an error
	e.call(t, "claim_files", map[string]any{"session_id": e.aliceSession, "files": []any{"a", "b"}})
	result := e.call(t, "release_files", map[string]any{"session_id": e.aliceSession})
	if result["success"] != true {
		t.Fatalf("release all failed: %v", result)
	}
	result = e.call(t, "list_claims", map[string]any{"session_id": e.aliceSession})
	if holders := result["claims"].([]map[string]any); len(holders) != 0 {
		t.Errorf("expected no holders after release all: %v", holders)
	}
}

func TestExecute_StorageFailureIsResult(t *testing.T) {
	e := newEnv(t)

	e.store.FailNext = context.DeadlineExceeded
	result := e.call(t, "claim_files", map[string]any{
		"session_id": e.aliceSession, "files": []any{"src/a.go"},
	})
	if result["success"] != false {
		t.Fatalf("expected failure result, got %v", result)
	}
	if msg := result["message"].(string); !strings.Contains(msg, "storage error") {
		t.Errorf("message = %q", msg)
	}
}
