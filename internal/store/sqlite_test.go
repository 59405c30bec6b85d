// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers project/agent/message/artifact CRUD and file claim rows

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s Store) *Project {
	t.Helper()
	p := &Project{Name: "demo", Path: "/tmp/demo"}
	if err := s.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	return p
}

func seedAgent(t *testing.T, s Store, projectID string, isDefault bool) *Agent {
	t.Helper()
	a := &Agent{ProjectID: projectID, Name: "worker", Role: "implementer", IsDefault: isDefault}
	if err := s.CreateAgent(context.Background(), a); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	return a
}

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	if p.ID == "" {
		t.Fatal("expected generated project ID")
	}

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Name != "demo" || got.Path != "/tmp/demo" {
		t.Errorf("unexpected project: %+v", got)
	}

	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 1 {
		t.Errorf("expected 1 project, got %d", len(projects))
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	if _, err := s.GetProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetProject(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAgentCRUDAndDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	def := seedAgent(t, s, p.ID, true)
	other := &Agent{ProjectID: p.ID, Name: "reviewer", Role: "reviewer"}
	if err := s.CreateAgent(ctx, other); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	got, err := s.GetDefaultAgent(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetDefaultAgent failed: %v", err)
	}
	if got.ID != def.ID {
		t.Errorf("default agent = %s, want %s", got.ID, def.ID)
	}

	agents, err := s.ListAgents(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 2 {
		t.Errorf("expected 2 agents, got %d", len(agents))
	}

	if err := s.DeleteAgent(ctx, other.ID); err != nil {
		t.Fatalf("DeleteAgent failed: %v", err)
	}
	if _, err := s.GetAgent(ctx, other.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMessages_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	a := seedAgent(t, s, p.ID, true)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := &Message{
			AgentID:   a.ID,
			Role:      RoleAgent,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, a.ID, 3)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	// Most recent three, chronological order
	if msgs[0].Content != "message 2" || msgs[2].Content != "message 4" {
		t.Errorf("unexpected window: %q .. %q", msgs[0].Content, msgs[2].Content)
	}

	all, err := s.ListMessages(ctx, a.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("expected 5 messages, got %d", len(all))
	}
}

func TestArtifacts_OrderAssignmentAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	a := seedAgent(t, s, p.ID, true)

	first := &Artifact{AgentID: a.ID, Type: "markdown", Label: "plan", Content: "# Plan"}
	second := &Artifact{AgentID: a.ID, Type: "code", Label: "diff", Content: "..."}
	if err := s.CreateArtifact(ctx, first); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}
	if err := s.CreateArtifact(ctx, second); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}

	if first.Order != 1 || second.Order != 2 {
		t.Errorf("orders = %d, %d; want 1, 2", first.Order, second.Order)
	}

	found, err := s.FindArtifact(ctx, a.ID, "plan", "markdown")
	if err != nil {
		t.Fatalf("FindArtifact failed: %v", err)
	}
	if found.ID != first.ID {
		t.Errorf("FindArtifact = %s, want %s", found.ID, first.ID)
	}

	if _, err := s.FindArtifact(ctx, a.ID, "plan", "code"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong type, got %v", err)
	}

	found.Content = "# Plan v2"
	if err := s.UpdateArtifact(ctx, found); err != nil {
		t.Fatalf("UpdateArtifact failed: %v", err)
	}
	got, err := s.GetArtifact(ctx, found.ID)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if got.Content != "# Plan v2" {
		t.Errorf("content = %q after update", got.Content)
	}

	list, err := s.ListArtifacts(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID {
		t.Errorf("unexpected artifact listing: %d items", len(list))
	}
}

func TestFileClaims_UniquePerPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	a := seedAgent(t, s, p.ID, true)
	b := seedAgent(t, s, p.ID, false)

	claim := &FileClaim{ProjectID: p.ID, AgentID: a.ID, FilePath: "src/a.go"}
	if err := s.InsertFileClaim(ctx, claim); err != nil {
		t.Fatalf("InsertFileClaim failed: %v", err)
	}

	dup := &FileClaim{ProjectID: p.ID, AgentID: b.ID, FilePath: "src/a.go"}
	if err := s.InsertFileClaim(ctx, dup); !errors.Is(err, ErrDuplicateClaim) {
		t.Errorf("expected ErrDuplicateClaim, got %v", err)
	}
}

func TestFileClaims_RefreshDeleteExpire(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	a := seedAgent(t, s, p.ID, true)

	old := time.Now().UTC().Add(-10 * time.Minute)
	for _, path := range []string{"src/a.go", "src/b.go", "src/c.go"} {
		claim := &FileClaim{ProjectID: p.ID, AgentID: a.ID, FilePath: path, ClaimedAt: old}
		if err := s.InsertFileClaim(ctx, claim); err != nil {
			t.Fatalf("InsertFileClaim failed: %v", err)
		}
	}

	now := time.Now().UTC()
	if err := s.RefreshFileClaim(ctx, p.ID, "src/a.go", now); err != nil {
		t.Fatalf("RefreshFileClaim failed: %v", err)
	}
	if err := s.RefreshFileClaim(ctx, p.ID, "src/nope.go", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown path, got %v", err)
	}

	if err := s.DeleteFileClaims(ctx, p.ID, a.ID, []string{"src/b.go"}); err != nil {
		t.Fatalf("DeleteFileClaims failed: %v", err)
	}

	// src/c.go still carries the old timestamp and should be swept
	if err := s.DeleteExpiredFileClaims(ctx, p.ID, now.Add(-5*time.Minute)); err != nil {
		t.Fatalf("DeleteExpiredFileClaims failed: %v", err)
	}

	claims, err := s.ListFileClaims(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListFileClaims failed: %v", err)
	}
	if len(claims) != 1 || claims[0].FilePath != "src/a.go" {
		t.Errorf("expected only refreshed src/a.go to survive, got %d claims", len(claims))
	}
}

func TestDeleteAgent_CascadesClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	a := seedAgent(t, s, p.ID, true)

	claim := &FileClaim{ProjectID: p.ID, AgentID: a.ID, FilePath: "src/a.go"}
	if err := s.InsertFileClaim(ctx, claim); err != nil {
		t.Fatalf("InsertFileClaim failed: %v", err)
	}

	if err := s.DeleteAgent(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAgent failed: %v", err)
	}

	claims, err := s.ListFileClaims(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListFileClaims failed: %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("expected claims to cascade with agent deletion, got %d", len(claims))
	}
}
