// ABOUTME: Tool dispatcher: the single authorization and execution choke-point for agent tool calls.
// ABOUTME: Serializes all business logic behind one mutex; callers only ever see JSON result maps.

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/daisyhq/daisy/internal/claims"
	"github.com/daisyhq/daisy/internal/mailbox"
	"github.com/daisyhq/daisy/internal/session"
	"github.com/daisyhq/daisy/internal/store"
)

// accessDenied is returned for every ownership mismatch. Deliberately vague:
// it must not reveal whether the resource exists or who owns it.
const accessDenied = "Access denied: resource does not belong to your project"

// Dispatcher executes tool calls on behalf of remote agents. Every call is
// untrusted input: failures come back as {"error": ...} result maps, never
// as Go errors or panics, because the caller is an LLM loop that needs
// actionable JSON.
//
// All executions are serialized behind one mutex. That is what makes batch
// claims atomic with respect to each other; see the claims package. Network
// I/O never happens under the lock, only store and registry mutation.
type Dispatcher struct {
	mu       sync.Mutex
	store    store.Store
	claims   *claims.Manager
	registry *mailbox.Registry
	logger   *slog.Logger
}

// NewDispatcher creates a tool dispatcher.
func NewDispatcher(s store.Store, cm *claims.Manager, reg *mailbox.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    s,
		claims:   cm,
		registry: reg,
		logger:   logger.With("component", "tools"),
	}
}

// Tools returns the tool catalog.
func (d *Dispatcher) Tools() []Tool {
	return Catalog
}

func errResult(format string, args ...any) map[string]any {
	return map[string]any{"error": fmt.Sprintf(format, args...)}
}

// Execute runs one tool call and returns its result map.
func (d *Dispatcher) Execute(ctx context.Context, name string, params map[string]any) map[string]any {
	handler, ok := handlers[name]
	if !ok {
		return errResult("Unknown tool: %s", name)
	}
	if params == nil {
		params = map[string]any{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Debug("tool call", "tool", name)
	return handler(d, ctx, params)
}

var handlers = map[string]func(*Dispatcher, context.Context, map[string]any) map[string]any{
	"send_message":       (*Dispatcher).sendMessage,
	"get_project":        (*Dispatcher).getProject,
	"get_artifact_types": (*Dispatcher).getArtifactTypes,
	"add_artifact":       (*Dispatcher).addArtifact,
	"list_artifacts":     (*Dispatcher).listArtifacts,
	"delete_artifact":    (*Dispatcher).deleteArtifact,
	"claim_files":        (*Dispatcher).claimFiles,
	"release_files":      (*Dispatcher).releaseFiles,
	"check_claims":       (*Dispatcher).checkClaims,
	"list_claims":        (*Dispatcher).listClaims,
}

// caller is the resolved identity behind a session_id.
type caller struct {
	sessionID string
	project   *store.Project
	agent     *store.Agent
}

// resolveCaller parses the session_id param and resolves it to a project and
// agent. An omitted agent id resolves to the project's default agent. The
// returned error map is nil on success.
func (d *Dispatcher) resolveCaller(ctx context.Context, params map[string]any) (*caller, map[string]any) {
	sessionID, _ := params["session_id"].(string)
	if sessionID == "" {
		return nil, errResult("Missing required parameter: session_id")
	}

	projectID, agentID, err := session.ParseSessionID(sessionID)
	if err != nil {
		return nil, errResult("Invalid session_id: %s", sessionID)
	}

	project, err := d.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errResult("Invalid session_id: unknown project")
		}
		return nil, errResult("storage error: %v", err)
	}

	var agent *store.Agent
	if agentID == "" {
		agent, err = d.store.GetDefaultAgent(ctx, projectID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errResult("Invalid session_id: project has no default agent")
			}
			return nil, errResult("storage error: %v", err)
		}
	} else {
		agent, err = d.store.GetAgent(ctx, agentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errResult("Invalid session_id: unknown agent")
			}
			return nil, errResult("storage error: %v", err)
		}
		if agent.ProjectID != projectID {
			return nil, errResult(accessDenied)
		}
	}

	return &caller{sessionID: sessionID, project: project, agent: agent}, nil
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

// boolParam reads a bool with a default for absent values.
func boolParam(params map[string]any, key string, def bool) bool {
	v, ok := params[key].(bool)
	if !ok {
		return def
	}
	return v
}

// filesParam reads a string array. JSON arrays decode as []any.
func filesParam(params map[string]any, key string) ([]string, bool) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, false
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func (d *Dispatcher) sendMessage(ctx context.Context, params map[string]any) map[string]any {
	c, errMap := d.resolveCaller(ctx, params)
	if errMap != nil {
		return errMap
	}

	message := stringParam(params, "message")
	done := boolParam(params, "done", true)
	focus := stringParam(params, "focus")

	if message != "" {
		if err := d.store.SaveMessage(ctx, &store.Message{
			AgentID: c.agent.ID,
			Role:    store.RoleAgent,
			Content: message,
		}); err != nil {
			return errResult("storage error: %v", err)
		}
	}
	d.registry.Post(c.sessionID, message, done, focus)

	return map[string]any{"success": true}
}

func (d *Dispatcher) getProject(ctx context.Context, params map[string]any) map[string]any {
	if stringParam(params, "session_id") == "" {
		projects, err := d.store.ListProjects(ctx)
		if err != nil {
			return errResult("storage error: %v", err)
		}
		list := make([]map[string]any, 0, len(projects))
		for _, p := range projects {
			list = append(list, map[string]any{"id": p.ID, "name": p.Name, "path": p.Path})
		}
		return map[string]any{"projects": list}
	}

	c, errMap := d.resolveCaller(ctx, params)
	if errMap != nil {
		return errMap
	}
	agents, err := d.store.ListAgents(ctx, c.project.ID)
	if err != nil {
		return errResult("storage error: %v", err)
	}
	agentList := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		agentList = append(agentList, map[string]any{
			"id":         a.ID,
			"name":       a.Name,
			"role":       a.Role,
			"is_default": a.IsDefault,
		})
	}
	return map[string]any{
		"id":     c.project.ID,
		"name":   c.project.Name,
		"path":   c.project.Path,
		"agents": agentList,
		"you":    map[string]any{"id": c.agent.ID, "name": c.agent.Name, "role": c.agent.Role},
	}
}

func (d *Dispatcher) getArtifactTypes(ctx context.Context, params map[string]any) map[string]any {
	types := make([]map[string]any, 0, len(ArtifactTypes))
	for _, t := range ArtifactTypes {
		types = append(types, map[string]any{"type": t.Type, "description": t.Description})
	}
	return map[string]any{"artifact_types": types}
}

func validArtifactType(t string) bool {
	for _, at := range ArtifactTypes {
		if at.Type == t {
			return true
		}
	}
	return false
}

func (d *Dispatcher) addArtifact(ctx context.Context, params map[string]any) map[string]any {
	c, errMap := d.resolveCaller(ctx, params)
	if errMap != nil {
		return errMap
	}

	artifactType := stringParam(params, "type")
	label := stringParam(params, "label")
	caption := stringParam(params, "caption")
	content := stringParam(params, "content")

	if artifactType == "" || label == "" || content == "" {
		return errResult("Missing required parameter: type, label, and content are required")
	}
	if !validArtifactType(artifactType) {
		return errResult("Unknown artifact type: %s (see get_artifact_types)", artifactType)
	}

	// Upsert on (agent, label, type) so repeated progress updates replace
	// the previous record instead of accumulating duplicates.
	existing, err := d.store.FindArtifact(ctx, c.agent.ID, label, artifactType)
	switch {
	case err == nil:
		existing.Caption = caption
		existing.Content = content
		if err := d.store.UpdateArtifact(ctx, existing); err != nil {
			return errResult("storage error: %v", err)
		}
		return map[string]any{"success": true, "artifact_id": existing.ID, "updated": true}
	case errors.Is(err, store.ErrNotFound):
		artifact := &store.Artifact{
			AgentID: c.agent.ID,
			Type:    artifactType,
			Label:   label,
			Caption: caption,
			Content: content,
		}
		if err := d.store.CreateArtifact(ctx, artifact); err != nil {
			return errResult("storage error: %v", err)
		}
		return map[string]any{"success": true, "artifact_id": artifact.ID, "updated": false}
	default:
		return errResult("storage error: %v", err)
	}
}

func (d *Dispatcher) listArtifacts(ctx context.Context, params map[string]any) map[string]any {
	c, errMap := d.resolveCaller(ctx, params)
	if errMap != nil {
		return errMap
	}

	artifacts, err := d.store.ListArtifacts(ctx, c.agent.ID)
	if err != nil {
		return errResult("storage error: %v", err)
	}
	list := make([]map[string]any, 0, len(artifacts))
	for _, a := range artifacts {
		list = append(list, map[string]any{
			"id":         a.ID,
			"type":       a.Type,
			"label":      a.Label,
			"caption":    a.Caption,
			"updated_at": a.UpdatedAt,
		})
	}
	return map[string]any{"artifacts": list}
}

// artifactProject resolves the project owning an artifact, through its agent.
func (d *Dispatcher) artifactProject(ctx context.Context, artifact *store.Artifact) (string, error) {
	agent, err := d.store.GetAgent(ctx, artifact.AgentID)
	if err != nil {
		return "", err
	}
	return agent.ProjectID, nil
}

func (d *Dispatcher) deleteArtifact(ctx context.Context, params map[string]any) map[string]any {
	c, errMap := d.resolveCaller(ctx, params)
	if errMap != nil {
		return errMap
	}

	artifactID := stringParam(params, "artifact_id")
	if artifactID == "" {
		return errResult("Missing required parameter: artifact_id")
	}

	artifact, err := d.store.GetArtifact(ctx, artifactID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errResult(accessDenied)
		}
		return errResult("storage error: %v", err)
	}

	owningProject, err := d.artifactProject(ctx, artifact)
	if err != nil || owningProject != c.project.ID {
		return errResult(accessDenied)
	}

	if err := d.store.DeleteArtifact(ctx, artifactID); err != nil {
		return errResult("storage error: %v", err)
	}
	return map[string]any{"success": true}
}

// Claim tools always act as the caller's resolved agent. Any agent_id the
// caller supplies in params is ignored, so one session cannot claim or
// release on behalf of another.

func (d *Dispatcher) claimFiles(ctx context.Context, params map[string]any) map[string]any {
	c, errMap := d.resolveCaller(ctx, params)
	if errMap != nil {
		return errMap
	}
	files, ok := filesParam(params, "files")
	if !ok || len(files) == 0 {
		return errResult("Missing required parameter: files must be a non-empty array of paths")
	}

	out := d.claims.Claim(ctx, c.project.ID, c.agent.ID, files)
	result := map[string]any{"success": out.Success, "message": out.Message}
	if len(out.Conflicts) > 0 {
		conflicts := make([]map[string]any, 0, len(out.Conflicts))
		for _, cf := range out.Conflicts {
			conflicts = append(conflicts, map[string]any{
				"file":               cf.File,
				"held_by":            cf.HeldBy,
				"expires_in_seconds": cf.ExpiresInSeconds,
			})
		}
		result["conflicts"] = conflicts
		result["retry_after_seconds"] = out.RetryAfterSeconds
	}
	return result
}

func (d *Dispatcher) releaseFiles(ctx context.Context, params map[string]any) map[string]any {
	c, errMap := d.resolveCaller(ctx, params)
	if errMap != nil {
		return errMap
	}
	files, ok := filesParam(params, "files")
	if _, present := params["files"]; present && !ok {
		return errResult("Invalid parameter: files must be an array of paths")
	}

	out := d.claims.Release(ctx, c.project.ID, c.agent.ID, files)
	return map[string]any{"success": out.Success, "message": out.Message}
}

func (d *Dispatcher) checkClaims(ctx context.Context, params map[string]any) map[string]any {
	c, errMap := d.resolveCaller(ctx, params)
	if errMap != nil {
		return errMap
	}
	files, ok := filesParam(params, "files")
	if !ok || len(files) == 0 {
		return errResult("Missing required parameter: files must be a non-empty array of paths")
	}

	statuses, err := d.claims.Check(ctx, c.project.ID, c.agent.ID, files)
	if err != nil {
		return errResult("storage error: %v", err)
	}
	list := make([]map[string]any, 0, len(statuses))
	for _, st := range statuses {
		entry := map[string]any{"file": st.File, "status": st.Status}
		if st.ClaimedBy != "" {
			entry["claimed_by"] = st.ClaimedBy
		}
		if st.Status != claims.StatusAvailable {
			entry["expires_in_seconds"] = st.ExpiresInSeconds
		}
		list = append(list, entry)
	}
	return map[string]any{"files": list}
}

func (d *Dispatcher) listClaims(ctx context.Context, params map[string]any) map[string]any {
	c, errMap := d.resolveCaller(ctx, params)
	if errMap != nil {
		return errMap
	}

	holders, err := d.claims.List(ctx, c.project.ID)
	if err != nil {
		return errResult("storage error: %v", err)
	}
	list := make([]map[string]any, 0, len(holders))
	for _, h := range holders {
		files := make([]map[string]any, 0, len(h.Files))
		for _, f := range h.Files {
			files = append(files, map[string]any{
				"file":               f.File,
				"expires_in_seconds": f.ExpiresInSeconds,
			})
		}
		list = append(list, map[string]any{
			"agent_id":   h.AgentID,
			"agent_name": h.AgentName,
			"files":      files,
		})
	}
	return map[string]any{"claims": list}
}
