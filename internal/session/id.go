// ABOUTME: Session identifier composition and parsing.
// ABOUTME: Session ids double as the external process naming key, so the grammar is stable.

package session

import (
	"fmt"
	"strings"
)

const sessionPrefix = "agent-"

// ComposeSessionID builds a session id from a project id and an optional
// agent id. The result follows "agent-<projectId>[_<agentId>]" and is stable
// across restarts because it also names the backing process.
func ComposeSessionID(projectID, agentID string) string {
	if agentID == "" {
		return sessionPrefix + projectID
	}
	return sessionPrefix + projectID + "_" + agentID
}

// ParseSessionID decomposes a session id into its project id and optional
// agent id. An empty agent id means the caller should resolve the project's
// default agent. Parsing is pure; it never touches the store.
func ParseSessionID(sessionID string) (projectID, agentID string, err error) {
	rest, ok := strings.CutPrefix(sessionID, sessionPrefix)
	if !ok {
		return "", "", fmt.Errorf("invalid session id %q: missing %q prefix", sessionID, sessionPrefix)
	}
	if rest == "" {
		return "", "", fmt.Errorf("invalid session id %q: empty project id", sessionID)
	}

	// Project ids are UUIDs and never contain underscores, so the first
	// underscore separates project from agent.
	projectID, agentID, _ = strings.Cut(rest, "_")
	if projectID == "" {
		return "", "", fmt.Errorf("invalid session id %q: empty project id", sessionID)
	}
	return projectID, agentID, nil
}
