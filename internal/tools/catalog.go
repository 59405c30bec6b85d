// ABOUTME: Tool catalog: names, descriptions, and JSON schemas for every agent-visible tool.
// ABOUTME: Served verbatim on /tools and through the tools/list JSON-RPC method.

package tools

// Tool describes one agent-visible operation.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ArtifactType describes one kind of artifact an agent may publish.
type ArtifactType struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ArtifactTypes lists the artifact kinds accepted by add_artifact.
var ArtifactTypes = []ArtifactType{
	{Type: "markdown", Description: "Rendered markdown document (plans, reports, notes)"},
	{Type: "code", Description: "Source code snippet with optional language"},
	{Type: "csv", Description: "Tabular data rendered as a table"},
	{Type: "link", Description: "URL with a short description"},
}

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var sessionIDProp = stringProp("Your session id, as given in your instructions")

var filesProp = map[string]any{
	"type":        "array",
	"items":       map[string]any{"type": "string"},
	"description": "Workspace-relative file paths",
}

// Catalog is the fixed tool table, in presentation order.
var Catalog = []Tool{
	{
		Name:        "send_message",
		Description: "Send a progress message to the operator, update your typing indicator, and optionally update your current focus",
		InputSchema: objectSchema([]string{"session_id"}, map[string]any{
			"session_id": sessionIDProp,
			"message":    stringProp("Message text; empty to just update typing/focus"),
			"done":       map[string]any{"type": "boolean", "description": "True (default) when you have finished the current step; false keeps the typing indicator on"},
			"focus":      stringProp("Short description of what you are working on now"),
		}),
	},
	{
		Name:        "get_project",
		Description: "Get project details; with a session_id returns your project and its agents, without one lists all projects",
		InputSchema: objectSchema(nil, map[string]any{
			"session_id": sessionIDProp,
		}),
	},
	{
		Name:        "get_artifact_types",
		Description: "List the artifact types accepted by add_artifact",
		InputSchema: objectSchema(nil, map[string]any{}),
	},
	{
		Name:        "add_artifact",
		Description: "Publish or update an artifact; calling again with the same label and type replaces the content",
		InputSchema: objectSchema([]string{"session_id", "type", "label", "content"}, map[string]any{
			"session_id": sessionIDProp,
			"type":       stringProp("One of the types from get_artifact_types"),
			"label":      stringProp("Stable identifier for this artifact, e.g. 'plan'"),
			"caption":    stringProp("One-line human-readable caption"),
			"content":    stringProp("Artifact body (markdown text, code, CSV rows, or a URL)"),
		}),
	},
	{
		Name:        "list_artifacts",
		Description: "List the artifacts you have published",
		InputSchema: objectSchema([]string{"session_id"}, map[string]any{
			"session_id": sessionIDProp,
		}),
	},
	{
		Name:        "delete_artifact",
		Description: "Delete one of your artifacts",
		InputSchema: objectSchema([]string{"session_id", "artifact_id"}, map[string]any{
			"session_id":  sessionIDProp,
			"artifact_id": stringProp("Id returned by add_artifact or list_artifacts"),
		}),
	},
	{
		Name:        "claim_files",
		Description: "Claim exclusive ownership of files before editing them; claims expire automatically, re-claim to extend",
		InputSchema: objectSchema([]string{"session_id", "files"}, map[string]any{
			"session_id": sessionIDProp,
			"files":      filesProp,
		}),
	},
	{
		Name:        "release_files",
		Description: "Release file claims when you are done editing; omit files to release everything you hold",
		InputSchema: objectSchema([]string{"session_id"}, map[string]any{
			"session_id": sessionIDProp,
			"files":      filesProp,
		}),
	},
	{
		Name:        "check_claims",
		Description: "Check whether files are available, claimed by you, or blocked by another agent",
		InputSchema: objectSchema([]string{"session_id", "files"}, map[string]any{
			"session_id": sessionIDProp,
			"files":      filesProp,
		}),
	},
	{
		Name:        "list_claims",
		Description: "List all live file claims in your project, grouped by holder",
		InputSchema: objectSchema([]string{"session_id"}, map[string]any{
			"session_id": sessionIDProp,
		}),
	},
}
