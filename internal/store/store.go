// ABOUTME: Store interface and data types for daisy persistence
// ABOUTME: Defines Project, Agent, Message, Artifact, FileClaim and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateClaim is returned when inserting a claim for a path that
// already has a live lease in the same project
var ErrDuplicateClaim = errors.New("claim already exists")

// Project represents one shared codebase that agents work against
type Project struct {
	ID        string
	Name      string
	Path      string // working directory on disk
	CreatedAt time.Time
}

// Agent represents one independently-reasoning worker identity within a project
type Agent struct {
	ID        string
	ProjectID string
	Name      string
	Role      string // short role description used in the session's initial prompt
	IsDefault bool   // the project's default agent, addressed without an agent id suffix
	CreatedAt time.Time
}

// Message roles for persisted chat history
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Message represents a persisted chat message between the operator and an agent
type Message struct {
	ID        string
	AgentID   string
	Role      string // "user" or "agent"
	Content   string
	CreatedAt time.Time
}

// Artifact represents a typed output an agent published via add_artifact.
// Content holds the type-specific payload (markdown text, code, CSV rows,
// a URL) as a single string.
type Artifact struct {
	ID        string
	AgentID   string
	Type      string
	Label     string
	Caption   string
	Content   string
	Order     int // display ordering within the agent, ascending
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FileClaim represents a time-bounded exclusive lease over a file path.
// At most one live claim exists per (ProjectID, FilePath); expiry is
// interpreted by the claims manager, not the store.
type FileClaim struct {
	ID        string
	ProjectID string
	AgentID   string
	FilePath  string
	ClaimedAt time.Time
}

// Store defines the interface for daisy persistence
type Store interface {
	// Projects
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	DeleteProject(ctx context.Context, id string) error

	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context, projectID string) ([]*Agent, error)
	GetDefaultAgent(ctx context.Context, projectID string) (*Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// Messages (durable chat history)
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, agentID string, limit int) ([]*Message, error)

	// Artifacts
	CreateArtifact(ctx context.Context, artifact *Artifact) error
	GetArtifact(ctx context.Context, id string) (*Artifact, error)
	FindArtifact(ctx context.Context, agentID, label, artifactType string) (*Artifact, error)
	UpdateArtifact(ctx context.Context, artifact *Artifact) error
	ListArtifacts(ctx context.Context, agentID string) ([]*Artifact, error)
	DeleteArtifact(ctx context.Context, id string) error

	// File claims (lease rows; expiry semantics live in the claims manager)
	ListFileClaims(ctx context.Context, projectID string) ([]*FileClaim, error)
	InsertFileClaim(ctx context.Context, claim *FileClaim) error
	RefreshFileClaim(ctx context.Context, projectID, filePath string, claimedAt time.Time) error
	DeleteFileClaims(ctx context.Context, projectID, agentID string, paths []string) error
	DeleteAgentFileClaims(ctx context.Context, projectID, agentID string) error
	DeleteExpiredFileClaims(ctx context.Context, projectID string, cutoff time.Time) error

	// Close releases any resources held by the store
	Close() error
}
