// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides project/agent/message/artifact/claim persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys so agent/project deletion cascades to claims
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			path       TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agents (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name       TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT '',
			is_default INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_agents_project ON agents(project_id);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_agent_created
			ON messages(agent_id, created_at);

		CREATE TABLE IF NOT EXISTS artifacts (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			type       TEXT NOT NULL,
			label      TEXT NOT NULL,
			caption    TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL DEFAULT '',
			"order"    INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_artifacts_agent ON artifacts(agent_id, "order");

		CREATE TABLE IF NOT EXISTS file_claims (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			file_path  TEXT NOT NULL,
			claimed_at DATETIME NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE,
			UNIQUE (project_id, file_path)
		);

		CREATE INDEX IF NOT EXISTS idx_claims_project ON file_claims(project_id);
		CREATE INDEX IF NOT EXISTS idx_claims_agent ON file_claims(project_id, agent_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Projects

// CreateProject inserts a new project. An empty ID is replaced with a new UUID.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, path, created_at) VALUES (?, ?, ?, ?)`,
		project.ID, project.Name, project.Path, project.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	return &p, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, created_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project. Agents, messages, artifacts, and claims
// cascade through foreign keys.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Agents

// CreateAgent inserts a new agent. An empty ID is replaced with a new UUID.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, project_id, name, role, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.ProjectID, agent.Name, agent.Role, boolToInt(agent.IsDefault), agent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, role, is_default, created_at FROM agents WHERE id = ?`, id))
}

// GetDefaultAgent returns the project's default agent.
func (s *SQLiteStore) GetDefaultAgent(ctx context.Context, projectID string) (*Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, role, is_default, created_at
		 FROM agents WHERE project_id = ? AND is_default = 1 LIMIT 1`, projectID))
}

func (s *SQLiteStore) scanAgent(row *sql.Row) (*Agent, error) {
	var a Agent
	var isDefault int
	err := row.Scan(&a.ID, &a.ProjectID, &a.Name, &a.Role, &isDefault, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	a.IsDefault = isDefault != 0
	return &a, nil
}

// ListAgents returns all agents for a project ordered by creation time.
func (s *SQLiteStore) ListAgents(ctx context.Context, projectID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, role, is_default, created_at
		 FROM agents WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		var isDefault int
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Name, &a.Role, &isDefault, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		a.IsDefault = isDefault != 0
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent and cascades to its messages, artifacts, and claims.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Messages

// SaveMessage persists a chat message. An empty ID is replaced with a new UUID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, agent_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.AgentID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns the most recent messages for an agent in chronological
// order. A limit of 0 returns everything.
func (s *SQLiteStore) ListMessages(ctx context.Context, agentID string, limit int) ([]*Message, error) {
	query := `SELECT id, agent_id, role, content, created_at
		FROM messages WHERE agent_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{agentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order after the DESC-limited query
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Artifacts

// CreateArtifact inserts a new artifact at the end of the agent's display order.
func (s *SQLiteStore) CreateArtifact(ctx context.Context, artifact *Artifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = now
	}
	if artifact.UpdatedAt.IsZero() {
		artifact.UpdatedAt = now
	}

	var maxOrder sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX("order") FROM artifacts WHERE agent_id = ?`, artifact.AgentID,
	).Scan(&maxOrder)
	if err != nil {
		return fmt.Errorf("querying artifact order: %w", err)
	}
	artifact.Order = int(maxOrder.Int64) + 1

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, agent_id, type, label, caption, content, "order", created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID, artifact.AgentID, artifact.Type, artifact.Label, artifact.Caption,
		artifact.Content, artifact.Order, artifact.CreatedAt, artifact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting artifact: %w", err)
	}
	return nil
}

// GetArtifact retrieves an artifact by ID.
func (s *SQLiteStore) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	return s.scanArtifact(s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, type, label, caption, content, "order", created_at, updated_at
		 FROM artifacts WHERE id = ?`, id))
}

// FindArtifact looks up an artifact by its upsert key (agent, label, type).
func (s *SQLiteStore) FindArtifact(ctx context.Context, agentID, label, artifactType string) (*Artifact, error) {
	return s.scanArtifact(s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, type, label, caption, content, "order", created_at, updated_at
		 FROM artifacts WHERE agent_id = ? AND label = ? AND type = ? LIMIT 1`,
		agentID, label, artifactType))
}

func (s *SQLiteStore) scanArtifact(row *sql.Row) (*Artifact, error) {
	var a Artifact
	err := row.Scan(&a.ID, &a.AgentID, &a.Type, &a.Label, &a.Caption, &a.Content,
		&a.Order, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying artifact: %w", err)
	}
	return &a, nil
}

// UpdateArtifact replaces the caption and content of an existing artifact.
func (s *SQLiteStore) UpdateArtifact(ctx context.Context, artifact *Artifact) error {
	artifact.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET caption = ?, content = ?, updated_at = ? WHERE id = ?`,
		artifact.Caption, artifact.Content, artifact.UpdatedAt, artifact.ID,
	)
	if err != nil {
		return fmt.Errorf("updating artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListArtifacts returns an agent's artifacts in display order.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, agentID string) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, type, label, caption, content, "order", created_at, updated_at
		 FROM artifacts WHERE agent_id = ? ORDER BY "order"`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Type, &a.Label, &a.Caption, &a.Content,
			&a.Order, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

// DeleteArtifact removes an artifact by ID.
func (s *SQLiteStore) DeleteArtifact(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// File claims

// ListFileClaims returns all claim rows for a project, expired or not.
func (s *SQLiteStore) ListFileClaims(ctx context.Context, projectID string) ([]*FileClaim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, agent_id, file_path, claimed_at
		 FROM file_claims WHERE project_id = ? ORDER BY file_path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying claims: %w", err)
	}
	defer rows.Close()

	var claims []*FileClaim
	for rows.Next() {
		var c FileClaim
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.AgentID, &c.FilePath, &c.ClaimedAt); err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		claims = append(claims, &c)
	}
	return claims, rows.Err()
}

// InsertFileClaim inserts a new lease row. Returns ErrDuplicateClaim if a
// row already exists for (project, path); callers sweep expired rows first.
func (s *SQLiteStore) InsertFileClaim(ctx context.Context, claim *FileClaim) error {
	if claim.ID == "" {
		claim.ID = uuid.New().String()
	}
	if claim.ClaimedAt.IsZero() {
		claim.ClaimedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_claims (id, project_id, agent_id, file_path, claimed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		claim.ID, claim.ProjectID, claim.AgentID, claim.FilePath, claim.ClaimedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateClaim
		}
		return fmt.Errorf("inserting claim: %w", err)
	}
	return nil
}

// RefreshFileClaim resets the lease timestamp for an existing claim.
func (s *SQLiteStore) RefreshFileClaim(ctx context.Context, projectID, filePath string, claimedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_claims SET claimed_at = ? WHERE project_id = ? AND file_path = ?`,
		claimedAt, projectID, filePath,
	)
	if err != nil {
		return fmt.Errorf("refreshing claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFileClaims removes the leases an agent holds on the given paths.
// Paths not held by the agent are silently skipped.
func (s *SQLiteStore) DeleteFileClaims(ctx context.Context, projectID, agentID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(paths))
	placeholders = placeholders[:len(placeholders)-1]

	args := []any{projectID, agentID}
	for _, p := range paths {
		args = append(args, p)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_claims WHERE project_id = ? AND agent_id = ? AND file_path IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("deleting claims: %w", err)
	}
	return nil
}

// DeleteAgentFileClaims removes every lease an agent holds in a project.
func (s *SQLiteStore) DeleteAgentFileClaims(ctx context.Context, projectID, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_claims WHERE project_id = ? AND agent_id = ?`,
		projectID, agentID,
	)
	if err != nil {
		return fmt.Errorf("deleting agent claims: %w", err)
	}
	return nil
}

// DeleteExpiredFileClaims removes leases whose timestamp is at or before the cutoff.
func (s *SQLiteStore) DeleteExpiredFileClaims(ctx context.Context, projectID string, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_claims WHERE project_id = ? AND claimed_at <= ?`,
		projectID, cutoff,
	)
	if err != nil {
		return fmt.Errorf("deleting expired claims: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
