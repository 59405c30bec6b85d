// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	projects  map[string]*Project
	agents    map[string]*Agent
	messages  map[string][]*Message  // keyed by agentID
	artifacts map[string]*Artifact   // keyed by artifact ID
	claims    map[string]*FileClaim  // keyed by "projectID:filePath"

	// FailNext, when set, makes the next mutating claim operation return the
	// error and clears the flag. Used to exercise storage-failure paths.
	FailNext error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		projects:  make(map[string]*Project),
		agents:    make(map[string]*Agent),
		messages:  make(map[string][]*Message),
		artifacts: make(map[string]*Artifact),
		claims:    make(map[string]*FileClaim),
	}
}

func (m *MockStore) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

// Projects

func (m *MockStore) CreateProject(ctx context.Context, project *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	p := *project
	m.projects[p.ID] = &p
	return nil
}

func (m *MockStore) GetProject(ctx context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockStore) ListProjects(ctx context.Context) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var projects []*Project
	for _, p := range m.projects {
		cp := *p
		projects = append(projects, &cp)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

func (m *MockStore) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)

	for agentID, a := range m.agents {
		if a.ProjectID == id {
			delete(m.agents, agentID)
			delete(m.messages, agentID)
		}
	}
	for key, c := range m.claims {
		if c.ProjectID == id {
			delete(m.claims, key)
		}
	}
	for artID, art := range m.artifacts {
		if _, ok := m.agents[art.AgentID]; !ok {
			delete(m.artifacts, artID)
		}
	}
	return nil
}

// Agents

func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	a := *agent
	m.agents[a.ID] = &a
	return nil
}

func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockStore) ListAgents(ctx context.Context, projectID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agents []*Agent
	for _, a := range m.agents {
		if a.ProjectID == projectID {
			cp := *a
			agents = append(agents, &cp)
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

func (m *MockStore) GetDefaultAgent(ctx context.Context, projectID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.agents {
		if a.ProjectID == projectID && a.IsDefault {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	delete(m.messages, id)
	for key, c := range m.claims {
		if c.ProjectID == a.ProjectID && c.AgentID == id {
			delete(m.claims, key)
		}
	}
	for artID, art := range m.artifacts {
		if art.AgentID == id {
			delete(m.artifacts, artID)
		}
	}
	return nil
}

// Messages

func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	m.messages[cp.AgentID] = append(m.messages[cp.AgentID], &cp)
	return nil
}

func (m *MockStore) ListMessages(ctx context.Context, agentID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[agentID]
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}

	out := make([]*Message, 0, len(msgs)-start)
	for _, msg := range msgs[start:] {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

// Artifacts

func (m *MockStore) CreateArtifact(ctx context.Context, artifact *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

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

	maxOrder := 0
	for _, a := range m.artifacts {
		if a.AgentID == artifact.AgentID && a.Order > maxOrder {
			maxOrder = a.Order
		}
	}
	artifact.Order = maxOrder + 1

	cp := *artifact
	m.artifacts[cp.ID] = &cp
	return nil
}

func (m *MockStore) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockStore) FindArtifact(ctx context.Context, agentID, label, artifactType string) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.artifacts {
		if a.AgentID == agentID && a.Label == label && a.Type == artifactType {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) UpdateArtifact(ctx context.Context, artifact *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.artifacts[artifact.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Caption = artifact.Caption
	existing.Content = artifact.Content
	existing.UpdatedAt = time.Now().UTC()
	artifact.UpdatedAt = existing.UpdatedAt
	return nil
}

func (m *MockStore) ListArtifacts(ctx context.Context, agentID string) ([]*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var artifacts []*Artifact
	for _, a := range m.artifacts {
		if a.AgentID == agentID {
			cp := *a
			artifacts = append(artifacts, &cp)
		}
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Order < artifacts[j].Order
	})
	return artifacts, nil
}

func (m *MockStore) DeleteArtifact(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.artifacts[id]; !ok {
		return ErrNotFound
	}
	delete(m.artifacts, id)
	return nil
}

// File claims

func claimKey(projectID, filePath string) string {
	return projectID + ":" + filePath
}

func (m *MockStore) ListFileClaims(ctx context.Context, projectID string) ([]*FileClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var claims []*FileClaim
	for _, c := range m.claims {
		if c.ProjectID == projectID {
			cp := *c
			claims = append(claims, &cp)
		}
	}
	sort.Slice(claims, func(i, j int) bool {
		return claims[i].FilePath < claims[j].FilePath
	})
	return claims, nil
}

func (m *MockStore) InsertFileClaim(ctx context.Context, claim *FileClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}

	key := claimKey(claim.ProjectID, claim.FilePath)
	if _, exists := m.claims[key]; exists {
		return ErrDuplicateClaim
	}

	if claim.ID == "" {
		claim.ID = uuid.New().String()
	}
	if claim.ClaimedAt.IsZero() {
		claim.ClaimedAt = time.Now().UTC()
	}
	cp := *claim
	m.claims[key] = &cp
	return nil
}

func (m *MockStore) RefreshFileClaim(ctx context.Context, projectID, filePath string, claimedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}

	c, ok := m.claims[claimKey(projectID, filePath)]
	if !ok {
		return ErrNotFound
	}
	c.ClaimedAt = claimedAt
	return nil
}

func (m *MockStore) DeleteFileClaims(ctx context.Context, projectID, agentID string, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}

	for _, p := range paths {
		key := claimKey(projectID, p)
		if c, ok := m.claims[key]; ok && c.AgentID == agentID {
			delete(m.claims, key)
		}
	}
	return nil
}

func (m *MockStore) DeleteAgentFileClaims(ctx context.Context, projectID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, c := range m.claims {
		if c.ProjectID == projectID && c.AgentID == agentID {
			delete(m.claims, key)
		}
	}
	return nil
}

func (m *MockStore) DeleteExpiredFileClaims(ctx context.Context, projectID string, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, c := range m.claims {
		if c.ProjectID == projectID && !c.ClaimedAt.After(cutoff) {
			delete(m.claims, key)
		}
	}
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
