// ABOUTME: Lease-based file claim manager providing mutual exclusion over file paths.
// ABOUTME: Claims expire lazily after a TTL; batch claims are granted all-or-nothing.

package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/daisyhq/daisy/internal/store"
)

// DefaultTTL is the claim expiry window applied when no TTL is configured.
const DefaultTTL = 120 * time.Second

// File claim statuses reported by Check.
const (
	StatusAvailable    = "available"
	StatusClaimedByYou = "claimed_by_you"
	StatusBlocked      = "blocked"
)

// Conflict describes a path that is held by a different agent.
type Conflict struct {
	File             string `json:"file"`
	HeldBy           string `json:"held_by"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// Outcome is the result of a claim or release operation. Storage failures
// are reported here as Success=false rather than as Go errors, because the
// callers are remote agents that need an actionable JSON payload.
type Outcome struct {
	Success           bool       `json:"success"`
	Message           string     `json:"message"`
	Conflicts         []Conflict `json:"conflicts,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds,omitempty"`
}

// FileStatus is the per-path result of Check.
type FileStatus struct {
	File             string `json:"file"`
	Status           string `json:"status"`
	ClaimedBy        string `json:"claimed_by,omitempty"`
	ExpiresInSeconds int    `json:"expires_in_seconds,omitempty"`
}

// HolderClaims groups the live claims of one agent for display.
type HolderClaims struct {
	AgentID   string       `json:"agent_id"`
	AgentName string       `json:"agent_name"`
	Files     []FileStatus `json:"files"`
}

// Manager grants exclusive, time-bounded ownership of file paths to agents.
// Expired leases are swept lazily before every operation, so no background
// timer is required; an optional periodic sweep keeps list output fresh.
//
// Grants are serialized by the tool dispatcher's mutex. The background
// sweeper and session teardown mutate the lease table outside that mutex,
// but both paths only ever delete rows: a batch grant can never be
// half-applied by them, and a lease vanishing mid-grant is absorbed by
// Claim falling back from refresh to insert.
type Manager struct {
	store  store.Store
	ttl    time.Duration
	logger *slog.Logger

	// now is the clock source; replaced in tests to exercise expiry.
	now func() time.Time

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewManager creates a claim manager backed by the given store.
func NewManager(s store.Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		ttl:    ttl,
		logger: logger.With("component", "claims"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// TTL returns the configured claim expiry window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// sweep deletes all leases older than the TTL for the project.
func (m *Manager) sweep(ctx context.Context, projectID string) error {
	cutoff := m.now().UTC().Add(-m.ttl)
	return m.store.DeleteExpiredFileClaims(ctx, projectID, cutoff)
}

// liveClaims sweeps and then returns the surviving leases indexed by path.
func (m *Manager) liveClaims(ctx context.Context, projectID string) (map[string]*store.FileClaim, error) {
	if err := m.sweep(ctx, projectID); err != nil {
		return nil, err
	}
	claims, err := m.store.ListFileClaims(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]*store.FileClaim, len(claims))
	for _, c := range claims {
		byPath[c.FilePath] = c
	}
	return byPath, nil
}

func (m *Manager) expiresIn(claimedAt time.Time) int {
	remaining := m.ttl - m.now().UTC().Sub(claimedAt)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Round(time.Second).Seconds())
}

// holderName resolves an agent id to its display name, falling back to the id.
func (m *Manager) holderName(ctx context.Context, agentID string) string {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return agentID
	}
	return agent.Name
}

// Claim attempts to lease every path in the batch for the agent. If any path
// is held by a different agent the entire batch is rejected, so a caller
// racing for five files never ends up holding three and blocking on two.
// Re-claiming a path the agent already holds refreshes its lease.
func (m *Manager) Claim(ctx context.Context, projectID, agentID string, paths []string) Outcome {
	paths = dedupe(paths)
	if len(paths) == 0 {
		return Outcome{Success: false, Message: "no files specified"}
	}

	held, err := m.liveClaims(ctx, projectID)
	if err != nil {
		m.logger.Error("claim sweep failed", "project_id", projectID, "error", err)
		return Outcome{Success: false, Message: fmt.Sprintf("storage error: %v", err)}
	}

	// First pass: find paths held by someone else
	var conflicts []Conflict
	for _, path := range paths {
		if c, ok := held[path]; ok && c.AgentID != agentID {
			conflicts = append(conflicts, Conflict{
				File:             path,
				HeldBy:           m.holderName(ctx, c.AgentID),
				ExpiresInSeconds: m.expiresIn(c.ClaimedAt),
			})
		}
	}

	if len(conflicts) > 0 {
		var lines []string
		maxExpiry := 0
		for _, c := range conflicts {
			lines = append(lines, fmt.Sprintf("%s is claimed by %s (expires in %ds)", c.File, c.HeldBy, c.ExpiresInSeconds))
			if c.ExpiresInSeconds > maxExpiry {
				maxExpiry = c.ExpiresInSeconds
			}
		}
		return Outcome{
			Success:           false,
			Message:           "Cannot claim files: " + strings.Join(lines, "; ") + ". Release or wait, then retry.",
			Conflicts:         conflicts,
			RetryAfterSeconds: maxExpiry,
		}
	}

	// Second pass: refresh our own leases, insert the rest
	now := m.now().UTC()
	for _, path := range paths {
		_, alreadyHeld := held[path]
		if alreadyHeld {
			err = m.store.RefreshFileClaim(ctx, projectID, path, now)
		}
		if !alreadyHeld || errors.Is(err, store.ErrNotFound) {
			// A concurrent sweep may delete our own expired lease between
			// the conflict pass and here; the path is free, so take it fresh
			err = m.store.InsertFileClaim(ctx, &store.FileClaim{
				ProjectID: projectID,
				AgentID:   agentID,
				FilePath:  path,
				ClaimedAt: now,
			})
		}
		if err != nil {
			m.logger.Error("claim write failed", "project_id", projectID, "path", path, "error", err)
			return Outcome{Success: false, Message: fmt.Sprintf("storage error: %v", err)}
		}
	}

	m.logger.Debug("files claimed",
		"project_id", projectID,
		"agent_id", agentID,
		"count", len(paths),
	)

	return Outcome{
		Success: true,
		Message: fmt.Sprintf("Claimed %d file(s) for %ds", len(paths), int(m.ttl.Seconds())),
	}
}

// Release drops the agent's leases on the given paths. Releasing a path the
// agent does not hold is a no-op, not an error. An empty path list releases
// everything the agent holds.
func (m *Manager) Release(ctx context.Context, projectID, agentID string, paths []string) Outcome {
	var err error
	if len(paths) == 0 {
		err = m.store.DeleteAgentFileClaims(ctx, projectID, agentID)
	} else {
		err = m.store.DeleteFileClaims(ctx, projectID, agentID, dedupe(paths))
	}
	if err != nil {
		m.logger.Error("release failed", "project_id", projectID, "agent_id", agentID, "error", err)
		return Outcome{Success: false, Message: fmt.Sprintf("storage error: %v", err)}
	}
	return Outcome{Success: true, Message: "Released"}
}

// ReleaseAll drops every lease the agent holds in the project. Called on
// session stop and restart so a crashed agent cannot permanently wedge a file.
func (m *Manager) ReleaseAll(ctx context.Context, projectID, agentID string) error {
	if err := m.store.DeleteAgentFileClaims(ctx, projectID, agentID); err != nil {
		m.logger.Error("release all failed", "project_id", projectID, "agent_id", agentID, "error", err)
		return err
	}
	m.logger.Info("released all claims", "project_id", projectID, "agent_id", agentID)
	return nil
}

// Check reports the claim status of each path from the agent's perspective.
// It never mutates lease ownership.
func (m *Manager) Check(ctx context.Context, projectID, agentID string, paths []string) ([]FileStatus, error) {
	held, err := m.liveClaims(ctx, projectID)
	if err != nil {
		return nil, err
	}

	statuses := make([]FileStatus, 0, len(paths))
	for _, path := range dedupe(paths) {
		c, ok := held[path]
		switch {
		case !ok:
			statuses = append(statuses, FileStatus{File: path, Status: StatusAvailable})
		case c.AgentID == agentID:
			statuses = append(statuses, FileStatus{
				File:             path,
				Status:           StatusClaimedByYou,
				ExpiresInSeconds: m.expiresIn(c.ClaimedAt),
			})
		default:
			statuses = append(statuses, FileStatus{
				File:             path,
				Status:           StatusBlocked,
				ClaimedBy:        m.holderName(ctx, c.AgentID),
				ExpiresInSeconds: m.expiresIn(c.ClaimedAt),
			})
		}
	}
	return statuses, nil
}

// List groups all live leases in the project by holder for display.
func (m *Manager) List(ctx context.Context, projectID string) ([]HolderClaims, error) {
	held, err := m.liveClaims(ctx, projectID)
	if err != nil {
		return nil, err
	}

	byHolder := make(map[string][]FileStatus)
	for _, c := range held {
		byHolder[c.AgentID] = append(byHolder[c.AgentID], FileStatus{
			File:             c.FilePath,
			Status:           StatusBlocked,
			ExpiresInSeconds: m.expiresIn(c.ClaimedAt),
		})
	}

	holders := make([]HolderClaims, 0, len(byHolder))
	for agentID, files := range byHolder {
		sort.Slice(files, func(i, j int) bool { return files[i].File < files[j].File })
		holders = append(holders, HolderClaims{
			AgentID:   agentID,
			AgentName: m.holderName(ctx, agentID),
			Files:     files,
		})
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].AgentID < holders[j].AgentID })
	return holders, nil
}

// StartSweeper runs a periodic expiry sweep for the given projects until
// Close is called. Sweeping is already done lazily on every operation; the
// background pass only keeps list output fresh between calls.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration, projectIDs func() []string) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				for _, id := range projectIDs() {
					if err := m.sweep(ctx, id); err != nil {
						m.logger.Warn("background sweep failed", "project_id", id, "error", err)
					}
				}
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the background sweeper. Safe to call multiple times.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
}

// dedupe removes duplicate paths while preserving order.
func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := paths[:0:0]
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
