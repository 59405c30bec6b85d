// ABOUTME: Session supervisor managing one external process per agent identity.
// ABOUTME: State machine per session with reconnect-on-relaunch and lazy crash detection.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/daisyhq/daisy/internal/mailbox"
)

// State is a session lifecycle state.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateCrashed    State = "crashed"
	StateRestarting State = "restarting"
)

// Identity carries the context a freshly spawned process is primed with.
type Identity struct {
	ProjectName string
	AgentName   string
	AgentRole   string
}

// ClaimReleaser drops all file claims held by an agent. Satisfied by the
// claims manager; declared here so this package does not import it.
type ClaimReleaser interface {
	ReleaseAll(ctx context.Context, projectID, agentID string) error
}

type managedSession struct {
	id        string
	projectID string
	agentID   string
	dir       string
	state     State
	handle    ProcessHandle
	// starting is non-nil while a Start is in flight; closed when it settles
	starting chan struct{}
}

// Supervisor manages the lifecycle of agent sessions. Crashes are detected
// lazily: there is no signal handler, the backing process's existence is
// checked on demand. On server relaunch, sessions whose backing process is
// still alive are adopted rather than re-spawned.
//
// The mutex guards only the session map and state fields. Process I/O
// (spawning, polling, capturing) always happens with the lock released.
type Supervisor struct {
	launcher       Launcher
	mailbox        *mailbox.Registry
	claims         ClaimReleaser
	command        string
	pollInterval   time.Duration
	startupTimeout time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// Options configures a Supervisor.
type Options struct {
	Launcher       Launcher
	Mailbox        *mailbox.Registry
	Claims         ClaimReleaser
	Command        string
	PollInterval   time.Duration
	StartupTimeout time.Duration
	Logger         *slog.Logger
}

// NewSupervisor creates a session supervisor.
func NewSupervisor(opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 300 * time.Millisecond
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		launcher:       opts.Launcher,
		mailbox:        opts.Mailbox,
		claims:         opts.Claims,
		command:        opts.Command,
		pollInterval:   opts.PollInterval,
		startupTimeout: opts.StartupTimeout,
		logger:         opts.Logger.With("component", "session"),
		sessions:       make(map[string]*managedSession),
	}
}

// session returns the tracked session, creating a stopped record on first use.
func (sv *Supervisor) session(id string) (*managedSession, error) {
	if s, ok := sv.sessions[id]; ok {
		return s, nil
	}
	projectID, agentID, err := ParseSessionID(id)
	if err != nil {
		return nil, err
	}
	s := &managedSession{
		id:        id,
		projectID: projectID,
		agentID:   agentID,
		state:     StateStopped,
	}
	sv.sessions[id] = s
	return s, nil
}

// snapshot returns the session's current handle and state without doing I/O.
func (sv *Supervisor) snapshot(id string) (ProcessHandle, State) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	s, ok := sv.sessions[id]
	if !ok {
		return nil, StateStopped
	}
	return s.handle, s.state
}

func (sv *Supervisor) setState(id string, state State) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if s, ok := sv.sessions[id]; ok {
		s.state = state
	}
}

// State reports the session's lifecycle state, demoting running to crashed
// if the backing process has silently disappeared.
func (sv *Supervisor) State(id string) State {
	handle, state := sv.snapshot(id)
	if state != StateRunning {
		return state
	}
	if handle == nil || !handle.Alive() {
		sv.logger.Warn("session process gone, marking crashed", "session_id", id)
		sv.setState(id, StateCrashed)
		return StateCrashed
	}
	return StateRunning
}

// IsRunning reports whether the session is running with a live process.
func (sv *Supervisor) IsRunning(id string) bool {
	return sv.State(id) == StateRunning
}

// Start brings the session to running. Already-running sessions are a
// no-op, and a Start that finds another Start in flight waits for it to
// settle and reports its outcome, so callers never proceed against a
// session that is still coming up. If a backing process with the session's
// name already exists it is adopted instead of spawning a duplicate.
// Otherwise a new process is spawned, polled until it comes up, and primed
// with an initial prompt built from the identity. Spawn failures leave the
// session stopped.
func (sv *Supervisor) Start(ctx context.Context, id, dir string, identity Identity) error {
	sv.mu.Lock()
	s, err := sv.session(id)
	if err != nil {
		sv.mu.Unlock()
		return err
	}
	if s.starting != nil {
		ch := s.starting
		sv.mu.Unlock()
		return sv.waitStarting(ctx, id, ch)
	}
	if s.state == StateRunning && s.handle != nil {
		handle := s.handle
		sv.mu.Unlock()
		if handle.Alive() {
			return nil
		}
		// Stale running state, take ownership of a fresh start
		sv.mu.Lock()
		if s.starting != nil {
			ch := s.starting
			sv.mu.Unlock()
			return sv.waitStarting(ctx, id, ch)
		}
	}
	s.dir = dir
	s.state = StateStarting
	s.starting = make(chan struct{})
	sv.mu.Unlock()
	defer sv.finishStart(s)

	// Reconnect path: a process from a previous server run may still exist
	if existing, ok := sv.launcher.Find(id); ok {
		sv.mu.Lock()
		s.handle = existing
		s.state = StateRunning
		sv.mu.Unlock()
		sv.logger.Info("reconnected to session", "session_id", id)
		return nil
	}

	newHandle, err := sv.launcher.Launch(id, dir, sv.command)
	if err != nil {
		sv.setState(id, StateStopped)
		sv.logger.Error("session spawn failed", "session_id", id, "error", err)
		return fmt.Errorf("start session %s: %w", id, err)
	}

	if err := sv.awaitAlive(ctx, newHandle); err != nil {
		newHandle.Terminate()
		sv.setState(id, StateStopped)
		sv.logger.Error("session did not come up", "session_id", id, "error", err)
		return fmt.Errorf("start session %s: %w", id, err)
	}

	if prompt := buildPrompt(id, identity); prompt != "" {
		if err := newHandle.SendLine(prompt); err != nil {
			sv.logger.Warn("failed to send initial prompt", "session_id", id, "error", err)
		}
	}

	sv.mu.Lock()
	s.handle = newHandle
	s.state = StateRunning
	sv.mu.Unlock()
	sv.logger.Info("session started", "session_id", id, "dir", dir)
	return nil
}

// waitStarting blocks until the in-flight start settles and reports whether
// it produced a running session.
func (sv *Supervisor) waitStarting(ctx context.Context, id string, ch chan struct{}) error {
	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	if sv.State(id) == StateRunning {
		return nil
	}
	return fmt.Errorf("session %s did not start", id)
}

// finishStart marks the in-flight start settled and wakes its waiters.
func (sv *Supervisor) finishStart(s *managedSession) {
	sv.mu.Lock()
	ch := s.starting
	s.starting = nil
	sv.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// awaitAlive polls until the process reports alive or the startup window closes.
func (sv *Supervisor) awaitAlive(ctx context.Context, h ProcessHandle) error {
	deadline := time.Now().Add(sv.startupTimeout)
	for {
		if h.Alive() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("process not alive after %s", sv.startupTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sv.pollInterval):
		}
	}
}

// SendLine records the text in the session's mailbox, then delivers it to
// the backing process. Sending to a session that is not running is a silent
// no-op after the mailbox record, so UI observers still see the message.
func (sv *Supervisor) SendLine(id, text string) {
	if sv.mailbox != nil {
		sv.mailbox.Append(id, mailbox.RoleUser, text)
	}

	if sv.State(id) != StateRunning {
		sv.logger.Debug("send to non-running session dropped", "session_id", id)
		return
	}
	handle, _ := sv.snapshot(id)
	if handle == nil {
		return
	}
	if err := handle.SendLine(text); err != nil {
		sv.logger.Warn("send line failed", "session_id", id, "error", err)
	}
}

// SendInterrupt delivers a best-effort interrupt to the session.
func (sv *Supervisor) SendInterrupt(id string) {
	handle, state := sv.snapshot(id)
	if state != StateRunning || handle == nil {
		return
	}
	if err := handle.SendInterrupt(); err != nil {
		sv.logger.Warn("interrupt failed", "session_id", id, "error", err)
	}
}

// terminateRetries bounds the confirm-teardown polling loop.
const terminateRetries = 10

// Terminate tears the session's process down and confirms it is gone,
// re-signalling on each retry because some runtimes need more than one.
// The agent's file claims are released and its mailbox cleared.
func (sv *Supervisor) Terminate(ctx context.Context, id string) error {
	handle, _ := sv.snapshot(id)
	if handle != nil {
		for i := 0; i < terminateRetries && handle.Alive(); i++ {
			if err := handle.Terminate(); err != nil {
				sv.logger.Warn("terminate attempt failed", "session_id", id, "attempt", i+1, "error", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sv.pollInterval):
			}
		}
		if handle.Alive() {
			return fmt.Errorf("session %s process would not die", id)
		}
	}

	sv.mu.Lock()
	s, ok := sv.sessions[id]
	var projectID, agentID string
	if ok {
		s.state = StateStopped
		s.handle = nil
		projectID, agentID = s.projectID, s.agentID
	}
	sv.mu.Unlock()

	if ok {
		if sv.claims != nil {
			if err := sv.claims.ReleaseAll(ctx, projectID, agentID); err != nil {
				sv.logger.Warn("claim release on terminate failed", "session_id", id, "error", err)
			}
		}
		if sv.mailbox != nil {
			sv.mailbox.Clear(id)
		}
	}
	sv.logger.Info("session terminated", "session_id", id)
	return nil
}

// ForceRestart terminates the session if present, then starts it fresh.
// Used to discard accumulated conversational context; persisted history in
// the store is unaffected.
func (sv *Supervisor) ForceRestart(ctx context.Context, id, dir string, identity Identity) error {
	sv.setState(id, StateRestarting)
	if err := sv.Terminate(ctx, id); err != nil {
		return err
	}
	return sv.Start(ctx, id, dir, identity)
}

// CapturePane returns the last n lines of the session's terminal output
// with ANSI escape sequences stripped. Returns empty output for sessions
// without a live process.
func (sv *Supervisor) CapturePane(id string, n int) (string, error) {
	handle, _ := sv.snapshot(id)
	if handle == nil {
		return "", nil
	}
	out, err := handle.Capture(n)
	if err != nil {
		return "", err
	}
	return ansi.Strip(out), nil
}

// Status returns the current state of every tracked session, with lazy
// crash detection applied.
func (sv *Supervisor) Status() map[string]State {
	sv.mu.Lock()
	ids := make([]string, 0, len(sv.sessions))
	for id := range sv.sessions {
		ids = append(ids, id)
	}
	sv.mu.Unlock()

	out := make(map[string]State, len(ids))
	for _, id := range ids {
		out[id] = sv.State(id)
	}
	return out
}

// buildPrompt renders the short role-and-rules prompt a new process is
// primed with.
func buildPrompt(id string, identity Identity) string {
	if identity.AgentName == "" && identity.AgentRole == "" {
		return ""
	}
	return fmt.Sprintf(
		"You are %s, the %s for project %s. Your session id is %s. "+
			"Coordinate with other agents through the daisy tools: claim files before editing them, "+
			"release claims when done, and report progress with send_message.",
		identity.AgentName, identity.AgentRole, identity.ProjectName, id)
}
