// ABOUTME: In-memory per-session registry of display messages, typing flag, and focus text.
// ABOUTME: Ephemeral fan-out state for polling UIs; durable history lives in the store.

package mailbox

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message roles for display entries.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// UIMessage is one display entry in a session's mailbox. It is distinct
// from persisted chat messages and does not survive a restart.
type UIMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsTyping  bool      `json:"is_typing"`
}

// SessionState is a point-in-time snapshot of one session's mailbox.
type SessionState struct {
	SessionID string      `json:"session_id"`
	Typing    bool        `json:"typing"`
	Focus     string      `json:"focus,omitempty"`
	Messages  []UIMessage `json:"messages"`
}

type sessionBox struct {
	typing   bool
	focus    string
	messages []UIMessage
}

// Registry holds the mailbox state of every session. All access goes through
// its methods; the internal maps are never handed out. A single mutex guards
// the whole registry, which is fine because every operation is a short
// in-memory mutation.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionBox
	logger   *slog.Logger

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*sessionBox),
		logger:   logger.With("component", "mailbox"),
		now:      time.Now,
	}
}

func (r *Registry) box(sessionID string) *sessionBox {
	b, ok := r.sessions[sessionID]
	if !ok {
		b = &sessionBox{}
		r.sessions[sessionID] = b
	}
	return b
}

// Append adds one display message to the session's mailbox. Messages from
// the same session are never reordered.
func (r *Registry) Append(sessionID, role, content string) UIMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := UIMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: r.now().UTC(),
	}
	b := r.box(sessionID)
	b.messages = append(b.messages, msg)
	return msg
}

// SetTyping sets or clears the session's typing indicator.
func (r *Registry) SetTyping(sessionID string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.box(sessionID).typing = typing
}

// Typing reports whether the session's typing indicator is set.
func (r *Registry) Typing(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.sessions[sessionID]
	return ok && b.typing
}

// SetFocus updates the session's current-focus text. An empty focus string
// is ignored so a tool call that omits focus never wipes the previous one.
func (r *Registry) SetFocus(sessionID, focus string) {
	if focus == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.box(sessionID).focus = focus
}

// Focus returns the session's current-focus text.
func (r *Registry) Focus(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.sessions[sessionID]
	if !ok {
		return ""
	}
	return b.focus
}

// Messages returns a copy of the session's display messages in append order.
func (r *Registry) Messages(sessionID string) []UIMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]UIMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

// State snapshots a single session's mailbox.
func (r *Registry) State(sessionID string) SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := SessionState{SessionID: sessionID}
	b, ok := r.sessions[sessionID]
	if !ok {
		return st
	}
	st.Typing = b.typing
	st.Focus = b.focus
	st.Messages = make([]UIMessage, len(b.messages))
	copy(st.Messages, b.messages)
	return st
}

// Snapshot returns the state of every session with any recorded activity.
func (r *Registry) Snapshot() []SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionState, 0, len(r.sessions))
	for id, b := range r.sessions {
		st := SessionState{
			SessionID: id,
			Typing:    b.typing,
			Focus:     b.focus,
			Messages:  make([]UIMessage, len(b.messages)),
		}
		copy(st.Messages, b.messages)
		out = append(out, st)
	}
	return out
}

// Clear drops all state for a session. Used when a session is torn down.
func (r *Registry) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Post applies a send_message update in one registry lock acquisition:
// a non-empty message is appended, done=true clears the typing indicator
// (done=false sets it), and a non-empty focus always updates focus. An
// empty message with done=true is the "stop the spinner" call and appends
// nothing.
func (r *Registry) Post(sessionID, message string, done bool, focus string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.box(sessionID)
	if message != "" {
		b.messages = append(b.messages, UIMessage{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Role:      RoleAgent,
			Content:   message,
			Timestamp: r.now().UTC(),
		})
	}
	b.typing = !done
	if focus != "" {
		b.focus = focus
	}

	r.logger.Debug("mailbox updated",
		"session_id", sessionID,
		"has_message", message != "",
		"typing", b.typing,
	)
}
