// Package session supervises the external long-running processes that back
// agent sessions.
//
// Each session is identified by "agent-<projectId>[_<agentId>]", which is
// also the name of the backing process. Two process backends are provided:
// tmux (the default, whose sessions survive server restarts and are adopted
// on relaunch) and pty (self-contained, for hosts without tmux).
//
// The supervisor detects crashes lazily by checking process liveness on
// demand rather than installing signal handlers, and it treats spawn
// failures as state transitions back to stopped rather than errors that
// propagate to remote callers.
package session
