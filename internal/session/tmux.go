// ABOUTME: tmux-backed process handles.
// ABOUTME: Sessions are named after the session id and survive server restarts.

package session

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// TmuxLauncher runs agent processes inside detached tmux sessions. Because
// tmux sessions outlive the server process, a relaunched server can adopt
// them through Find instead of spawning duplicates.
type TmuxLauncher struct {
	logger *slog.Logger
}

// NewTmuxLauncher creates a tmux-backed launcher.
func NewTmuxLauncher(logger *slog.Logger) *TmuxLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &TmuxLauncher{logger: logger.With("component", "tmux")}
}

// target returns the exact-match tmux target for a session name. The "="
// prefix disables tmux's prefix matching, which would otherwise let
// "agent-abc" match a lookup for "agent-ab".
func target(name string) string {
	return "=" + name
}

func (l *TmuxLauncher) Find(name string) (ProcessHandle, bool) {
	if err := exec.Command("tmux", "has-session", "-t", target(name)).Run(); err != nil {
		return nil, false
	}
	l.logger.Info("adopted existing tmux session", "name", name)
	return &tmuxHandle{name: name}, true
}

func (l *TmuxLauncher) Launch(name, dir, command string) (ProcessHandle, error) {
	cmd := exec.Command("tmux", "new-session", "-d", "-s", name, "-c", dir, command)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("tmux new-session %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	l.logger.Info("launched tmux session", "name", name, "dir", dir)
	return &tmuxHandle{name: name}, nil
}

type tmuxHandle struct {
	name string
}

func (h *tmuxHandle) Alive() bool {
	return exec.Command("tmux", "has-session", "-t", target(h.name)).Run() == nil
}

// SendLine sends the text literally with -l so tmux does not interpret key
// names inside it, then sends Enter as a separate keystroke. Two commands,
// but the text is fully delivered before the line terminator.
func (h *tmuxHandle) SendLine(text string) error {
	if err := exec.Command("tmux", "send-keys", "-t", target(h.name), "-l", text).Run(); err != nil {
		return fmt.Errorf("tmux send-keys to %s: %w", h.name, err)
	}
	if err := exec.Command("tmux", "send-keys", "-t", target(h.name), "Enter").Run(); err != nil {
		return fmt.Errorf("tmux send Enter to %s: %w", h.name, err)
	}
	return nil
}

func (h *tmuxHandle) SendInterrupt() error {
	if err := exec.Command("tmux", "send-keys", "-t", target(h.name), "C-c").Run(); err != nil {
		return fmt.Errorf("tmux send C-c to %s: %w", h.name, err)
	}
	return nil
}

func (h *tmuxHandle) Capture(n int) (string, error) {
	out, err := exec.Command("tmux", "capture-pane", "-p",
		"-t", target(h.name), "-S", fmt.Sprintf("-%d", n)).Output()
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane %s: %w", h.name, err)
	}
	return string(out), nil
}

func (h *tmuxHandle) Terminate() error {
	if err := exec.Command("tmux", "kill-session", "-t", target(h.name)).Run(); err != nil {
		return fmt.Errorf("tmux kill-session %s: %w", h.name, err)
	}
	return nil
}
