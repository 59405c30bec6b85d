// ABOUTME: pty-backed process handles for environments without tmux.
// ABOUTME: Output is drained into a bounded buffer so Capture never blocks.

package session

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// outputBufferSize caps how much terminal output is retained per session.
const outputBufferSize = 64 * 1024

// PtyLauncher runs agent processes on a local pseudo-terminal. Unlike tmux
// sessions, pty children die with the server, so Find never adopts anything
// and every relaunch spawns fresh.
type PtyLauncher struct {
	logger *slog.Logger
}

// NewPtyLauncher creates a pty-backed launcher.
func NewPtyLauncher(logger *slog.Logger) *PtyLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PtyLauncher{logger: logger.With("component", "pty")}
}

func (l *PtyLauncher) Find(name string) (ProcessHandle, bool) {
	return nil, false
}

func (l *PtyLauncher) Launch(name, dir, command string) (ProcessHandle, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("pty start %s: %w", name, err)
	}

	h := &ptyHandle{
		name: name,
		cmd:  cmd,
		pty:  f,
	}
	go h.drain()
	go func() {
		cmd.Wait()
		h.mu.Lock()
		h.exited = true
		h.mu.Unlock()
	}()

	l.logger.Info("launched pty session", "name", name, "pid", cmd.Process.Pid, "dir", dir)
	return h, nil
}

type ptyHandle struct {
	name string
	cmd  *exec.Cmd
	pty  *os.File

	mu         sync.Mutex
	buf        []byte
	exited     bool
	termSignal bool
}

// drain pumps pty output into the bounded buffer until the pty closes.
// Keeping the pty drained also prevents the child from blocking on writes.
func (h *ptyHandle) drain() {
	chunk := make([]byte, 4096)
	for {
		n, err := h.pty.Read(chunk)
		if n > 0 {
			h.mu.Lock()
			h.buf = append(h.buf, chunk[:n]...)
			if len(h.buf) > outputBufferSize {
				h.buf = h.buf[len(h.buf)-outputBufferSize:]
			}
			h.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (h *ptyHandle) Alive() bool {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return false
	}
	return h.cmd.Process.Signal(syscall.Signal(0)) == nil
}

func (h *ptyHandle) SendLine(text string) error {
	if _, err := h.pty.Write(append([]byte(text), '\r')); err != nil {
		return fmt.Errorf("pty write to %s: %w", h.name, err)
	}
	return nil
}

func (h *ptyHandle) SendInterrupt() error {
	// ETX, what the terminal driver turns Ctrl-C into
	if _, err := h.pty.Write([]byte{0x03}); err != nil {
		return fmt.Errorf("pty interrupt %s: %w", h.name, err)
	}
	return nil
}

func (h *ptyHandle) Capture(n int) (string, error) {
	h.mu.Lock()
	out := string(h.buf)
	h.mu.Unlock()

	lines := strings.Split(out, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}

// Terminate sends SIGTERM on the first call and SIGKILL on subsequent
// calls, matching the caller's terminate-then-poll loop.
func (h *ptyHandle) Terminate() error {
	h.mu.Lock()
	escalate := h.termSignal
	h.termSignal = true
	h.mu.Unlock()

	sig := syscall.SIGTERM
	if escalate {
		sig = syscall.SIGKILL
	}
	if err := h.cmd.Process.Signal(sig); err != nil {
		if errIsProcessDone(err) {
			return nil
		}
		return fmt.Errorf("signal %s to %s: %w", sig, h.name, err)
	}
	if escalate {
		h.pty.Close()
	}
	return nil
}

func errIsProcessDone(err error) bool {
	return err == os.ErrProcessDone || err == syscall.ESRCH
}
