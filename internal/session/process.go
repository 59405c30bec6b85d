// ABOUTME: Process backend abstraction for agent sessions.
// ABOUTME: A Launcher spawns or rediscovers named processes; a ProcessHandle drives one.

package session

// ProcessHandle drives one external long-running process. Implementations
// must tolerate the process dying underneath them: every method on a dead
// process returns an error or false rather than panicking.
type ProcessHandle interface {
	// Alive reports whether the backing process still exists. Called on
	// demand for lazy crash detection, so it must be cheap.
	Alive() bool

	// SendLine delivers one line of input. The text payload is written in
	// full before the line terminator, so the process never sees a torn line.
	SendLine(text string) error

	// SendInterrupt delivers a best-effort interrupt (Ctrl-C equivalent).
	SendInterrupt() error

	// Capture returns up to the last n lines of the process's terminal
	// output. It must not block on a slow process.
	Capture(n int) (string, error)

	// Terminate requests process teardown. Callers poll Alive afterwards;
	// some runtimes need more than one signal before they actually exit.
	Terminate() error
}

// Launcher creates and rediscovers process handles by name. The name is the
// session id, which lets a relaunched server adopt processes spawned by a
// previous run instead of starting duplicates.
type Launcher interface {
	// Find returns a handle to an existing process with the given name,
	// or false if none exists.
	Find(name string) (ProcessHandle, bool)

	// Launch starts a new named process running command in dir.
	Launch(name, dir, command string) (ProcessHandle, error)
}
