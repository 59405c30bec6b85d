// ABOUTME: Entry point for the daisy coordination server
// ABOUTME: Supervises agent sessions and serves the tool and observer APIs

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/daisyhq/daisy/internal/auth"
	"github.com/daisyhq/daisy/internal/claims"
	"github.com/daisyhq/daisy/internal/config"
	"github.com/daisyhq/daisy/internal/mailbox"
	"github.com/daisyhq/daisy/internal/server"
	"github.com/daisyhq/daisy/internal/session"
	"github.com/daisyhq/daisy/internal/store"
	"github.com/daisyhq/daisy/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _       _
  __| | __ _(_)___ _   _
 / _' |/ _' | / __| | | |
| (_| | (_| | \__ \ |_| |
 \__,_|\__,_|_|___/\__, |
                   |___/
`

// getConfigPath returns the path to the daisy config file.
// Priority: DAISY_CONFIG env var > XDG_CONFIG_HOME/daisy/daisyd.yaml > ~/.config/daisy/daisyd.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DAISY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "daisyd.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "daisy", "daisyd.yaml")
}

// getDataPath returns the path to the daisy data directory.
// Priority: XDG_DATA_HOME/daisy > ~/.local/share/daisy
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "daisy")
}

func main() {
	// Local overrides for development; missing file is fine
	godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: daisyd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the coordination server")
		fmt.Println("  init                        Create a starter config file")
		fmt.Println("  health                      Check server health")
		fmt.Println("  project add NAME PATH       Register a project")
		fmt.Println("  agent add PROJECT NAME ROLE Add an agent to a project")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "project":
		err = runProject(ctx, os.Args[2:])
	case "agent":
		err = runAgent(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Sessions:  %s\n", cfg.Sessions.Backend)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting daisyd",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	registry := mailbox.NewRegistry(logger)

	claimMgr := claims.NewManager(st, cfg.Claims.TTL, logger)
	defer claimMgr.Close()
	claimMgr.StartSweeper(ctx, cfg.Claims.TTL/2, func() []string {
		projects, err := st.ListProjects(ctx)
		if err != nil {
			return nil
		}
		ids := make([]string, 0, len(projects))
		for _, p := range projects {
			ids = append(ids, p.ID)
		}
		return ids
	})

	var launcher session.Launcher
	switch cfg.Sessions.Backend {
	case "pty":
		launcher = session.NewPtyLauncher(logger)
	default:
		launcher = session.NewTmuxLauncher(logger)
	}

	supervisor := session.NewSupervisor(session.Options{
		Launcher:       launcher,
		Mailbox:        registry,
		Claims:         claimMgr,
		Command:        cfg.Sessions.Command,
		PollInterval:   cfg.Sessions.PollInterval,
		StartupTimeout: cfg.Sessions.StartupTimeout,
		Logger:         logger,
	})

	dispatcher := tools.NewDispatcher(st, claimMgr, registry, logger)

	srvCfg := server.Config{
		Dispatcher: dispatcher,
		Store:      st,
		Sessions:   supervisor,
		Registry:   registry,
		Logger:     logger,
	}
	if cfg.Auth.JWTSecret != "" {
		srvCfg.Verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ln, err := server.NewListener(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		ln.Close()
	}()

	return srv.Serve(ln)
}

const starterConfig = `# daisyd configuration
server:
  http_addr: "127.0.0.1:8765"

database:
  path: "%s"

sessions:
  backend: "tmux"       # or "pty"
  command: "claude"     # command spawned per agent session

claims:
  ttl: "120s"

logging:
  level: "info"
  format: "text"        # or "json"

# tailscale:
#   enabled: true
#   hostname: "daisy"
#   auth_key: "${TS_AUTHKEY}"
`

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	dbPath := filepath.Join(getDataPath(), "daisy.db")
	content := fmt.Sprintf(starterConfig, dbPath)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runProject manages project rows directly through the store, for operators
// setting up before the server is running.
func runProject(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: daisyd project add NAME PATH")
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	switch args[0] {
	case "add":
		if len(args) != 3 {
			return fmt.Errorf("usage: daisyd project add NAME PATH")
		}
		p := &store.Project{Name: args[1], Path: args[2]}
		if err := st.CreateProject(ctx, p); err != nil {
			return fmt.Errorf("creating project: %w", err)
		}
		fmt.Printf("Created project %s (%s)\n", p.Name, p.ID)
		fmt.Printf("Default session id: %s\n", session.ComposeSessionID(p.ID, ""))
		return nil
	default:
		return fmt.Errorf("unknown project command: %s", args[0])
	}
}

func runAgent(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: daisyd agent add PROJECT_ID NAME ROLE")
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	switch args[0] {
	case "add":
		if len(args) != 4 {
			return fmt.Errorf("usage: daisyd agent add PROJECT_ID NAME ROLE")
		}
		projectID := args[1]
		if _, err := st.GetProject(ctx, projectID); err != nil {
			return fmt.Errorf("project %s: %w", projectID, err)
		}

		// First agent in a project becomes the default
		existing, err := st.ListAgents(ctx, projectID)
		if err != nil {
			return fmt.Errorf("listing agents: %w", err)
		}

		a := &store.Agent{
			ProjectID: projectID,
			Name:      args[2],
			Role:      args[3],
			IsDefault: len(existing) == 0,
		}
		if err := st.CreateAgent(ctx, a); err != nil {
			return fmt.Errorf("creating agent: %w", err)
		}
		fmt.Printf("Created agent %s (%s)\n", a.Name, a.ID)
		sessionID := session.ComposeSessionID(projectID, a.ID)
		if a.IsDefault {
			sessionID = session.ComposeSessionID(projectID, "")
		}
		fmt.Printf("Session id: %s\n", sessionID)
		return nil
	default:
		return fmt.Errorf("unknown agent command: %s", args[0])
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
