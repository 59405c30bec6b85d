// ABOUTME: Admin CLI for the daisy coordination server
// ABOUTME: Talks to the observer REST API over HTTP with optional JWT auth

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/daisyhq/daisy/internal/auth"
	"github.com/daisyhq/daisy/internal/config"
)

const banner = `
     _       _                          _           _
  __| | __ _(_)___ _   _      __ _  __| |_ __ ___ (_)_ __
 / _' |/ _' | / __| | | |___ / _' |/ _' | '_ ' _ \| | '_ \
| (_| | (_| | \__ \ |_| |___| (_| | (_| | | | | | | | | | |
 \__,_|\__,_|_|___/\__, |    \__,_|\__,_|_| |_| |_|_|_| |_|
                   |___/
`

func printUsage() {
	fmt.Print(banner)
	fmt.Println("Usage: daisy-admin <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                       Check server health")
	fmt.Println("  status                       Show session and mailbox status")
	fmt.Println("  projects                     List projects")
	fmt.Println("  agents PROJECT_ID            List agents in a project")
	fmt.Println("  messages AGENT_ID [N]        Show an agent's last N messages")
	fmt.Println("  send AGENT_ID MESSAGE...     Send a message to an agent's session")
	fmt.Println("  token OBSERVER_ID [TTL]      Mint an observer API token")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  DAISY_HOST    server address (default localhost:8765)")
	fmt.Println("  DAISY_TOKEN   bearer token for the observer API")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	host := os.Getenv("DAISY_HOST")
	if host == "" {
		host = "localhost:8765"
	}
	c := &client{base: "http://" + host, token: os.Getenv("DAISY_TOKEN")}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "health":
		err = cmdHealth(c)
	case "status":
		err = cmdStatus(c)
	case "projects":
		err = cmdProjects(c)
	case "agents":
		err = cmdAgents(c, args)
	case "messages":
		err = cmdMessages(c, args)
	case "send":
		err = cmdSend(c, args)
	case "token":
		err = cmdToken(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	base  string
	token string
}

func (c *client) do(method, path string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s (status %d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func cmdHealth(c *client) error {
	var out struct {
		Status string `json:"status"`
		Server string `json:"server"`
	}
	if err := c.do(http.MethodGet, "/health", nil, &out); err != nil {
		color.Red("unreachable")
		return err
	}
	color.Green("%s (%s)", out.Status, out.Server)
	return nil
}

func cmdStatus(c *client) error {
	var out struct {
		Server   string            `json:"server"`
		Sessions map[string]string `json:"sessions"`
		Mailboxes []struct {
			SessionID string `json:"session_id"`
			Typing    bool   `json:"typing"`
			Focus     string `json:"focus"`
		} `json:"mailboxes"`
	}
	if err := c.do(http.MethodGet, "/api/status", nil, &out); err != nil {
		return err
	}

	if len(out.Sessions) == 0 {
		fmt.Println("no sessions")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATE")
	for id, state := range out.Sessions {
		colored := state
		switch state {
		case "running":
			colored = color.GreenString(state)
		case "crashed":
			colored = color.RedString(state)
		case "starting", "restarting":
			colored = color.YellowString(state)
		}
		fmt.Fprintf(w, "%s\t%s\n", id, colored)
	}
	w.Flush()

	for _, mb := range out.Mailboxes {
		if mb.Focus == "" && !mb.Typing {
			continue
		}
		fmt.Printf("%s: ", mb.SessionID)
		if mb.Typing {
			color.Yellow("typing")
		}
		if mb.Focus != "" {
			fmt.Printf("focus: %s\n", mb.Focus)
		}
	}
	return nil
}

func cmdProjects(c *client) error {
	var out struct {
		Projects []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Path string `json:"path"`
		} `json:"projects"`
	}
	if err := c.do(http.MethodGet, "/api/projects", nil, &out); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPATH")
	for _, p := range out.Projects {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.Path)
	}
	return w.Flush()
}

func cmdAgents(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: daisy-admin agents PROJECT_ID")
	}
	var out struct {
		Agents []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Role      string `json:"role"`
			IsDefault bool   `json:"is_default"`
		} `json:"agents"`
	}
	if err := c.do(http.MethodGet, "/api/projects/"+args[0]+"/agents", nil, &out); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tDEFAULT")
	for _, a := range out.Agents {
		def := ""
		if a.IsDefault {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Role, def)
	}
	return w.Flush()
}

func cmdMessages(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: daisy-admin messages AGENT_ID [N]")
	}
	path := "/api/agents/" + args[0] + "/messages"
	if len(args) > 1 {
		if _, err := strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid limit %q", args[1])
		}
		path += "?limit=" + args[1]
	}

	var out struct {
		Messages []struct {
			Role      string    `json:"role"`
			Content   string    `json:"content"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"messages"`
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return err
	}

	for _, m := range out.Messages {
		ts := color.HiBlackString(m.CreatedAt.Local().Format("15:04:05"))
		who := color.CyanString(m.Role)
		if m.Role == "user" {
			who = color.GreenString(m.Role)
		}
		fmt.Printf("%s %s %s\n", ts, who, m.Content)
	}
	return nil
}

func cmdSend(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: daisy-admin send AGENT_ID MESSAGE...")
	}
	payload, err := json.Marshal(map[string]string{
		"message": strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(http.MethodPost, "/api/agents/"+args[0]+"/send", strings.NewReader(string(payload)), &out); err != nil {
		return err
	}
	color.Green("sent to %s", out.SessionID)
	return nil
}

// cmdToken mints an observer token locally from the configured secret, so
// it works even when the server is down.
func cmdToken(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: daisy-admin token OBSERVER_ID [TTL]")
	}

	configPath := os.Getenv("DAISY_CONFIG")
	if configPath == "" {
		return fmt.Errorf("DAISY_CONFIG must point at the server config to mint tokens")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("no auth.jwt_secret configured; the observer API is open")
	}

	ttl := 30 * 24 * time.Hour
	if len(args) > 1 {
		ttl, err = time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid TTL %q: %w", args[1], err)
		}
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(args[0], ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
