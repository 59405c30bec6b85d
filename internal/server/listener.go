// ABOUTME: Listener construction: plain TCP or an embedded tailscale node via tsnet.
// ABOUTME: The transport is listener-agnostic; this is the only place that knows about tailnets.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"tailscale.com/tsnet"

	"github.com/daisyhq/daisy/internal/config"
)

// Listener wraps a net.Listener with the optional tsnet node behind it so
// both can be shut down together.
type Listener struct {
	net.Listener
	ts *tsnet.Server
}

// Close closes the listener and, when present, the tailscale node.
func (l *Listener) Close() error {
	err := l.Listener.Close()
	if l.ts != nil {
		if tsErr := l.ts.Close(); err == nil {
			err = tsErr
		}
	}
	return err
}

// NewListener builds the server's listener from config. With tailscale
// enabled the server joins the tailnet as its own node and listens there,
// so agents on other machines reach it without any port forwarding.
func NewListener(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.Tailscale.Enabled {
		ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", cfg.Server.HTTPAddr, err)
		}
		return &Listener{Listener: ln}, nil
	}

	if cfg.Tailscale.StateDir != "" {
		if err := os.MkdirAll(cfg.Tailscale.StateDir, 0700); err != nil {
			return nil, fmt.Errorf("creating tailscale state dir: %w", err)
		}
	}

	ts := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		AuthKey:   cfg.Tailscale.AuthKey,
		Dir:       cfg.Tailscale.StateDir,
		Ephemeral: cfg.Tailscale.Ephemeral,
	}

	logger.Info("starting tailscale node",
		"hostname", cfg.Tailscale.Hostname,
		"ephemeral", cfg.Tailscale.Ephemeral,
	)
	status, err := ts.Up(ctx)
	if err != nil {
		ts.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	if len(status.TailscaleIPs) > 0 {
		logger.Info("tailscale node ready", "tailscale_ip", status.TailscaleIPs[0].String())
	}

	addr := cfg.Server.HTTPAddr
	if addr == "" {
		addr = ":80"
	}
	ln, err := ts.Listen("tcp", addr)
	if err != nil {
		ts.Close()
		return nil, fmt.Errorf("listen on tailscale %s: %w", addr, err)
	}
	return &Listener{Listener: ln, ts: ts}, nil
}
