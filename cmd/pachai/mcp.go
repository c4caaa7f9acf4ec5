package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/pachai/internal/api"
	"github.com/kalambet/pachai/internal/config"
	"github.com/kalambet/pachai/internal/governance"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve governance tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr only.
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, rules, err := openGovernance(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Governance: governance.NewEngine(rules, nil)}, version)
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
