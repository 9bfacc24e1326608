package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lorekeeper/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run lorekeeper as an MCP (Model Context Protocol) server",
		Long: `Start an MCP server that exposes lorekeeper over stdio.

Table assistants can invoke lorekeeper tools directly:

  • lorekeeper_submit_correction - Submit a canonical-state correction
  • lorekeeper_decide_correction - Approve or reject a pending correction
  • lorekeeper_run_status        - Get run status and step history
  • lorekeeper_entities          - List canonical entities

The server communicates via JSON-RPC 2.0 over stdin/stdout, following the
Model Context Protocol specification.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			server, err := mcp.NewServer(&mcp.Config{
				Name:    "lorekeeper",
				Version: version,
				Root:    root,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer server.Close()

			if err := server.Run(cmd.Context()); err != nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}
}
