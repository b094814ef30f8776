package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sjoeboo/loopbot/internal/mcpserver"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "mcp",
		Short: "Serve loopbot tools to a coding agent over MCP stdio",
		Long: `Serve loopbot tools over the Model Context Protocol on stdin/stdout.
Every tool call is forwarded to the running daemon (loopbot serve).

Example claude configuration:
  {"mcpServers": {"loopbot": {"command": "loopbot", "args": ["mcp"]}}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			s := mcpserver.New(client, Version)
			return mcpserver.Serve(commandContext(cmd), s, os.Stdin, os.Stdout)
		},
	})
}
