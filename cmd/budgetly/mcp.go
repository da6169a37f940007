package main

import (
	"github.com/spf13/cobra"

	"github.com/budgetly/budgetly/pkg/mcp"
)

func newMCPCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only ledger queries as an MCP server on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.New(a.engine, a.events, a.logger, version)
			return srv.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
