package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mroche14/televibecode/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This exposes job submission and management to MCP clients. Configure in a
client with:

  {
    "mcpServers": {
      "televibe": { "command": "televibe", "args": ["mcp"] }
    }
  }

Available tools: televibe_submit_job, televibe_get_job, televibe_list_jobs,
televibe_cancel_job, televibe_job_logs, televibe_list_approvals,
televibe_approve_job, televibe_deny_job, televibe_list_sessions,
televibe_close_session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := serverLogger()
		facade, st, err := buildFacade(logger)
		if err != nil {
			return err
		}
		defer st.Close()

		if n, err := facade.Recover(cmd.Context()); err != nil {
			return err
		} else if n > 0 {
			logger.Warn("orphaned jobs failed during recovery", "count", n)
		}

		return mcp.NewServer(facade).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
