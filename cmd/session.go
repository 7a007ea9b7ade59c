package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mroche14/televibecode/internal/output"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and close workspace sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := getClient().ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			ui.Info("No sessions found")
			return nil
		}

		table := ui.Table([]string{"ID", "Workspace", "State", "Current Job", "Last Activity"})
		for _, s := range sessions {
			current := "-"
			if s.CurrentJobID != "" {
				current = shortID(s.CurrentJobID)
			}
			activity := "-"
			if !s.LastActivityAt.IsZero() {
				activity = s.LastActivityAt.Local().Format("Jan 02 15:04")
			}
			table.Append([]string{
				shortID(s.ID),
				s.WorkspaceRef,
				output.SessionStateColor(string(s.State)),
				current,
				activity,
			})
		}
		return table.Render()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := getClient().GetSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(ui.Out, "Session:   %s\n", sess.ID)
		fmt.Fprintf(ui.Out, "Workspace: %s\n", sess.WorkspaceRef)
		fmt.Fprintf(ui.Out, "Path:      %s\n", sess.WorkspacePath)
		if sess.Branch != "" {
			fmt.Fprintf(ui.Out, "Branch:    %s\n", sess.Branch)
		}
		fmt.Fprintf(ui.Out, "State:     %s\n", output.SessionStateColor(string(sess.State)))
		if sess.CurrentJobID != "" {
			fmt.Fprintf(ui.Out, "Job:       %s\n", sess.CurrentJobID)
		}
		if sess.LastSummary != "" {
			fmt.Fprintf(ui.Out, "Last run:  %s\n", sess.LastSummary)
		}
		fmt.Fprintf(ui.Out, "Created:   %s\n", sess.CreatedAt.Local().Format(time.RFC1123))
		return nil
	},
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <session-id>",
	Short: "Close a session (cancels its current job)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dryRun {
			ui.DryRunMsg("Would close session %s", args[0])
			return nil
		}
		sess, err := getClient().CloseSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ui.Success("Session %s closing", shortID(sess.ID))
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionCloseCmd)
	rootCmd.AddCommand(sessionCmd)
}
