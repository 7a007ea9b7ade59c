package cmd

import (
	"github.com/spf13/cobra"
)

var approvalCmd = &cobra.Command{
	Use:   "approval",
	Short: "Manage pending approval requests",
}

var approvalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals",
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := getClient().ListPendingApprovals(cmd.Context())
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			ui.Info("No pending approvals")
			return nil
		}

		table := ui.Table([]string{"Job", "Scope", "Action", "Requested"})
		for _, r := range reqs {
			table.Append([]string{
				shortID(r.JobID),
				string(r.Scope),
				truncate(r.ActionDescription, 56),
				r.RequestedAt.Local().Format("Jan 02 15:04"),
			})
		}
		return table.Render()
	},
}

func init() {
	approvalCmd.AddCommand(approvalListCmd)
	rootCmd.AddCommand(approvalCmd)
}
