package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mroche14/televibecode/internal/api"
	"github.com/mroche14/televibecode/internal/models"
	"github.com/mroche14/televibecode/internal/output"
)

var (
	jobWorkspace string
	jobSession   string
	jobBranch    string
	jobTarget    string
	jobStatuses  []string
	jobLimit     int
	jobLogLines  int
	jobDenyMsg   string
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and manage agent jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit [instruction]",
	Short: "Submit an instruction to run in a workspace",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instruction := strings.Join(args, " ")
		if jobWorkspace == "" && jobSession == "" {
			return fmt.Errorf("--workspace or --session is required")
		}

		job, pos, err := getClient().SubmitJob(cmd.Context(), api.SubmitJobRequest{
			WorkspaceRef: jobWorkspace,
			SessionID:    jobSession,
			Branch:       jobBranch,
			Instruction:  instruction,
			Target:       jobTarget,
		})
		if err != nil {
			return err
		}

		if pos == 0 {
			ui.Success("Job %s submitted", job.ID)
		} else {
			ui.Success("Job %s queued at position %d", job.ID, pos)
		}
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := getClient().ListJobs(cmd.Context(), jobSession, jobStatuses, jobLimit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			ui.Info("No jobs found")
			return nil
		}

		table := ui.Table([]string{"ID", "Status", "Instruction", "Created", "Duration"})
		for _, j := range jobs {
			table.Append([]string{
				shortID(j.ID),
				output.StatusColor(string(j.Status)),
				truncate(j.Instruction, 48),
				j.CreatedAt.Local().Format("Jan 02 15:04"),
				jobDuration(j),
			})
		}
		return table.Render()
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := getClient().GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(ui.Out, "Job:         %s\n", job.ID)
		fmt.Fprintf(ui.Out, "Session:     %s\n", job.SessionID)
		fmt.Fprintf(ui.Out, "Status:      %s\n", output.StatusColor(string(job.Status)))
		fmt.Fprintf(ui.Out, "Instruction: %s\n", job.Instruction)
		if job.ApprovalScope != "" {
			fmt.Fprintf(ui.Out, "Approval:    %s (%s)\n", job.ApprovalState, job.ApprovalScope)
		}
		if job.ResultSummary != "" {
			fmt.Fprintf(ui.Out, "Result:      %s\n", job.ResultSummary)
		}
		if len(job.FilesChanged) > 0 {
			fmt.Fprintf(ui.Out, "Files:       %s\n", strings.Join(job.FilesChanged, ", "))
		}
		if job.Error != "" {
			fmt.Fprintf(ui.Out, "Error:       %s", output.Red(job.Error))
			if job.ErrorType != "" {
				fmt.Fprintf(ui.Out, " (%s)", job.ErrorType)
			}
			fmt.Fprintln(ui.Out)
		}
		fmt.Fprintf(ui.Out, "Created:     %s\n", job.CreatedAt.Local().Format(time.RFC1123))
		if d := jobDuration(job); d != "" {
			fmt.Fprintf(ui.Out, "Duration:    %s\n", d)
		}
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := getClient().CancelJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ui.Success("Job %s: cancel requested (was %s)", shortID(job.ID), job.Status)
		return nil
	},
}

var jobLogsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Show a job's output log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logs, err := getClient().GetJobLogs(cmd.Context(), args[0], jobLogLines)
		if err != nil {
			return err
		}
		if logs.Truncated {
			ui.Warning("Older output trimmed")
		}
		if logs.Content == "" {
			ui.Info("No output yet")
			return nil
		}
		fmt.Fprintln(ui.Out, logs.Content)
		return nil
	},
}

var jobApproveCmd = &cobra.Command{
	Use:   "approve <job-id>",
	Short: "Approve a job's pending gated action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getClient().ApproveJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		ui.Success("Job %s approved", shortID(args[0]))
		return nil
	},
}

var jobDenyCmd = &cobra.Command{
	Use:   "deny <job-id>",
	Short: "Deny a job's pending gated action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getClient().DenyJob(cmd.Context(), args[0], jobDenyMsg); err != nil {
			return err
		}
		ui.Success("Job %s denied", shortID(args[0]))
		return nil
	},
}

func init() {
	jobSubmitCmd.Flags().StringVarP(&jobWorkspace, "workspace", "w", "", "Workspace ref (project/branch)")
	jobSubmitCmd.Flags().StringVarP(&jobSession, "session", "s", "", "Existing session id")
	jobSubmitCmd.Flags().StringVarP(&jobBranch, "branch", "b", "", "Branch for a new session")
	jobSubmitCmd.Flags().StringVarP(&jobTarget, "target", "t", "", "Display target for progress updates")

	jobListCmd.Flags().StringVarP(&jobSession, "session", "s", "", "Filter by session id")
	jobListCmd.Flags().StringSliceVar(&jobStatuses, "status", nil, "Filter by status (comma-separated)")
	jobListCmd.Flags().IntVar(&jobLimit, "limit", 20, "Maximum jobs to list")

	jobLogsCmd.Flags().IntVar(&jobLogLines, "lines", 100, "Number of trailing lines (0 = all)")
	jobDenyCmd.Flags().StringVar(&jobDenyMsg, "reason", "", "Reason for the denial")

	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobShowCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobLogsCmd)
	jobCmd.AddCommand(jobApproveCmd)
	jobCmd.AddCommand(jobDenyCmd)
	rootCmd.AddCommand(jobCmd)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func jobDuration(j *models.Job) string {
	if j.StartedAt == nil {
		return ""
	}
	end := time.Now()
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return end.Sub(*j.StartedAt).Round(time.Second).String()
}
