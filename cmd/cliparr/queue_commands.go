package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cliparr/internal/api"
	"cliparr/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the processing queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRequeueCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueBulkDeleteCommand(ctx))
	queueCmd.AddCommand(newQueuePauseCommand(ctx))
	queueCmd.AddCommand(newQueueResumeCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth per status and pool pause state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueStatus()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp.Status)
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "CPU pool: %s\n", pausedLabel(resp.Status.CPUPaused))
				fmt.Fprintf(stdout, "GPU pool: %s\n", pausedLabel(resp.Status.GPUPaused))
				rows := buildQueueStatusRows(resp.Status.Counts)
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "Queue is empty")
					return nil
				}
				fmt.Fprint(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList(statuses, limit)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp.Jobs)
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Show", "S/E", "Status", "Progress", "Confidence"},
					buildJobListRows(resp.Jobs),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of jobs to return (0 = all)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show detailed information for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobDescribe(id)
				if err != nil {
					return err
				}
				if !resp.Found {
					if ctx.JSONMode() {
						return writeJSON(cmd, map[string]any{"error": "not_found", "id": id})
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Job %d not found\n", id)
					return nil
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp.Job)
				}
				printJobDetails(cmd, resp.Job)
				return nil
			})
		},
	}
}

func newQueueRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Reset a job back to the start of the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobRequeue(id)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp.Job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d requeued (status: %s)\n", id, resp.Job.Status)
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a single job from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.JobRemove(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d removed\n", id)
				return nil
			})
		},
	}
}

func newQueueBulkDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-delete <id> [id...]",
		Short: "Remove multiple jobs, pausing both pools for the duration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseJobID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobBulkDelete(ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s)\n", resp.Removed)
				return nil
			})
		},
	}
}

func newQueuePauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <cpu|gpu>",
		Short: "Pause a concurrency pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PoolControl(args[0], true)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s pool paused\n", strings.ToUpper(resp.Pool))
				return nil
			})
		},
	}
}

func newQueueResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <cpu|gpu>",
		Short: "Resume a concurrency pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PoolControl(args[0], false)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s pool resumed\n", strings.ToUpper(resp.Pool))
				return nil
			})
		},
	}
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func pausedLabel(paused bool) string {
	if paused {
		return "paused"
	}
	return "running"
}

func buildJobListRows(jobs []api.ProcessingJob) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			job.ShowTitle,
			fmt.Sprintf("S%02dE%02d", job.SeasonNumber, job.EpisodeNumber),
			job.Status,
			progressLabel(job.Progress),
			confidenceLabel(job.ConfidenceScore),
		})
	}
	return rows
}

func progressLabel(p api.Progress) string {
	if p.Stage == "" {
		return "-"
	}
	return fmt.Sprintf("%s (%.0f%%)", p.Stage, p.Percent)
}

func confidenceLabel(score float64) string {
	if score <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", score)
}

func printJobDetails(cmd *cobra.Command, job api.ProcessingJob) {
	stdout := cmd.OutOrStdout()
	fmt.Fprintf(stdout, "Job %d\n", job.ID)
	fmt.Fprintf(stdout, "  Show:           %s\n", job.ShowTitle)
	fmt.Fprintf(stdout, "  Episode:        S%02dE%02d %s\n", job.SeasonNumber, job.EpisodeNumber, job.EpisodeTitle)
	fmt.Fprintf(stdout, "  File:           %s\n", job.FilePath)
	fmt.Fprintf(stdout, "  Status:         %s\n", job.Status)
	fmt.Fprintf(stdout, "  Progress:       %s\n", progressLabel(job.Progress))
	fmt.Fprintf(stdout, "  Confidence:     %s\n", confidenceLabel(job.ConfidenceScore))
	fmt.Fprintf(stdout, "  Manual verify:  %s\n", yesNo(job.ManualVerified))
	if job.IntroStart != nil && job.IntroEnd != nil {
		fmt.Fprintf(stdout, "  Intro:          %.1fs - %.1fs\n", *job.IntroStart, *job.IntroEnd)
	}
	if job.CreditsStart != nil && job.CreditsEnd != nil {
		fmt.Fprintf(stdout, "  Credits:        %.1fs - %.1fs\n", *job.CreditsStart, *job.CreditsEnd)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(stdout, "  Error:          %s\n", job.ErrorMessage)
	}
	fmt.Fprintf(stdout, "  Created:        %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(stdout, "  Updated:        %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))
}
